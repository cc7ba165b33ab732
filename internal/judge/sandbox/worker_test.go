package sandbox_test

import (
	"context"
	"sync"
	"testing"

	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/profile"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/runner"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/workspace"
	pkgerrors "github.com/ZeroOneDeveloper/code01-judge/pkg/errors"
)

type fakeRunner struct {
	mu         sync.Mutex
	compileRes result.CompileResult
	compileErr error
	caseRes    map[int]result.CaseExecution
	caseErr    map[int]error
	caseReqs   []runner.CaseRequest
}

func (f *fakeRunner) Compile(ctx context.Context, req runner.CompileRequest) (result.CompileResult, error) {
	return f.compileRes, f.compileErr
}

func (f *fakeRunner) RunCase(ctx context.Context, req runner.CaseRequest) (result.CaseExecution, error) {
	f.mu.Lock()
	f.caseReqs = append(f.caseReqs, req)
	f.mu.Unlock()
	if err, ok := f.caseErr[req.Index]; ok && err != nil {
		return result.CaseExecution{}, err
	}
	if res, ok := f.caseRes[req.Index]; ok {
		return res, nil
	}
	return result.CaseExecution{Index: req.Index, Correct: true, TimeMs: 5, MemoryKB: 1024, MemoryMeasured: true}, nil
}

type fakeLangRepo struct {
	spec profile.LanguageSpec
	err  error
}

func (f fakeLangRepo) GetLanguageSpec(ctx context.Context, id string) (profile.LanguageSpec, error) {
	return f.spec, f.err
}

type fakeProfileRepo struct {
	profiles map[profile.TaskType]profile.TaskProfile
	err      error
}

func (f fakeProfileRepo) GetTaskProfile(ctx context.Context, taskType profile.TaskType, languageID string) (profile.TaskProfile, error) {
	if f.err != nil {
		return profile.TaskProfile{}, f.err
	}
	if prof, ok := f.profiles[taskType]; ok {
		return prof, nil
	}
	return profile.TaskProfile{}, pkgerrors.New(pkgerrors.NotFound)
}

type recordedUpdate struct {
	status result.StatusCode
	done   int
	total  int
}

type fakeReporter struct {
	mu      sync.Mutex
	updates []recordedUpdate
}

func (f *fakeReporter) ReportStatus(ctx context.Context, update sandbox.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, recordedUpdate{status: update.Status, done: update.DoneCases, total: update.TotalCases})
	return nil
}

func compiledLang() profile.LanguageSpec {
	return profile.LanguageSpec{
		ID:             "cpp17",
		SourceFile:     "main.cpp",
		BinaryFile:     "main",
		CompileEnabled: true,
		CompileCmdTpl:  "g++ -o {bin} {src}",
		RunCmdTpl:      "{bin}",
	}
}

func bothProfiles() fakeProfileRepo {
	return fakeProfileRepo{profiles: map[profile.TaskType]profile.TaskProfile{
		profile.TaskTypeCompile: {LanguageID: "cpp17", TaskType: profile.TaskTypeCompile},
		profile.TaskTypeRun:     {LanguageID: "cpp17", TaskType: profile.TaskTypeRun},
	}}
}

func newTestWorker(t *testing.T, r runner.Runner) *sandbox.Worker {
	t.Helper()
	workspaces, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("workspace manager: %v", err)
	}
	return sandbox.NewWorker(r, fakeLangRepo{spec: compiledLang()}, bothProfiles(), workspaces, sandbox.WorkerConfig{CaseParallelism: 2})
}

func judgeRequest(cases int) sandbox.JudgeRequest {
	req := sandbox.JudgeRequest{
		SubmissionID:  "sub-1",
		LanguageID:    "cpp17",
		SourceCode:    "int main(){return 0;}",
		TimeLimitMs:   1000,
		MemoryLimitMB: 256,
	}
	for i := 0; i < cases; i++ {
		req.Cases = append(req.Cases, sandbox.TestCase{Input: "1\n", Expected: "1\n"})
	}
	return req
}

func TestExecuteAllCasesPass(t *testing.T) {
	r := &fakeRunner{compileRes: result.CompileResult{OK: true}}
	worker := newTestWorker(t, r)

	res, err := worker.Execute(context.Background(), judgeRequest(3))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != result.StatusAccepted {
		t.Fatalf("expected Accepted, got %s", res.Status)
	}
	if res.CasesDone != 3 || res.CasesTotal != 3 {
		t.Fatalf("expected 3/3 cases, got %d/%d", res.CasesDone, res.CasesTotal)
	}
	if res.ReceivedAt == 0 || res.FinishedAt == 0 {
		t.Fatalf("expected timestamps set, got %+v", res)
	}
	if len(r.caseReqs) != 3 {
		t.Fatalf("expected 3 case executions, got %d", len(r.caseReqs))
	}
}

func TestExecuteCompileFailureShortCircuits(t *testing.T) {
	r := &fakeRunner{compileRes: result.CompileResult{OK: false, ExitCode: 1, Diagnostics: "syntax error"}}
	worker := newTestWorker(t, r)

	res, err := worker.Execute(context.Background(), judgeRequest(2))
	if err != nil {
		t.Fatalf("compile failure must not surface as error, got %v", err)
	}
	if res.Status != result.StatusCompilationError {
		t.Fatalf("expected CompilationError, got %s", res.Status)
	}
	if len(r.caseReqs) != 0 {
		t.Fatalf("expected no cases after compile failure, ran %d", len(r.caseReqs))
	}
	if res.Compile == nil || res.Compile.Diagnostics != "syntax error" {
		t.Fatalf("expected compiler diagnostics preserved, got %+v", res.Compile)
	}
}

func TestExecuteCaseErrorYieldsInternalError(t *testing.T) {
	r := &fakeRunner{
		compileRes: result.CompileResult{OK: true},
		caseErr:    map[int]error{1: pkgerrors.New(pkgerrors.JudgeSystemError)},
	}
	worker := newTestWorker(t, r)

	res, err := worker.Execute(context.Background(), judgeRequest(3))
	if err == nil {
		t.Fatal("expected error from failed case execution")
	}
	if res.Status != result.StatusInternalError {
		t.Fatalf("expected InternalError result, got %s", res.Status)
	}
	if res.SubmissionID != "sub-1" {
		t.Fatalf("terminal result must identify the submission, got %q", res.SubmissionID)
	}
}

func TestExecuteUnknownLanguage(t *testing.T) {
	workspaces, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("workspace manager: %v", err)
	}
	worker := sandbox.NewWorker(
		&fakeRunner{},
		fakeLangRepo{err: pkgerrors.New(pkgerrors.LanguageNotSupported)},
		bothProfiles(),
		workspaces,
		sandbox.WorkerConfig{},
	)

	res, err := worker.Execute(context.Background(), judgeRequest(1))
	if err == nil {
		t.Fatal("expected error for unknown language")
	}
	if res.Status != result.StatusInternalError {
		t.Fatalf("expected InternalError result, got %s", res.Status)
	}
}

func TestExecuteValidatesRequest(t *testing.T) {
	worker := newTestWorker(t, &fakeRunner{compileRes: result.CompileResult{OK: true}})

	bad := judgeRequest(1)
	bad.SourceCode = ""
	if _, err := worker.Execute(context.Background(), bad); err == nil {
		t.Fatal("expected validation error for empty source")
	}

	negative := judgeRequest(1)
	negative.TimeLimitMs = -5
	if _, err := worker.Execute(context.Background(), negative); err == nil {
		t.Fatal("expected validation error for negative limit")
	}
}

func TestExecuteReportsMonotonicProgress(t *testing.T) {
	r := &fakeRunner{compileRes: result.CompileResult{OK: true}}
	worker := newTestWorker(t, r)
	reporter := &fakeReporter{}
	worker.SetStatusReporter(reporter)

	res, err := worker.Execute(context.Background(), judgeRequest(4))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != result.StatusAccepted {
		t.Fatalf("expected Accepted, got %s", res.Status)
	}

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	if len(reporter.updates) == 0 {
		t.Fatal("expected status updates")
	}
	lastDone := -1
	for _, u := range reporter.updates[:len(reporter.updates)-1] {
		if u.status != result.StatusPending {
			t.Fatalf("intermediate update must be Pending, got %s", u.status)
		}
		if u.done < lastDone {
			t.Fatalf("done count went backwards: %+v", reporter.updates)
		}
		lastDone = u.done
	}
	final := reporter.updates[len(reporter.updates)-1]
	if final.status != result.StatusAccepted {
		t.Fatalf("final update must be terminal, got %s", final.status)
	}
	if final.done != 4 || final.total != 4 {
		t.Fatalf("final update must report 4/4, got %d/%d", final.done, final.total)
	}
}
