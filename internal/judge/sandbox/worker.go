package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/config"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/executor"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/profile"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/runner"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/spec"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/verdict"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/workspace"
	appErr "github.com/ZeroOneDeveloper/code01-judge/pkg/errors"
	"github.com/ZeroOneDeveloper/code01-judge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	// wallSlackMs pads the wall clock limit over the CPU limit so a
	// briefly descheduled program is not killed as a false timeout.
	wallSlackMs = 1000

	// deadlineOverheadMs covers workspace setup and result collection
	// inside the per-submission ceiling.
	deadlineOverheadMs = 5000

	defaultCompileCeilingMs = 15000
)

// WorkerConfig tunes the per-submission orchestration.
type WorkerConfig struct {
	// CaseParallelism bounds concurrent testcase executions within one
	// submission.
	CaseParallelism int
	// CompileCeilingMs caps compilation wall time regardless of the
	// submission's own time limit.
	CompileCeilingMs int64
}

// Worker runs the full judge workflow for one submission: compile,
// execute every testcase, aggregate the verdict.
type Worker struct {
	runner         runner.Runner
	langRepo       config.LanguageSpecRepository
	profileRepo    config.TaskProfileRepository
	workspaces     *workspace.Manager
	exec           *executor.Executor
	statusReporter StatusReporter
	cfg            WorkerConfig
}

// NewWorker creates a new worker with required dependencies.
func NewWorker(
	run runner.Runner,
	langRepo config.LanguageSpecRepository,
	profileRepo config.TaskProfileRepository,
	workspaces *workspace.Manager,
	cfg WorkerConfig,
) *Worker {
	if cfg.CaseParallelism < 1 {
		cfg.CaseParallelism = 1
	}
	if cfg.CompileCeilingMs <= 0 {
		cfg.CompileCeilingMs = defaultCompileCeilingMs
	}
	return &Worker{
		runner:      run,
		langRepo:    langRepo,
		profileRepo: profileRepo,
		workspaces:  workspaces,
		exec:        executor.New(cfg.CaseParallelism),
		cfg:         cfg,
	}
}

// SetStatusReporter injects a status reporter for intermediate updates.
func (w *Worker) SetStatusReporter(reporter StatusReporter) {
	w.statusReporter = reporter
}

// Execute runs a full judge workflow for one submission. A returned
// error always comes with an InternalError result so callers can
// persist a terminal state either way.
func (w *Worker) Execute(ctx context.Context, req JudgeRequest) (res result.SubmissionResult, err error) {
	receivedAt := req.ReceivedAt
	if receivedAt == 0 {
		receivedAt = time.Now().Unix()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "judge worker panic", zap.Any("panic", r), zap.String("submission_id", req.SubmissionID))
			err = appErr.Newf(appErr.JudgeSystemError, "judge worker panic: %v", r)
			res = w.internalFailure(req.SubmissionID, receivedAt, len(req.Cases), err)
		}
		res.ReceivedAt = receivedAt
		if res.FinishedAt == 0 {
			res.FinishedAt = time.Now().Unix()
		}
	}()

	if err := validateJudgeRequest(req); err != nil {
		return w.internalFailure(req.SubmissionID, receivedAt, len(req.Cases), err), err
	}
	if w.runner == nil || w.langRepo == nil || w.profileRepo == nil || w.workspaces == nil {
		err := appErr.New(appErr.JudgeSystemError).WithMessage("worker dependencies are not initialized")
		return w.internalFailure(req.SubmissionID, receivedAt, len(req.Cases), err), err
	}

	lang, err := w.langRepo.GetLanguageSpec(ctx, req.LanguageID)
	if err != nil {
		return w.internalFailure(req.SubmissionID, receivedAt, len(req.Cases), err), err
	}
	runProfile, err := w.profileRepo.GetTaskProfile(ctx, profile.TaskTypeRun, lang.ID)
	if err != nil {
		return w.internalFailure(req.SubmissionID, receivedAt, len(req.Cases), err), err
	}
	compileProfile, err := w.profileRepo.GetTaskProfile(ctx, profile.TaskTypeCompile, lang.ID)
	if err != nil {
		return w.internalFailure(req.SubmissionID, receivedAt, len(req.Cases), err), err
	}

	ws, err := w.workspaces.Allocate(req.SubmissionID)
	if err != nil {
		return w.internalFailure(req.SubmissionID, receivedAt, len(req.Cases), err), err
	}
	defer func() {
		if releaseErr := ws.Release(); releaseErr != nil {
			logger.Warn(ctx, "workspace release failed", zap.String("submission_id", req.SubmissionID), zap.Error(releaseErr))
		}
	}()

	total := len(req.Cases)
	w.reportStatus(ctx, req.SubmissionID, result.StatusPending, total, 0, receivedAt, 0)

	// Every submission gets a hard ceiling so one hung sandbox cannot
	// pin a worker slot forever.
	runCtx, cancel := context.WithTimeout(ctx, w.submissionCeiling(req, total))
	defer cancel()

	compileRes, compileErr := w.runner.Compile(runCtx, runner.CompileRequest{
		SubmissionID:      req.SubmissionID,
		Language:          lang,
		Profile:           compileProfile,
		WorkDir:           ws.CompileDir(),
		SourceCode:        req.SourceCode,
		ExtraCompileFlags: req.ExtraCompileFlags,
		Limits:            spec.ResourceLimit{WallTimeMs: w.cfg.CompileCeilingMs},
	})
	if compileErr != nil {
		return w.internalFailure(req.SubmissionID, receivedAt, total, compileErr), compileErr
	}
	if !compileRes.OK {
		res := verdict.Aggregate(req.SubmissionID, &compileRes, nil, total)
		res.FinishedAt = time.Now().Unix()
		w.reportTerminal(ctx, res, receivedAt)
		return res, nil
	}

	caseLimits := w.caseLimits(req)
	cases, execErr := w.exec.Run(runCtx, total, func(caseCtx context.Context, index int) (result.CaseExecution, error) {
		return w.runner.RunCase(caseCtx, runner.CaseRequest{
			SubmissionID: req.SubmissionID,
			Index:        index,
			Language:     lang,
			Profile:      runProfile,
			BinaryDir:    ws.CompileDir(),
			WorkDir:      ws.CaseDir(index),
			Input:        req.Cases[index].Input,
			Expected:     req.Cases[index].Expected,
			Limits:       caseLimits,
		})
	}, func(done, caseTotal int) {
		w.reportStatus(ctx, req.SubmissionID, result.StatusPending, caseTotal, done, receivedAt, 0)
	})
	if execErr != nil {
		return w.internalFailure(req.SubmissionID, receivedAt, total, execErr), execErr
	}

	res = verdict.Aggregate(req.SubmissionID, &compileRes, cases, total)
	res.FinishedAt = time.Now().Unix()
	w.reportTerminal(ctx, res, receivedAt)
	return res, nil
}

func (w *Worker) caseLimits(req JudgeRequest) spec.ResourceLimit {
	limits := spec.ResourceLimit{
		CPUTimeMs: req.TimeLimitMs,
		MemoryMB:  req.MemoryLimitMB,
	}
	if req.TimeLimitMs > 0 {
		limits.WallTimeMs = 2*req.TimeLimitMs + wallSlackMs
	}
	return limits
}

// submissionCeiling bounds the whole pipeline: compile ceiling plus the
// sum of per-case wall limits plus fixed overhead. Case parallelism can
// only finish earlier than this.
func (w *Worker) submissionCeiling(req JudgeRequest, total int) time.Duration {
	perCaseWall := int64(0)
	if req.TimeLimitMs > 0 {
		perCaseWall = 2*req.TimeLimitMs + wallSlackMs
	} else {
		perCaseWall = 2 * defaultCompileCeilingMs
	}
	totalMs := w.cfg.CompileCeilingMs + perCaseWall*int64(total) + deadlineOverheadMs
	return time.Duration(totalMs) * time.Millisecond
}

func (w *Worker) internalFailure(submissionID string, receivedAt int64, total int, cause error) result.SubmissionResult {
	res := result.SubmissionResult{
		SubmissionID: submissionID,
		Status:       result.StatusInternalError,
		CasesTotal:   total,
		FinishedAt:   time.Now().Unix(),
	}
	if cause != nil {
		res.Message = cause.Error()
	}
	return res
}

func (w *Worker) reportStatus(ctx context.Context, submissionID string, status result.StatusCode, total, done int, receivedAt, finishedAt int64) {
	if w.statusReporter == nil {
		return
	}
	_ = w.statusReporter.ReportStatus(ctx, StatusUpdate{
		SubmissionID: submissionID,
		Status:       status,
		TotalCases:   total,
		DoneCases:    done,
		ReceivedAt:   receivedAt,
		FinishedAt:   finishedAt,
	})
}

func (w *Worker) reportTerminal(ctx context.Context, res result.SubmissionResult, receivedAt int64) {
	w.reportStatus(ctx, res.SubmissionID, res.Status, res.CasesTotal, res.CasesDone, receivedAt, res.FinishedAt)
}

func validateJudgeRequest(req JudgeRequest) error {
	if req.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if req.LanguageID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	if req.SourceCode == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if req.TimeLimitMs < 0 || req.MemoryLimitMB < 0 {
		return appErr.New(appErr.InvalidParams).WithMessage(fmt.Sprintf(
			"limits must not be negative: time=%d memory=%d", req.TimeLimitMs, req.MemoryLimitMB))
	}
	return nil
}
