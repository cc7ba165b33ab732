package runner

import (
	"context"
	"reflect"
	"testing"

	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/profile"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/spec"
)

type fakeEngine struct {
	res result.RunResult
	err error
}

func (f *fakeEngine) Run(ctx context.Context, _ spec.RunSpec) (result.RunResult, error) {
	return f.res, f.err
}

func (f *fakeEngine) KillSubmission(ctx context.Context, submissionID string) error {
	return nil
}

func caseRequest(t *testing.T) CaseRequest {
	t.Helper()
	return CaseRequest{
		SubmissionID: "sub-1",
		Index:        0,
		Language: profile.LanguageSpec{
			ID:             "cpp17",
			SourceFile:     "main.cpp",
			BinaryFile:     "main",
			RunCmdTpl:      "{bin}",
			CompileEnabled: true,
		},
		Profile: profile.TaskProfile{
			TaskType:      "default",
			DefaultLimits: spec.ResourceLimit{CPUTimeMs: 1000, MemoryMB: 256},
		},
		BinaryDir: t.TempDir(),
		WorkDir:   t.TempDir(),
		Input:     "1 2\n",
		Expected:  "42",
	}
}

func TestRunCaseClassifiesFaults(t *testing.T) {
	tests := []struct {
		name           string
		res            result.RunResult
		timedOut       bool
		memoryExceeded bool
		correct        bool
		fault          result.FaultKind
	}{
		{
			name:     "wall clock kill",
			res:      result.RunResult{ExitCode: -1, TimedOut: true, WallTimeMs: 2500},
			timedOut: true,
			fault:    result.FaultTimeout,
		},
		{
			name:     "cpu time over limit",
			res:      result.RunResult{ExitCode: 0, TimeMs: 1500},
			timedOut: true,
			fault:    result.FaultTimeout,
		},
		{
			name:           "oom kill is not a timeout",
			res:            result.RunResult{ExitCode: -1, OomKilled: true, MemoryKB: 262144, MemoryMeasured: true},
			memoryExceeded: true,
			fault:          result.FaultOOM,
		},
		{
			name:           "measured memory over limit with clean exit",
			res:            result.RunResult{ExitCode: 0, MemoryKB: 300 * 1024, MemoryMeasured: true},
			memoryExceeded: true,
			fault:          result.FaultOOM,
		},
		{
			name:  "signal death under limits is a runtime fault",
			res:   result.RunResult{ExitCode: -1, MemoryKB: 1024, MemoryMeasured: true},
			fault: result.FaultSignal,
		},
		{
			name:  "nonzero exit is a runtime fault",
			res:   result.RunResult{ExitCode: 2, MemoryKB: 1024, MemoryMeasured: true},
			fault: result.FaultSignal,
		},
		{
			name:     "timeout wins over oom",
			res:      result.RunResult{ExitCode: -1, TimedOut: true, OomKilled: true, MemoryKB: 262144, MemoryMeasured: true},
			timedOut: true,
			fault:    result.FaultTimeout,
		},
		{
			name:    "accepted output",
			res:     result.RunResult{ExitCode: 0, TimeMs: 12, MemoryKB: 1024, MemoryMeasured: true, Stdout: "42\n"},
			correct: true,
			fault:   result.FaultNone,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRunner(&fakeEngine{res: tc.res})
			exec, err := r.RunCase(context.Background(), caseRequest(t))
			if err != nil {
				t.Fatalf("run case: %v", err)
			}
			if exec.TimedOut != tc.timedOut {
				t.Fatalf("TimedOut = %v, want %v", exec.TimedOut, tc.timedOut)
			}
			if exec.MemoryExceeded != tc.memoryExceeded {
				t.Fatalf("MemoryExceeded = %v, want %v", exec.MemoryExceeded, tc.memoryExceeded)
			}
			if exec.Correct != tc.correct {
				t.Fatalf("Correct = %v, want %v", exec.Correct, tc.correct)
			}
			if exec.Fault != tc.fault {
				t.Fatalf("Fault = %q, want %q", exec.Fault, tc.fault)
			}
		})
	}
}

func TestOutputsMatch(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
		ok   bool
	}{
		{"exact", "42\n", "42\n", true},
		{"trailing newline ignored", "42", "42\n", true},
		{"leading and trailing spaces ignored", "  42  ", "42", true},
		{"windows line ending trimmed", "42\r\n", "42", true},
		{"interior whitespace significant", "4 2", "42", false},
		{"interior newline significant", "a\nb", "a b", false},
		{"case sensitive", "Yes", "yes", false},
		{"both empty", "", "\n", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if OutputsMatch(tc.got, tc.want) != tc.ok {
				t.Fatalf("OutputsMatch(%q, %q) != %v", tc.got, tc.want, tc.ok)
			}
		})
	}
}

func TestBuildCommand(t *testing.T) {
	lang := profile.LanguageSpec{
		ID:         "cpp17",
		SourceFile: "main.cpp",
		BinaryFile: "main",
	}

	cmd, err := buildCommand("g++ -O2 {extraFlags} -o {bin} {src}", lang, []string{"-Wall", "-Wextra"})
	if err != nil {
		t.Fatalf("build command: %v", err)
	}
	want := []string{"g++", "-O2", "-Wall", "-Wextra", "-o", "/work/main", "/work/main.cpp"}
	if !reflect.DeepEqual(cmd, want) {
		t.Fatalf("expected %v, got %v", want, cmd)
	}
}

func TestBuildCommandWithoutFlagsPlaceholder(t *testing.T) {
	lang := profile.LanguageSpec{ID: "python3", SourceFile: "main.py"}
	cmd, err := buildCommand("python3 {src}", lang, []string{"-O3"})
	if err != nil {
		t.Fatalf("build command: %v", err)
	}
	want := []string{"python3", "/work/main.py"}
	if !reflect.DeepEqual(cmd, want) {
		t.Fatalf("flags must be dropped without a placeholder, got %v", cmd)
	}
}

func TestBuildCommandRejectsEmptyTemplate(t *testing.T) {
	if _, err := buildCommand("   ", profile.LanguageSpec{}, nil); err == nil {
		t.Fatal("expected error for blank template")
	}
}

func TestMergeLimitsOverridePrecedence(t *testing.T) {
	defaults := spec.ResourceLimit{CPUTimeMs: 1000, WallTimeMs: 3000, MemoryMB: 256, StackMB: 64, OutputMB: 16, PIDs: 16}
	override := spec.ResourceLimit{CPUTimeMs: 2000, MemoryMB: 512}

	merged := mergeLimits(defaults, override)
	if merged.CPUTimeMs != 2000 || merged.MemoryMB != 512 {
		t.Fatalf("override values not applied: %+v", merged)
	}
	if merged.WallTimeMs != 3000 || merged.StackMB != 64 || merged.OutputMB != 16 || merged.PIDs != 16 {
		t.Fatalf("defaults lost during merge: %+v", merged)
	}
}

func TestApplyMultipliersScalesTimeAndMemory(t *testing.T) {
	lang := profile.LanguageSpec{TimeMultiplier: 3, MemoryMultiplier: 2}
	limits := spec.ResourceLimit{CPUTimeMs: 1000, WallTimeMs: 3000, MemoryMB: 256, PIDs: 16}

	scaled := applyMultipliers(limits, lang)
	if scaled.CPUTimeMs != 3000 || scaled.WallTimeMs != 9000 {
		t.Fatalf("time limits not scaled: %+v", scaled)
	}
	if scaled.MemoryMB != 512 {
		t.Fatalf("memory limit not scaled: %+v", scaled)
	}
	if scaled.PIDs != 16 {
		t.Fatalf("pid limit must not scale: %+v", scaled)
	}
}

func TestScaleLimitRoundsUp(t *testing.T) {
	if got := scaleLimit(100, 1.5); got != 150 {
		t.Fatalf("expected 150, got %d", got)
	}
	if got := scaleLimit(3, 1.4); got != 5 {
		t.Fatalf("expected ceil(4.2)=5, got %d", got)
	}
	if got := scaleLimit(0, 2); got != 0 {
		t.Fatalf("zero limit must stay zero, got %d", got)
	}
	if got := scaleLimit(100, 0); got != 100 {
		t.Fatalf("zero multiplier must keep the value, got %d", got)
	}
}
