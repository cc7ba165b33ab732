package verdict_test

import (
	"testing"

	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/verdict"
)

func okCompile() *result.CompileResult {
	return &result.CompileResult{OK: true}
}

func passingCase(index int) result.CaseExecution {
	return result.CaseExecution{
		Index:          index,
		Correct:        true,
		TimeMs:         10,
		MemoryKB:       2048,
		MemoryMeasured: true,
	}
}

func TestAggregateAccepted(t *testing.T) {
	cases := []result.CaseExecution{passingCase(0), passingCase(1)}
	cases[1].TimeMs = 42
	cases[1].MemoryKB = 4096

	res := verdict.Aggregate("sub-1", okCompile(), cases, 2)
	if res.Status != result.StatusAccepted {
		t.Fatalf("expected Accepted, got %s", res.Status)
	}
	if !res.PassedTestCases || !res.PassedTimeLimit || !res.PassedMemoryLimit {
		t.Fatalf("expected all pass flags set, got %+v", res)
	}
	if res.MaxTimeMs != 42 {
		t.Fatalf("expected max time 42, got %d", res.MaxTimeMs)
	}
	if res.MaxMemoryKB != 4096 {
		t.Fatalf("expected max memory 4096, got %d", res.MaxMemoryKB)
	}
	if res.CasesDone != 2 || res.CasesTotal != 2 {
		t.Fatalf("expected 2/2 cases, got %d/%d", res.CasesDone, res.CasesTotal)
	}
}

func TestAggregateCompileErrorDominates(t *testing.T) {
	compile := &result.CompileResult{OK: false, ExitCode: 1, Diagnostics: "main.cpp:1: error"}
	cases := []result.CaseExecution{passingCase(0)}

	res := verdict.Aggregate("sub-1", compile, cases, 1)
	if res.Status != result.StatusCompilationError {
		t.Fatalf("expected CompilationError, got %s", res.Status)
	}
	if res.CasesDone != 0 {
		t.Fatalf("expected no cases counted after CE, got %d", res.CasesDone)
	}
	if res.Cases != nil {
		t.Fatalf("expected case list dropped after CE")
	}
}

func TestAggregateStatusPriority(t *testing.T) {
	wrong := passingCase(0)
	wrong.Correct = false

	timedOut := passingCase(1)
	timedOut.Correct = false
	timedOut.TimedOut = true
	timedOut.Fault = result.FaultTimeout

	oom := passingCase(2)
	oom.Correct = false
	oom.MemoryExceeded = true
	oom.Fault = result.FaultOOM

	crashed := passingCase(3)
	crashed.Correct = false
	crashed.ExitCode = 139
	crashed.Fault = result.FaultSignal

	tests := []struct {
		name  string
		cases []result.CaseExecution
		want  result.StatusCode
	}{
		{"wrong answer beats timeout", []result.CaseExecution{wrong, timedOut}, result.StatusWrongAnswer},
		{"wrong answer beats oom", []result.CaseExecution{oom, wrong}, result.StatusWrongAnswer},
		{"timeout beats oom", []result.CaseExecution{timedOut, oom}, result.StatusTimeLimitExceeded},
		{"timeout beats runtime error", []result.CaseExecution{crashed, timedOut}, result.StatusTimeLimitExceeded},
		{"oom beats runtime error", []result.CaseExecution{crashed, oom}, result.StatusMemoryLimitExceeded},
		{"runtime error alone", []result.CaseExecution{passingCase(0), crashed}, result.StatusRuntimeError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := verdict.Aggregate("sub-1", okCompile(), tc.cases, len(tc.cases))
			if res.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, res.Status)
			}
			if res.PassedTestCases {
				t.Fatalf("expected passed_test_cases false for failing run")
			}
		})
	}
}

func TestAggregateTimeoutClearsTimeFlagOnly(t *testing.T) {
	timedOut := passingCase(0)
	timedOut.Correct = false
	timedOut.TimedOut = true
	timedOut.Fault = result.FaultTimeout

	res := verdict.Aggregate("sub-1", okCompile(), []result.CaseExecution{passingCase(1), timedOut}, 2)
	if res.PassedTimeLimit {
		t.Fatalf("expected passed_time_limit false when any case timed out")
	}
	if !res.PassedMemoryLimit {
		t.Fatalf("expected passed_memory_limit unaffected by timeout, got %+v", res)
	}
}

func TestAggregateUnmeasuredMemoryIsConservative(t *testing.T) {
	unmeasured := passingCase(0)
	unmeasured.MemoryKB = 0
	unmeasured.MemoryMeasured = false

	huge := passingCase(1)
	huge.MemoryKB = 999999

	res := verdict.Aggregate("sub-1", okCompile(), []result.CaseExecution{unmeasured, huge}, 2)
	if res.Status != result.StatusAccepted {
		t.Fatalf("expected Accepted, got %s", res.Status)
	}
	if res.PassedMemoryLimit {
		t.Fatalf("unmeasured memory must never count as passing the memory limit")
	}
	if res.MaxMemoryKB != 999999 {
		t.Fatalf("expected max from measured cases only, got %d", res.MaxMemoryKB)
	}
}

func TestAggregateZeroCasesVacuouslyAccepted(t *testing.T) {
	res := verdict.Aggregate("sub-1", okCompile(), nil, 0)
	if res.Status != result.StatusAccepted {
		t.Fatalf("expected Accepted for zero cases, got %s", res.Status)
	}
	if !res.PassedTestCases || !res.PassedTimeLimit || !res.PassedMemoryLimit {
		t.Fatalf("expected vacuous pass flags, got %+v", res)
	}
	if res.MaxTimeMs != 0 || res.MaxMemoryKB != 0 {
		t.Fatalf("expected zero maxima, got time=%d memory=%d", res.MaxTimeMs, res.MaxMemoryKB)
	}
}
