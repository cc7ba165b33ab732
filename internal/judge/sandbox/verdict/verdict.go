// Package verdict folds per-case executions into a submission outcome.
package verdict

import (
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
)

// Aggregate computes the terminal submission result from a compile
// outcome and the executed cases.
//
// Status selection follows a fixed precedence: compilation failure
// dominates everything, then wrong answer, time limit, memory limit,
// runtime error, and only a fully clean run is accepted. A submission
// with zero testcases is vacuously accepted.
func Aggregate(submissionID string, compile *result.CompileResult, cases []result.CaseExecution, casesTotal int) result.SubmissionResult {
	res := result.SubmissionResult{
		SubmissionID: submissionID,
		Compile:      compile,
		Cases:        cases,
		CasesDone:    len(cases),
		CasesTotal:   casesTotal,
	}

	if compile != nil && !compile.OK {
		res.Status = result.StatusCompilationError
		res.CasesDone = 0
		res.Cases = nil
		return res
	}

	var (
		wrongAnswer    bool
		timedOut       bool
		memoryExceeded bool
		runtimeError   bool
		allMeasured    = true
	)

	for _, c := range cases {
		switch {
		case c.TimedOut:
			timedOut = true
		case c.MemoryExceeded:
			memoryExceeded = true
		case c.Fault == result.FaultSignal:
			runtimeError = true
		case !c.Correct:
			wrongAnswer = true
		}

		if c.TimeMs > res.MaxTimeMs {
			res.MaxTimeMs = c.TimeMs
		}
		// Unmeasured cases are excluded from the memory maximum and
		// can never count toward passing the memory limit.
		if c.MemoryMeasured {
			if c.MemoryKB > res.MaxMemoryKB {
				res.MaxMemoryKB = c.MemoryKB
			}
		} else {
			allMeasured = false
		}
	}

	res.PassedTestCases = !wrongAnswer && !timedOut && !memoryExceeded && !runtimeError
	res.PassedTimeLimit = !timedOut
	res.PassedMemoryLimit = !memoryExceeded && allMeasured

	switch {
	case wrongAnswer:
		res.Status = result.StatusWrongAnswer
	case timedOut:
		res.Status = result.StatusTimeLimitExceeded
	case memoryExceeded:
		res.Status = result.StatusMemoryLimitExceeded
	case runtimeError:
		res.Status = result.StatusRuntimeError
	default:
		res.Status = result.StatusAccepted
	}
	return res
}
