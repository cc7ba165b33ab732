// Package result defines sandbox execution results and submission outcomes.
package result

// StatusCode is the externally visible outcome of a submission.
// The ordinal values are a wire contract shared with API clients and
// database rows. Never reorder or renumber them.
type StatusCode int

const (
	StatusPending StatusCode = iota
	StatusAccepted
	StatusWrongAnswer
	StatusTimeLimitExceeded
	StatusMemoryLimitExceeded
	StatusRuntimeError
	StatusCompilationError
	StatusInternalError
)

var statusNames = map[StatusCode]string{
	StatusPending:             "Pending",
	StatusAccepted:            "Accepted",
	StatusWrongAnswer:         "WrongAnswer",
	StatusTimeLimitExceeded:   "TimeLimitExceeded",
	StatusMemoryLimitExceeded: "MemoryLimitExceeded",
	StatusRuntimeError:        "RuntimeError",
	StatusCompilationError:    "CompilationError",
	StatusInternalError:       "InternalError",
}

func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether the status is a final outcome.
func (s StatusCode) Terminal() bool {
	return s != StatusPending
}

// FaultKind classifies why a case execution did not produce a normal result.
type FaultKind string

const (
	FaultNone    FaultKind = ""
	FaultTimeout FaultKind = "timeout"
	FaultOOM     FaultKind = "oom"
	FaultSignal  FaultKind = "signal"
	FaultSystem  FaultKind = "system"
)

// RunResult captures raw sandbox execution data for one process run.
type RunResult struct {
	ExitCode int
	// TimedOut is set when the wall-clock watchdog killed the process.
	// ExitCode alone cannot distinguish this: any signal death reports
	// -1, including OOM kills and crashes.
	TimedOut bool
	// TimeMs is CPU time, WallTimeMs is elapsed real time.
	TimeMs     int64
	WallTimeMs int64
	// MemoryKB is the peak resident set size. It is only meaningful
	// when MemoryMeasured is true; an unmeasured run must never be
	// treated as having satisfied the memory limit.
	MemoryKB       int64
	MemoryMeasured bool
	OutputKB       int64
	Stdout         string
	Stderr         string
	OomKilled      bool
}

// CompileResult contains compilation outcomes.
type CompileResult struct {
	OK       bool
	ExitCode int
	TimeMs   int64
	// Diagnostics holds compiler stderr shown to the submitter.
	Diagnostics string
	Error       string
}

// CaseExecution contains the per-testcase execution outcome.
type CaseExecution struct {
	Index          int
	Correct        bool
	TimedOut       bool
	MemoryExceeded bool
	TimeMs         int64
	MemoryKB       int64
	MemoryMeasured bool
	ExitCode       int
	Fault          FaultKind
	Stdout         string
	Stderr         string
}

// SubmissionResult is the unified terminal outcome for a submission.
type SubmissionResult struct {
	SubmissionID string
	Status       StatusCode

	PassedTestCases   bool
	PassedTimeLimit   bool
	PassedMemoryLimit bool

	// MaxTimeMs is the maximum wall time across executed cases.
	MaxTimeMs int64
	// MaxMemoryKB is the maximum peak memory across cases that were
	// actually measured. Zero when no case produced a measurement.
	MaxMemoryKB int64

	CasesDone  int
	CasesTotal int

	Compile *CompileResult
	Cases   []CaseExecution

	// Message carries operator-facing detail for internal errors.
	Message string

	ReceivedAt int64
	FinishedAt int64
}
