package model

import (
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
)

// Progress reports how far a judgment has advanced. DoneCases is
// monotonic: consumers never observe it decrease for one submission.
type Progress struct {
	TotalCases int `json:"total_cases"`
	DoneCases  int `json:"done_cases"`
}

// CaseResult is the externally visible per-case outcome.
type CaseResult struct {
	Index          int    `json:"index"`
	Correct        bool   `json:"correct"`
	TimedOut       bool   `json:"timed_out"`
	MemoryExceeded bool   `json:"memory_exceeded"`
	TimeMs         int64  `json:"time_ms"`
	MemoryKB       *int64 `json:"memory_kb"`
	ExitCode       int    `json:"exit_code"`
	Stdout         string `json:"stdout,omitempty"`
	Stderr         string `json:"stderr,omitempty"`
}

// JudgeStatusResponse is the status document stored per submission and
// returned from the status API.
type JudgeStatusResponse struct {
	SubmissionID      string            `json:"submission_id"`
	Status            result.StatusCode `json:"status"`
	StatusName        string            `json:"status_name"`
	PassedTestCases   bool              `json:"passed_test_cases"`
	PassedTimeLimit   bool              `json:"passed_time_limit"`
	PassedMemoryLimit bool              `json:"passed_memory_limit"`
	MaxTimeMs         int64             `json:"max_time_ms"`
	MaxMemoryKB       *int64            `json:"max_memory_kb"`
	Progress          Progress          `json:"progress"`
	Compile           *CompileOutput    `json:"compile,omitempty"`
	Cases             []CaseResult      `json:"cases,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	ReceivedAt        int64             `json:"received_at"`
	FinishedAt        int64             `json:"finished_at,omitempty"`
}

// CompileOutput carries compiler diagnostics for the submitter.
type CompileOutput struct {
	OK          bool   `json:"ok"`
	ExitCode    int    `json:"exit_code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// StatusEventType identifies the kind of status event.
type StatusEventType string

const (
	// StatusEventFinal indicates the final status event.
	StatusEventFinal StatusEventType = "final"
)

// StatusEvent carries status updates for async processing.
type StatusEvent struct {
	Type      StatusEventType     `json:"type"`
	Status    JudgeStatusResponse `json:"status"`
	CreatedAt int64               `json:"created_at"`
}

// StatusFromResult converts a terminal sandbox result into the stored
// status shape. Unmeasured memory is surfaced as null, never zero.
func StatusFromResult(res result.SubmissionResult) JudgeStatusResponse {
	resp := JudgeStatusResponse{
		SubmissionID:      res.SubmissionID,
		Status:            res.Status,
		StatusName:        res.Status.String(),
		PassedTestCases:   res.PassedTestCases,
		PassedTimeLimit:   res.PassedTimeLimit,
		PassedMemoryLimit: res.PassedMemoryLimit,
		MaxTimeMs:         res.MaxTimeMs,
		Progress: Progress{
			TotalCases: res.CasesTotal,
			DoneCases:  res.CasesDone,
		},
		ErrorMessage: res.Message,
		ReceivedAt:   res.ReceivedAt,
		FinishedAt:   res.FinishedAt,
	}
	if anyMeasured(res.Cases) {
		max := res.MaxMemoryKB
		resp.MaxMemoryKB = &max
	}
	if res.Compile != nil {
		resp.Compile = &CompileOutput{
			OK:          res.Compile.OK,
			ExitCode:    res.Compile.ExitCode,
			Diagnostics: res.Compile.Diagnostics,
		}
	}
	for _, c := range res.Cases {
		cr := CaseResult{
			Index:          c.Index,
			Correct:        c.Correct,
			TimedOut:       c.TimedOut,
			MemoryExceeded: c.MemoryExceeded,
			TimeMs:         c.TimeMs,
			ExitCode:       c.ExitCode,
			Stdout:         c.Stdout,
			Stderr:         c.Stderr,
		}
		if c.MemoryMeasured {
			mem := c.MemoryKB
			cr.MemoryKB = &mem
		}
		resp.Cases = append(resp.Cases, cr)
	}
	return resp
}

func anyMeasured(cases []result.CaseExecution) bool {
	for _, c := range cases {
		if c.MemoryMeasured {
			return true
		}
	}
	return false
}
