// Package sandbox defines the public call interface used by the judge service.
package sandbox

import (
	"context"

	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
)

// Service is the high-level sandbox entrypoint used by the judge layer.
type Service interface {
	Judge(ctx context.Context, req JudgeRequest) (result.SubmissionResult, error)
	Kill(ctx context.Context, submissionID string) error
}

// JudgeRequest contains all data needed to judge one submission.
// Test data arrives inline; the worker materializes it on disk.
type JudgeRequest struct {
	SubmissionID string
	LanguageID   string
	SourceCode   string

	// TimeLimitMs and MemoryLimitMB override the language profile
	// defaults when positive.
	TimeLimitMs   int64
	MemoryLimitMB int64

	Cases []TestCase

	// ExtraCompileFlags must be filtered by the caller before use.
	ExtraCompileFlags []string

	ReceivedAt int64
}

// TestCase pairs one input with its expected answer.
type TestCase struct {
	Input    string
	Expected string
}
