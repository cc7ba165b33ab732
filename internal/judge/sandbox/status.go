// Package sandbox provides status reporting hooks for judge progress.
package sandbox

import (
	"context"

	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
)

// StatusUpdate carries intermediate judge status data.
type StatusUpdate struct {
	SubmissionID string
	Status       result.StatusCode
	TotalCases   int
	DoneCases    int
	ReceivedAt   int64
	FinishedAt   int64
}

// StatusReporter persists intermediate status updates.
type StatusReporter interface {
	ReportStatus(ctx context.Context, update StatusUpdate) error
}
