package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ZeroOneDeveloper/code01-judge/internal/common/db"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/model"
	appErr "github.com/ZeroOneDeveloper/code01-judge/pkg/errors"
)

// SubmissionSink writes terminal judge outcomes to MySQL so results
// survive the Redis status TTL.
type SubmissionSink struct {
	database db.Database
}

// NewSubmissionSink creates a sink backed by the given database.
func NewSubmissionSink(database db.Database) *SubmissionSink {
	return &SubmissionSink{database: database}
}

const upsertResultSQL = `
INSERT INTO submission_results
	(submission_id, status, passed_test_cases, passed_time_limit, passed_memory_limit,
	 max_time_ms, max_memory_kb, cases_done, cases_total, detail, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FROM_UNIXTIME(?))
ON DUPLICATE KEY UPDATE
	status = VALUES(status),
	passed_test_cases = VALUES(passed_test_cases),
	passed_time_limit = VALUES(passed_time_limit),
	passed_memory_limit = VALUES(passed_memory_limit),
	max_time_ms = VALUES(max_time_ms),
	max_memory_kb = VALUES(max_memory_kb),
	cases_done = VALUES(cases_done),
	cases_total = VALUES(cases_total),
	detail = VALUES(detail),
	finished_at = VALUES(finished_at)`

// SaveTerminal persists one terminal status document. Non-terminal
// statuses are rejected; progress belongs in Redis only.
func (s *SubmissionSink) SaveTerminal(ctx context.Context, status model.JudgeStatusResponse) error {
	if s == nil || s.database == nil {
		return appErr.New(appErr.DatabaseError).WithMessage("submission sink is not configured")
	}
	if status.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if !status.Status.Terminal() {
		return appErr.New(appErr.InvalidParams).WithMessage("only terminal statuses are persisted")
	}

	detail, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status detail failed: %w", err)
	}

	var maxMemoryKB interface{}
	if status.MaxMemoryKB != nil {
		maxMemoryKB = *status.MaxMemoryKB
	}

	_, err = s.database.Exec(ctx, upsertResultSQL,
		status.SubmissionID,
		int(status.Status),
		status.PassedTestCases,
		status.PassedTimeLimit,
		status.PassedMemoryLimit,
		status.MaxTimeMs,
		maxMemoryKB,
		status.Progress.DoneCases,
		status.Progress.TotalCases,
		string(detail),
		status.FinishedAt,
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "persist submission result failed")
	}
	return nil
}

// GetTerminal loads a persisted terminal result.
func (s *SubmissionSink) GetTerminal(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error) {
	if s == nil || s.database == nil {
		return model.JudgeStatusResponse{}, appErr.New(appErr.DatabaseError).WithMessage("submission sink is not configured")
	}
	if submissionID == "" {
		return model.JudgeStatusResponse{}, appErr.ValidationError("submission_id", "required")
	}

	var detail string
	row := s.database.QueryRow(ctx,
		"SELECT detail FROM submission_results WHERE submission_id = ?", submissionID)
	if err := row.Scan(&detail); err != nil {
		if db.IsNoRows(err) {
			return model.JudgeStatusResponse{}, appErr.New(appErr.SubmissionNotFound).WithMessage("submission result not found")
		}
		return model.JudgeStatusResponse{}, appErr.Wrapf(err, appErr.DatabaseError, "load submission result failed")
	}

	var status model.JudgeStatusResponse
	if err := json.Unmarshal([]byte(detail), &status); err != nil {
		return model.JudgeStatusResponse{}, appErr.Wrapf(err, appErr.DatabaseError, "decode submission result failed")
	}
	return status, nil
}
