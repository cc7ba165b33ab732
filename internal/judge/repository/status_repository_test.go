package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ZeroOneDeveloper/code01-judge/internal/common/cache"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/model"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/repository"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
	pkgerrors "github.com/ZeroOneDeveloper/code01-judge/pkg/errors"
)

func newTestRepo(t *testing.T) *repository.StatusRepository {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })
	return repository.NewStatusRepository(redisCache, time.Minute)
}

func pendingStatus(submissionID string, done, total int) model.JudgeStatusResponse {
	return model.JudgeStatusResponse{
		SubmissionID: submissionID,
		Status:       result.StatusPending,
		StatusName:   result.StatusPending.String(),
		Progress:     model.Progress{TotalCases: total, DoneCases: done},
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	status := pendingStatus("sub-1", 2, 5)
	if err := repo.Save(ctx, status); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := repo.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.SubmissionID != "sub-1" || loaded.Progress.DoneCases != 2 || loaded.Progress.TotalCases != 5 {
		t.Fatalf("unexpected round trip result: %+v", loaded)
	}
}

func TestGetUnknownSubmission(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for unknown submission")
	}
	if pkgerrors.GetCode(err) != pkgerrors.SubmissionNotFound {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
}

func TestSaveDropsBackwardsProgress(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, pendingStatus("sub-1", 3, 5)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.Save(ctx, pendingStatus("sub-1", 1, 5)); err != nil {
		t.Fatalf("stale save must be dropped silently, got %v", err)
	}
	loaded, err := repo.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Progress.DoneCases != 3 {
		t.Fatalf("stale update overwrote progress: %d", loaded.Progress.DoneCases)
	}
}

func TestSaveRefusesDowngradeFromTerminal(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	terminal := model.JudgeStatusResponse{
		SubmissionID: "sub-1",
		Status:       result.StatusAccepted,
		StatusName:   result.StatusAccepted.String(),
		Progress:     model.Progress{TotalCases: 5, DoneCases: 5},
	}
	if err := repo.Save(ctx, terminal); err != nil {
		t.Fatalf("save terminal: %v", err)
	}
	if err := repo.Save(ctx, pendingStatus("sub-1", 4, 5)); err != nil {
		t.Fatalf("late pending save must be dropped silently, got %v", err)
	}
	loaded, err := repo.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != result.StatusAccepted {
		t.Fatalf("terminal status was downgraded to %s", loaded.Status)
	}
}

func TestSaveAllowsTerminalOverwrite(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, pendingStatus("sub-1", 4, 5)); err != nil {
		t.Fatalf("save pending: %v", err)
	}
	terminal := model.JudgeStatusResponse{
		SubmissionID: "sub-1",
		Status:       result.StatusWrongAnswer,
		StatusName:   result.StatusWrongAnswer.String(),
		Progress:     model.Progress{TotalCases: 5, DoneCases: 5},
	}
	if err := repo.Save(ctx, terminal); err != nil {
		t.Fatalf("save terminal: %v", err)
	}
	loaded, err := repo.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != result.StatusWrongAnswer {
		t.Fatalf("expected terminal status stored, got %s", loaded.Status)
	}
}
