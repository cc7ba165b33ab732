// Package service consumes judge tasks from the message queue and
// drives the sandbox worker.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ZeroOneDeveloper/code01-judge/internal/common/mq"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/cache"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/model"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/progress"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/repository"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
	appErr "github.com/ZeroOneDeveloper/code01-judge/pkg/errors"
	"github.com/ZeroOneDeveloper/code01-judge/pkg/utils/logger"
)

// Service handles judge tasks.
type Service struct {
	worker        *sandbox.Worker
	statusRepo    *repository.StatusRepository
	sink          *repository.SubmissionSink
	publisher     repository.StatusEventPublisher
	broker        *progress.Broker
	dataCache     *cache.DataPackCache
	workerTimeout time.Duration
	statusTimeout time.Duration
	sem           chan struct{}
}

// Config holds service dependencies and settings.
type Config struct {
	Worker        *sandbox.Worker
	StatusRepo    *repository.StatusRepository
	Sink          *repository.SubmissionSink
	Publisher     repository.StatusEventPublisher
	Broker        *progress.Broker
	DataCache     *cache.DataPackCache
	WorkerTimeout time.Duration
	StatusTimeout time.Duration
	PoolSize      int
}

// NewService creates a new judge service. The worker's status
// reporter is wired here so per-case progress reaches Redis and the
// websocket broker.
func NewService(cfg Config) (*Service, error) {
	if cfg.Worker == nil {
		return nil, fmt.Errorf("worker is required")
	}
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	s := &Service{
		worker:        cfg.Worker,
		statusRepo:    cfg.StatusRepo,
		sink:          cfg.Sink,
		publisher:     cfg.Publisher,
		broker:        cfg.Broker,
		dataCache:     cfg.DataCache,
		workerTimeout: cfg.WorkerTimeout,
		statusTimeout: cfg.StatusTimeout,
		sem:           make(chan struct{}, poolSize),
	}
	cfg.Worker.SetStatusReporter(&progressReporter{service: s})
	return s, nil
}

// HandleMessage processes one judge task message.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var payload model.JudgeMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "decode message failed")
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	receivedAt := time.Now().Unix()
	pending := model.JudgeStatusResponse{
		SubmissionID: payload.SubmissionID,
		Status:       result.StatusPending,
		StatusName:   result.StatusPending.String(),
		ReceivedAt:   receivedAt,
	}
	if err := s.saveStatus(ctx, pending); err != nil {
		return err
	}
	s.publishProgress(pending)

	if err := s.acquireSlot(ctx); err != nil {
		return s.handleFailure(ctx, payload.SubmissionID, receivedAt, err)
	}
	defer s.releaseSlot()

	cases, err := s.resolveCases(ctx, payload)
	if err != nil {
		return s.handleFailure(ctx, payload.SubmissionID, receivedAt, err)
	}

	judgeReq := sandbox.JudgeRequest{
		SubmissionID:      payload.SubmissionID,
		LanguageID:        payload.LanguageID,
		SourceCode:        payload.SourceCode,
		TimeLimitMs:       payload.TimeLimitMs,
		MemoryLimitMB:     payload.MemoryLimitMB,
		Cases:             cases,
		ExtraCompileFlags: payload.ExtraCompileFlags,
		ReceivedAt:        receivedAt,
	}

	ctxWorker := ctx
	if s.workerTimeout > 0 {
		var cancel context.CancelFunc
		ctxWorker, cancel = context.WithTimeout(ctx, s.workerTimeout)
		defer cancel()
	}

	res, execErr := s.worker.Execute(ctxWorker, judgeReq)
	// Execute returns an InternalError result alongside any error, so
	// a terminal state is persisted either way.
	finished := model.StatusFromResult(res)
	if err := s.finishSubmission(ctx, finished); err != nil {
		logger.Warn(ctx, "persist terminal status failed",
			zap.String("submission_id", payload.SubmissionID), zap.Error(err))
	}
	if execErr != nil && (errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded)) {
		return execErr
	}
	return nil
}

func (s *Service) resolveCases(ctx context.Context, payload model.JudgeMessage) ([]sandbox.TestCase, error) {
	if payload.DataPackKey == "" {
		cases := make([]sandbox.TestCase, len(payload.Inputs))
		for i := range payload.Inputs {
			cases[i] = sandbox.TestCase{
				Input:    payload.Inputs[i],
				Expected: payload.ExpectedOutputs[i],
			}
		}
		return cases, nil
	}
	if s.dataCache == nil {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("data pack cache is not configured")
	}
	dir, err := s.dataCache.Get(ctx, payload.DataPackKey, payload.DataPackSHA256)
	if err != nil {
		return nil, err
	}
	return cache.LoadCases(dir)
}

func (s *Service) finishSubmission(ctx context.Context, finished model.JudgeStatusResponse) error {
	if err := s.saveStatus(ctx, finished); err != nil {
		return err
	}
	s.publishProgress(finished)
	if s.sink != nil {
		if err := s.sink.SaveTerminal(ctx, finished); err != nil {
			logger.Warn(ctx, "persist submission record failed",
				zap.String("submission_id", finished.SubmissionID), zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishFinalStatus(ctx, finished); err != nil {
			logger.Warn(ctx, "publish final status failed",
				zap.String("submission_id", finished.SubmissionID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) acquireSlot(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
		return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
	}
}

func (s *Service) releaseSlot() {
	select {
	case <-s.sem:
	default:
	}
}

func (s *Service) saveStatus(ctx context.Context, status model.JudgeStatusResponse) error {
	ctxStatus := ctx
	if s.statusTimeout > 0 {
		var cancel context.CancelFunc
		ctxStatus, cancel = context.WithTimeout(ctx, s.statusTimeout)
		defer cancel()
	}
	return s.statusRepo.Save(ctxStatus, status)
}

func (s *Service) publishProgress(status model.JudgeStatusResponse) {
	if s.broker != nil {
		s.broker.Publish(status)
	}
}

func (s *Service) handleFailure(ctx context.Context, submissionID string, receivedAt int64, err error) error {
	failed := model.JudgeStatusResponse{
		SubmissionID: submissionID,
		Status:       result.StatusInternalError,
		StatusName:   result.StatusInternalError.String(),
		ErrorMessage: err.Error(),
		ReceivedAt:   receivedAt,
		FinishedAt:   time.Now().Unix(),
	}
	if saveErr := s.finishSubmission(ctx, failed); saveErr != nil {
		logger.Warn(ctx, "update failure status failed", zap.Error(saveErr))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// validation and data errors terminate the submission, the
	// message itself must not be retried
	return nil
}

// progressReporter bridges the worker's incremental updates into the
// status repository and the in-process broker. Terminal states are
// skipped: the service persists those with full case detail.
type progressReporter struct {
	service *Service
}

func (r *progressReporter) ReportStatus(ctx context.Context, update sandbox.StatusUpdate) error {
	if update.Status.Terminal() {
		return nil
	}
	status := model.JudgeStatusResponse{
		SubmissionID: update.SubmissionID,
		Status:       update.Status,
		StatusName:   update.Status.String(),
		Progress: model.Progress{
			TotalCases: update.TotalCases,
			DoneCases:  update.DoneCases,
		},
		ReceivedAt: update.ReceivedAt,
	}
	if err := r.service.saveStatus(ctx, status); err != nil {
		logger.Warn(ctx, "save progress failed",
			zap.String("submission_id", update.SubmissionID), zap.Error(err))
	}
	r.service.publishProgress(status)
	return nil
}
