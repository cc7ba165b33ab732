// Package controller exposes the judge status HTTP surface.
package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/progress"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/repository"
	appErr "github.com/ZeroOneDeveloper/code01-judge/pkg/errors"
	"github.com/ZeroOneDeveloper/code01-judge/pkg/utils/logger"
	"github.com/ZeroOneDeveloper/code01-judge/pkg/utils/response"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// JudgeController handles judge status requests.
type JudgeController struct {
	repo     *repository.StatusRepository
	sink     *repository.SubmissionSink
	broker   *progress.Broker
	upgrader websocket.Upgrader
}

// NewJudgeController creates a new controller. The sink and broker
// are optional: without a sink only Redis-resident statuses resolve,
// without a broker the event stream endpoint refuses connections.
func NewJudgeController(repo *repository.StatusRepository, sink *repository.SubmissionSink, broker *progress.Broker) *JudgeController {
	return &JudgeController{
		repo:   repo,
		sink:   sink,
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the controller under the given router group.
func (h *JudgeController) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/submissions/:id", h.GetStatus)
	group.GET("/submissions/:id/events", h.StreamEvents)
}

// GetStatus returns status for one submission. Redis is consulted
// first, then the durable submission record for results whose cache
// entry already expired.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	status, err := h.repo.Get(c.Request.Context(), submissionID)
	if err == nil {
		response.Success(c, status)
		return
	}
	if appErr.GetCode(err) != appErr.SubmissionNotFound || h.sink == nil {
		response.Error(c, err)
		return
	}
	status, err = h.sink.GetTerminal(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// StreamEvents upgrades to a websocket and pushes status snapshots as
// judging progresses. The current snapshot is sent first; the stream
// closes after a terminal status.
func (h *JudgeController) StreamEvents(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	if h.broker == nil {
		response.ErrorWithCode(c, appErr.ServiceUnavailable, "event stream is not available")
		return
	}

	ctx := c.Request.Context()

	// Subscribe before reading the snapshot so updates between the
	// two cannot be lost.
	updates, cancel := h.broker.Subscribe(submissionID)
	defer cancel()

	snapshot, snapErr := h.repo.Get(ctx, submissionID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "websocket upgrade failed",
			zap.String("submission_id", submissionID), zap.Error(err))
		return
	}
	defer conn.Close()

	send := func(v interface{}) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v) == nil
	}

	if snapErr == nil {
		if !send(snapshot) {
			return
		}
		if snapshot.Status.Terminal() {
			return
		}
	}

	// Reader goroutine drains control frames and signals disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case status, ok := <-updates:
			if !ok {
				return
			}
			if !send(status) {
				return
			}
			if status.Status.Terminal() {
				return
			}
		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
