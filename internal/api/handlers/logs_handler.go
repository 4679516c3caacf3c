package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/archflow/engine/internal/deploy"
	"github.com/archflow/engine/internal/models"
	"github.com/archflow/engine/internal/repository"
	"github.com/archflow/engine/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const logWriteTimeout = 10 * time.Second

// LogsHandler streams deployment logs to websocket clients. A client first
// receives everything recorded so far, then live lines as terraform prints
// them. Live lines arrive over the in-process hub when the run executes in
// this process, otherwise over the Redis relay from the worker.
type LogsHandler struct {
	deploys  repository.DeploymentRepository
	hub      *deploy.Hub
	rdb      *redis.Client
	upgrader websocket.Upgrader
}

func NewLogsHandler(deploys repository.DeploymentRepository, hub *deploy.Hub, rdb *redis.Client) *LogsHandler {
	return &LogsHandler{
		deploys: deploys,
		hub:     hub,
		rdb:     rdb,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *LogsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()

	// detect client disconnect; clients never send payloads we care about
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(line string) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(logWriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, []byte(line)) == nil
	}

	var latest models.DeploymentJob
	if err := h.deploys.GetLatestByProject(ctx, projectID, &latest); err == nil {
		if h.streamFromHub(latest.ID, send, done) {
			return
		}
		for _, line := range strings.Split(latest.Logs, "\n") {
			if line == "" {
				continue
			}
			if !send(line) {
				return
			}
		}
		if models.JobStateTerminal(latest.Status) {
			// nothing live to follow
			return
		}
	}

	h.streamFromRedis(r, projectID, send, done)
}

// streamFromHub replays and follows an in-process run. Returns false when no
// broadcaster is live for the job, meaning the run is in another process.
func (h *LogsHandler) streamFromHub(jobID uuid.UUID, send func(string) bool, done <-chan struct{}) bool {
	if h.hub == nil {
		return false
	}
	b, ok := h.hub.Lookup(jobID)
	if !ok {
		return false
	}
	replay, live, cancel := b.Subscribe()
	defer cancel()

	for _, line := range replay {
		if !send(line) {
			return true
		}
	}
	for {
		select {
		case line, open := <-live:
			if !open {
				return true
			}
			if !send(line) {
				return true
			}
		case <-done:
			return true
		}
	}
}

func (h *LogsHandler) streamFromRedis(r *http.Request, projectID uuid.UUID, send func(string) bool, done <-chan struct{}) {
	if h.rdb == nil {
		return
	}
	sub := h.rdb.Subscribe(r.Context(), deploy.LogChannel(projectID))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, open := <-ch:
			if !open {
				return
			}
			if !send(msg.Payload) {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
