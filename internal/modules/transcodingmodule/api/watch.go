package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apierrors "github.com/vodforge/vodforge/internal/errors"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // bearer token auth, not cookies
	},
}

// WatchJob handles GET /api/v1/jobs/:jobId/watch
//
// Upgrades to a websocket and streams JobChange JSON frames. The first frame
// is the current state. The server closes the socket after a terminal status.
func (h *JobHandler) WatchJob(c *gin.Context) {
	if h.feed == nil {
		apierrors.NewUnavailableError("change notifications are not enabled", nil).ToGinResponse(c)
		return
	}

	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribe before the snapshot so no change between the two is lost
	changes, err := h.feed.Subscribe(ctx, job.ID)
	if err != nil {
		apierrors.NewUnavailableError("could not subscribe to job changes", err).ToGinResponse(c)
		return
	}

	snapshot, err := h.jobs.Get(c.Request.Context(), job.ID)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "job_id", job.ID, "error", err)
		return
	}
	defer conn.Close()

	go h.readPump(conn, cancel)

	h.logger.Debug("watcher connected", "job_id", job.ID)
	h.writePump(ctx, conn, notify.FromJob(snapshot), changes)
	h.logger.Debug("watcher disconnected", "job_id", job.ID)
}

// readPump discards client frames and cancels the stream once the client
// goes away.
func (h *JobHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards changes until the job is terminal. Each ping tick also
// re-reads the ledger, so a terminal change the feed lost still ends the
// stream.
func (h *JobHandler) writePump(ctx context.Context, conn *websocket.Conn, first notify.JobChange, changes <-chan notify.JobChange) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	last := first
	if !h.send(conn, first) {
		return
	}

	for !last.Terminal() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if current, ok := h.terminalSnapshot(ctx, last.JobID); ok {
				if !h.send(conn, current) {
					return
				}
				last = current
			}
		case change, ok := <-changes:
			if !ok {
				return
			}
			// The snapshot may already cover a change that was in flight
			if change.Status == last.Status && change.Progress <= last.Progress {
				continue
			}
			if !h.send(conn, change) {
				return
			}
			last = change
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(last.Status)))
}

// terminalSnapshot returns the stored state of jobID when it is terminal
func (h *JobHandler) terminalSnapshot(ctx context.Context, jobID string) (notify.JobChange, bool) {
	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		h.logger.Debug("watch recheck failed", "job_id", jobID, "error", err)
		return notify.JobChange{}, false
	}
	change := notify.FromJob(job)
	return change, change.Terminal()
}

func (h *JobHandler) send(conn *websocket.Conn, change notify.JobChange) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(change); err != nil {
		h.logger.Debug("failed to write job change", "job_id", change.JobID, "error", err)
		return false
	}
	return true
}
