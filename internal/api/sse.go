package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-queue/internal/queue"
)

const defaultHeartbeat = 15 * time.Second

// streamQueue pushes projection updates as server-sent events. The first
// event is the current snapshot.
func (h *Handlers) streamQueue(w http.ResponseWriter, r *http.Request) {
	facilityID, doctorID, ok := queuePath(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	updates, err := h.appts.Subscribe(ctx, facilityID, doctorID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	rc := http.NewResponseController(w)
	// The server's WriteTimeout would otherwise cut long-lived streams.
	_ = rc.SetWriteDeadline(time.Time{})

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("queue stream cannot flush", zap.Error(err))
		return
	}

	heartbeat := h.heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case p, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, p); err != nil {
				h.logger.Debug("queue stream closed", zap.String("key", p.Key().String()), zap.Error(err))
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, p queue.Projection) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: queue\nid: %d\ndata: %s\n\n", p.Seq, data)
	return err
}
