package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/balandzin/Weather-API/internal/viewstate"
)

const subscriberBuffer = 16

type updateEvent struct {
	Changed  string                `json:"changed"`
	Version  uint64                `json:"version"`
	Current  viewstate.CurrentView `json:"current"`
	Forecast forecastResponse      `json:"forecast"`
}

type alertEvent struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// StreamEvents handles GET /events as a server-sent event stream. The first event is
// the current snapshot; later "update" and "alert" events follow store changes.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.IsShuttingDown() {
		writeError(w, r, http.StatusServiceUnavailable, "SHUTTING_DOWN", "server is shutting down")
		return
	}
	logger := loggerFrom(r, h.logger)

	rc := http.NewResponseController(w)
	// The server WriteTimeout would otherwise cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	sub := h.store.Subscribe(subscriberBuffer)
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(event string, v interface{}) bool {
		data, err := json.Marshal(v)
		if err != nil {
			logger.Error("encode event", zap.String("event", event), zap.Error(err))
			return true
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	snap := h.store.Snapshot()
	if !send("update", h.updateBody(viewstate.Update{Snapshot: snap})) {
		return
	}

	heartbeat := time.NewTicker(h.cfg.Heartbeat)
	defer heartbeat.Stop()
	drain := time.NewTicker(250 * time.Millisecond)
	defer drain.Stop()

	logger.Debug("event stream opened", zap.String("subscription", sub.ID.String()))
	defer logger.Debug("event stream closed", zap.String("subscription", sub.ID.String()))

	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-sub.Updates:
			if !ok || !send("update", h.updateBody(u)) {
				return
			}
		case a, ok := <-sub.Alerts:
			if !ok {
				return
			}
			if !send("alert", alertEvent{Kind: a.Kind.String(), Message: a.Kind.Message(), At: a.At.UTC()}) {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil || rc.Flush() != nil {
				return
			}
		case <-drain.C:
			if h.IsShuttingDown() {
				return
			}
		}
	}
}

func (h *Handler) updateBody(u viewstate.Update) updateEvent {
	return updateEvent{
		Changed:  u.Changed.String(),
		Version:  u.Snapshot.Version(),
		Current:  u.Snapshot.Current(),
		Forecast: h.forecastBody(u.Snapshot),
	}
}
