package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/touchline-analytics/touchline-host/internal/execution/events"
	"github.com/touchline-analytics/touchline-host/internal/execution/models"
)

const (
	eventBufferSize   = 64
	keepAliveInterval = 15 * time.Second
)

// Events streams worker events to the client as server-sent events.
// Clients filter with repeated ?name= parameters, no filter receives all.
func (h *CommandHandler) Events(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, envelope{Error: "streaming unsupported"})
		return
	}

	names := subscriptionNames(r.URL.Query()["name"])

	ch := make(chan models.Event, eventBufferSize)
	forward := func(evt models.Event) error {
		select {
		case ch <- evt:
		default:
			log.Warn("dropping event for slow client", zap.String("event", evt.Name))
		}
		return nil
	}

	for _, name := range names {
		sub := h.runtime.Subscribe(name, forward)
		defer sub.Unsubscribe()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Debug("event stream opened", zap.Strings("names", names))

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	var id int64
	for {
		select {
		case <-r.Context().Done():
			log.Debug("event stream closed")
			return
		case evt := <-ch:
			if !validEventName(evt.Name) {
				log.Warn("dropping event with invalid name", zap.String("event", evt.Name))
				continue
			}

			id++
			if err := writeSSE(w, id, evt); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, id int64, evt models.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, evt.Name, data); err != nil {
		return err
	}

	return nil
}

// subscriptionNames dedupes the requested names. The wildcard, or no
// names at all, subscribes to every event once.
func subscriptionNames(requested []string) []string {
	if len(requested) == 0 || slices.Contains(requested, events.Wildcard) {
		return []string{events.Wildcard}
	}

	names := make([]string, 0, len(requested))
	for _, name := range requested {
		if name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}

	if len(names) == 0 {
		return []string{events.Wildcard}
	}

	return names
}

// validEventName reports whether name fits on a single SSE field line.
func validEventName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "\r\n")
}
