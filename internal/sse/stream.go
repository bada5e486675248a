package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-marketplace/internal/logger"
)

const (
	heartbeatInterval = 25 * time.Second
	// writeWindow is the per-frame write deadline. It replaces the server
	// WriteTimeout for the life of a stream.
	writeWindow = 10 * time.Second
)

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

// Stream writes messages from ch to w until the client disconnects, a write
// fails or ch is closed. hello is sent first as a "connected" event.
func Stream(w http.ResponseWriter, r *http.Request, ch <-chan Message, hello interface{}, log *logger.Logger) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	rc := http.NewResponseController(w)

	// send pushes one frame with a fresh write deadline and flushes it.
	send := func(frame []byte) error {
		if err := rc.SetWriteDeadline(time.Now().Add(writeWindow)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
		return rc.Flush()
	}

	helloFrame, err := frame("connected", hello)
	if err != nil {
		log.Error("SSE", fmt.Sprintf("Failed to serialize hello: %v", err))
		http.Error(w, "stream setup failed", http.StatusInternalServerError)
		return
	}
	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := send(helloFrame); err != nil {
		log.Warn("SSE", fmt.Sprintf("Failed to write hello on %s: %v", r.URL.Path, err))
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			f, err := frame(msg.Type, msg.Data)
			if err != nil {
				log.Error("SSE", fmt.Sprintf("Failed to serialize %s event: %v", msg.Type, err))
				continue
			}
			if err := send(f); err != nil {
				log.Debug("SSE", fmt.Sprintf("Closing %s: %v", r.URL.Path, err))
				return
			}
		case <-heartbeat.C:
			if err := send([]byte(": ping\n\n")); err != nil {
				log.Debug("SSE", fmt.Sprintf("Closing %s: %v", r.URL.Path, err))
				return
			}
		case <-ctx.Done():
			log.Debug("SSE", fmt.Sprintf("Client disconnected from %s", r.URL.Path))
			return
		}
	}
}

func frame(event string, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, payload)), nil
}
