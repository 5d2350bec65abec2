package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// SSEHeartbeatInterval is the interval for SSE heartbeats.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

// writeEvent writes data as JSON under eventType.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.writeRaw(eventType, payload)
}

// writeRaw writes an already encoded JSON payload.
func (s *sseWriter) writeRaw(eventType string, payload []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	// ResponseController sees through middleware wrappers
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// startSSE sets the stream headers and flushes them.
func startSSE(w http.ResponseWriter) (*sseWriter, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return nil, false
	}
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()
	return sse, true
}

// allEvents handles GET /event. Every bus event is relayed as it was
// encoded on the wire topic; clients order them by seq.
func (s *Server) allEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event bus is not configured")
		return
	}
	messages, err := s.bus.Stream(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	sse, ok := startSSE(w)
	if !ok {
		return
	}
	if err := sse.writeEvent("connected", map[string]any{}); err != nil {
		return
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			err := sse.writeRaw(msg.Metadata.Get("type"), msg.Payload)
			msg.Ack()
			if err != nil {
				log.Debug().Err(err).Msg("SSE client gone")
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// sessionEvents handles GET /session/event. It streams every session
// snapshot, starting with the current one.
func (s *Server) sessionEvents(w http.ResponseWriter, r *http.Request) {
	sse, ok := startSSE(w)
	if !ok {
		return
	}

	snapshots := s.conv.State().Subscribe(r.Context())

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case cs, ok := <-snapshots:
			if !ok {
				return
			}
			if err := sse.writeEvent("session", cs); err != nil {
				log.Debug().Err(err).Msg("SSE client gone")
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}
