package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nextlevelbuilder/across/internal/store"
)

// sseWriter streams `data: {json}\n\n` frames, flushing per event.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, &store.UpstreamError{Message: "streaming unsupported by connection"}
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, nil
}

// Send marshals v and writes one frame.
func (s *sseWriter) Send(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.f.Flush()
}
