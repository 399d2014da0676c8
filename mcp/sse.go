package mcp

import (
	"fmt"
	"net/http"
)

// sseWriter writes SSE events. Headers go out with the first event or an
// explicit start, so a handler can still answer with a JSON error until then.
type sseWriter struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	sessionId string
	started   bool
}

func newSSEWriter(w http.ResponseWriter, sessionId string) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, flusher: flusher, sessionId: sessionId}, true
}

func (sw *sseWriter) start() {
	if sw.started {
		return
	}
	sw.started = true
	sw.w.Header().Set(mcpSessionIdHeader, sw.sessionId)
	sw.w.Header().Set("Content-Type", eventStreamContentType)
	sw.w.Header().Set("Cache-Control", "no-cache")
	sw.w.Header().Set("Connection", "keep-alive")
	sw.w.WriteHeader(http.StatusOK)
	sw.flusher.Flush()
}

// writeEvent writes one message event. An empty eventId omits the id field,
// which leaves the client's last seen id untouched.
func (sw *sseWriter) writeEvent(eventId string, data []byte) error {
	sw.start()
	eventData := "event: message\n"
	if eventId != "" {
		eventData += fmt.Sprintf("id: %s\n", eventId)
	}
	eventData += fmt.Sprintf("data: %s\n\n", data)
	if _, err := fmt.Fprint(sw.w, eventData); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}
