package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"lactlink/engine"
)

// sseEvent is the JSON frame written to the event stream.
type sseEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

func eventName(t engine.EventType) string {
	switch t {
	case engine.EventStateChanged:
		return "state"
	case engine.EventAlarmRaised:
		return "alarm_raised"
	case engine.EventAlarmCleared:
		return "alarm_cleared"
	case engine.EventAlarmAcked:
		return "alarm_acked"
	case engine.EventBatchClosed:
		return "batch_closed"
	case engine.EventProvingDone:
		return "proving_done"
	case engine.EventSetpointChanged:
		return "setpoint"
	case engine.EventTagsUpdated:
		return "tags"
	default:
		return "event"
	}
}

// handleSSE streams engine events to the client until it disconnects.
// Slow clients drop frames rather than stalling the emitter.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	frames := make(chan sseEvent, 64)
	id := s.eng.Events.Subscribe(func(e engine.Event) {
		select {
		case frames <- sseEvent{Type: eventName(e.Type), Payload: e.Payload}:
		default:
		}
	})
	defer s.eng.Events.Unsubscribe(id)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-frames:
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Type, data)
			flusher.Flush()
		}
	}
}
