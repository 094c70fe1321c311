package events

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEHandler adapts a Broker onto text/event-stream, directly grounded
// on the teacher's /events handler (src/ui.go).
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch := broker.Subscribe(16)
		defer broker.Unsubscribe(ch)

		fmt.Fprintf(w, ": ok\n\n")
		flusher.Flush()

		notify := r.Context().Done()
		for {
			select {
			case <-notify:
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				b, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Name, b)
				flusher.Flush()
			}
		}
	}
}
