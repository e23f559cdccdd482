package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// EventView is one server-sent event on the /v1/events stream.
type EventView struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// streamEvents relays bus events to the client as SSE. The stream carries
// everything: clients filter on kind themselves.
func (s *Server) streamEvents(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ch, unsub := s.deps.Bus.Subscribe("", 256)
	defer unsub()

	// Periodic comments keep intermediaries from timing the stream out.
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case evt := <-ch:
			data, err := json.Marshal(EventView{Kind: evt.Kind, At: evt.At, Data: evt.Data})
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(res, "data: %s\n\n", data); err != nil {
				return nil
			}
			res.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(res, ": keepalive\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}
