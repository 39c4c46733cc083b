package api

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"signal-core/internal/events"
)

// newUpgrader admits the listed browser origins. With no list gorilla's
// same-host check applies. Clients that send no Origin are not browsers and
// pass either way.
func newUpgrader(origins []string) websocket.Upgrader {
	if len(origins) == 0 {
		return websocket.Upgrader{}
	}
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, origin)
		},
	}
}

// streamTopics are pushed to websocket clients.
var streamTopics = []events.Event{
	events.EventSignalHandled,
	events.EventSignalFailed,
	events.EventBracketFailed,
	events.EventOrderSubmitted,
	events.EventOrderRejected,
	events.EventStateChanged,
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	if s.opts.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.opts.Bus.SubscribeMany(100, streamTopics...)
	defer unsub()

	// reader detects the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.log.WithError(err).Debug("ws write failed")
				return
			}
		}
	}
}
