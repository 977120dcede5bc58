package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nestormc/nestor/notify"
)

const (
	writeWait = 10 * time.Second
)

// handleEvents upgrades /obj/events to a websocket and streams bus
// notifications as JSON text messages. The optional names query parameter
// restricts the stream to a comma separated list of notification names.
// Notifications are dropped for clients that fall behind.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var filter map[string]bool
	if names := r.URL.Query().Get("names"); names != "" {
		filter = make(map[string]bool)
		for _, n := range strings.Split(names, ",") {
			filter[n] = true
		}
	}

	// Observing starts before the upgrade so that nothing published after
	// the handshake completes is missed.
	events := make(chan notify.Notification, s.eventBuffer)
	var dropped atomic.Int64
	unregister := s.objects.Bus().Observe(func(n notify.Notification) {
		if filter != nil && !filter[n.Name] {
			return
		}
		select {
		case events <- n:
		default:
			dropped.Add(1)
		}
	})
	defer unregister()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already answered the request.
		s.logger.Debug("Event stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.metrics.AddActiveClients(1)
	defer s.metrics.AddActiveClients(-1)

	// The reader only exists to notice the client going away and to keep
	// the pong handler running.
	closed := make(chan struct{})
	readTimeout := 2 * s.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("Event stream opened", "remote", r.RemoteAddr)
	defer func() {
		s.logger.Debug("Event stream closed", "remote", r.RemoteAddr, "dropped", dropped.Load())
	}()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case <-closed:
			return
		case n := <-events:
			data, err := json.Marshal(n)
			if err != nil {
				s.logger.Error("Notification encoding failed", "name", n.Name, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
