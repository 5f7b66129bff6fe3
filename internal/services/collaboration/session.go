package collaboration

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"docsync/internal/middleware"
	"docsync/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Session is one live connection. It starts connected-but-unjoined; a
// successful join-document pins it to a room and fills in the identity
// fields. All of its inbound traffic is handled on the single ReadPump
// goroutine, so the joined/identity fields need no locking.
type Session struct {
	*models.Session
	RoomID string // document id from the URL path; the room this connection may join
	Conn   *websocket.Conn
	Send   chan []byte // buffered outbound queue

	coordinator *Coordinator
	joined      bool
}

// NewSession wraps an upgraded connection. roomID comes from the URL path.
func NewSession(roomID string, conn *websocket.Conn, coordinator *Coordinator) *Session {
	return &Session{
		Session:     models.NewSession(),
		RoomID:      roomID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		coordinator: coordinator,
	}
}

// Joined reports whether the session has completed join-document.
func (s *Session) Joined() bool {
	return s.joined
}

// ReadPump reads frames from the connection and hands them to the
// coordinator. One goroutine per session; exits on any read error, which
// covers both clean closes and dead peers (missed pongs trip the deadline).
func (s *Session) ReadPump(ctx context.Context) {
	defer func() {
		s.coordinator.Disconnect(ctx, s)
		s.Conn.Close()
	}()

	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		s.LastActiveAt = time.Now()
		return nil
	})

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on session %s: %v", s.ID, err)
			}
			break
		}

		s.LastActiveAt = time.Now()

		msgCtx, span := middleware.StartSpan(ctx, "Collab.HandleMessage",
			attribute.String("session.id", s.ID),
			attribute.String("document.id", s.RoomID),
			attribute.Int("message.size", len(message)),
		)
		s.coordinator.Dispatch(msgCtx, s, message)
		span.End()
	}
}

// WritePump writes queued frames to the connection and keeps it alive with
// pings. A separate goroutine from ReadPump so a slow reader on the far side
// never blocks inbound processing.
func (s *Session) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain whatever else is queued before the next blocking read.
			n := len(s.Send)
			for i := 0; i < n; i++ {
				if err := s.Conn.WriteMessage(websocket.TextMessage, <-s.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
