package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

type channelHello struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// channel upgrades to a WebSocket and forwards every payload pushed for the
// user key until either side goes away.
func (s *Server) channel(w http.ResponseWriter, r *http.Request) {
	userKey := chi.URLParam(r, "user_key")
	if err := s.authorize(r.Context(), userKey); err != nil {
		s.fail(w, "channel", []byte(userKey), err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn("websocket accept", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sess, err := s.hub.CreateSession(userKey)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "session")
		return
	}
	defer s.hub.Close(sess)

	// Panels only listen; CloseRead cancels ctx once the peer closes.
	ctx := conn.CloseRead(r.Context())

	if err := s.write(ctx, func(ctx context.Context) error {
		return wsjson.Write(ctx, conn, channelHello{Type: "ready", SessionID: sess.ID.String()})
	}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case payload, open := <-sess.C():
			if !open {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			err := s.write(ctx, func(ctx context.Context) error {
				return conn.Write(ctx, websocket.MessageText, payload)
			})
			if err != nil {
				s.log.Debug("channel write", zap.String("session", sess.ID.String()), zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return fn(ctx)
}
