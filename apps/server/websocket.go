package main

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mahaj/placement-chat/pkg/relay"
	"github.com/mahaj/placement-chat/pkg/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // The chat widget is embedded on arbitrary agency pages.
	},
}

// serveWS authenticates the handshake and hands the connection to the relay.
// The client must still send join-room before it receives room broadcasts.
func (s *server) serveWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		s.log.Warn("ws handshake rejected", "err", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "err", err)
		return
	}

	endpoint := room.NewEndpoint(uuid.NewString(), relay.SendBuffer)
	sess := relay.NewSession(
		endpoint, s.router, s.messages, s.fanout, s.presence, s.cfg.TypingWindow,
		relay.Identity{
			Name:           claims.Identity,
			Role:           claims.Role,
			ConversationID: claims.ConversationID,
		},
		s.log,
	)

	// The request context dies when this handler returns, so the pumps run
	// on a background context; disconnect is signaled by the socket itself.
	client := relay.NewClient(conn, endpoint, sess, s.log)
	client.Run(context.Background())
}
