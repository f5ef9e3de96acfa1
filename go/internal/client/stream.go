package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mcdev12/bideuchre/go/internal/gateway"
)

// Stream reads gateway messages for one game.
type Stream struct {
	conn *websocket.Conn
}

// DialStream connects to the gateway's /ws/game endpoint. A nil playerID
// connects as a spectator.
func DialStream(ctx context.Context, gatewayURL string, gameID uuid.UUID, playerID *uuid.UUID) (*Stream, error) {
	u, err := url.Parse(strings.TrimRight(gatewayURL, "/") + "/ws/game")
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("game_id", gameID.String())
	if playerID != nil {
		q.Set("player_id", playerID.String())
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial gateway: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// Next blocks for the next message.
func (s *Stream) Next() (gateway.Message, error) {
	var msg gateway.Message
	if err := s.conn.ReadJSON(&msg); err != nil {
		return gateway.Message{}, err
	}
	return msg, nil
}

// Run passes messages to handle until the connection fails or ctx is done.
func (s *Stream) Run(ctx context.Context, handle func(gateway.Message)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	for {
		msg, err := s.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read gateway message: %w", err)
		}
		handle(msg)
	}
}

func (s *Stream) Close() error {
	return s.conn.Close()
}
