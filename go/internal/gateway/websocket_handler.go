package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bideuchre/go/internal/games"
)

// WebSocketHandler handles WebSocket upgrade requests for game connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	stateProvider     StateProvider
	clock             clockwork.Clock
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, sp StateProvider, clock clockwork.Clock) *WebSocketHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WebSocketHandler{
		connectionManager: cm,
		stateProvider:     sp,
		clock:             clock,
	}
}

// HandleGameConnection serves /ws/game?game_id=...[&player_id=...]. Without
// a player_id the connection is a spectator and only gets public data.
func (h *WebSocketHandler) HandleGameConnection(w http.ResponseWriter, r *http.Request) {
	gameIDStr := r.URL.Query().Get("game_id")
	if gameIDStr == "" {
		http.Error(w, "game_id is required", http.StatusBadRequest)
		return
	}
	gameID, err := uuid.Parse(gameIDStr)
	if err != nil {
		http.Error(w, "invalid game_id format", http.StatusBadRequest)
		return
	}

	var playerID *uuid.UUID
	if s := r.URL.Query().Get("player_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			http.Error(w, "invalid player_id format", http.StatusBadRequest)
			return
		}
		playerID = &id
	}

	initial, err := h.initialMessages(r.Context(), gameID, playerID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, games.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, games.ErrUnauthorized):
			status = http.StatusForbidden
		}
		log.Warn().Err(err).Str("game_id", gameID.String()).Msg("rejecting WebSocket connection")
		http.Error(w, http.StatusText(status), status)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, gameID, playerID, initial); err != nil {
		// The upgrader has already written the HTTP error.
		log.Error().
			Err(err).
			Str("game_id", gameID.String()).
			Msg("failed to upgrade WebSocket connection")
	}
}

// initialMessages reads the current config, public state and (for
// players) private state.
func (h *WebSocketHandler) initialMessages(ctx context.Context, gameID uuid.UUID, playerID *uuid.UUID) ([]*Message, error) {
	now := h.clock.Now()
	msg := func(t MessageType, data []byte) *Message {
		return &Message{GameID: gameID, Type: t, Timestamp: now, Data: dataOrNull(data)}
	}

	cfg, err := h.stateProvider.GameConfig(ctx, gameID)
	if err != nil {
		return nil, err
	}
	var private []byte
	if playerID != nil {
		if private, err = h.stateProvider.PrivateState(ctx, gameID, *playerID); err != nil {
			return nil, err
		}
	}
	public, err := h.stateProvider.PublicState(ctx, gameID)
	if err != nil {
		return nil, err
	}

	out := []*Message{msg(MessageTypeGameConfig, cfg), msg(MessageTypePublicState, public)}
	if playerID != nil {
		out = append(out, msg(MessageTypePrivateState, private))
	}
	return out, nil
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/game", h.HandleGameConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
