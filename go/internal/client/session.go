package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bideuchre/go/internal/client/buffer"
	"github.com/mcdev12/bideuchre/go/internal/game/machine"
	"github.com/mcdev12/bideuchre/go/internal/game/projection"
	"github.com/mcdev12/bideuchre/go/internal/gateway"
	"github.com/mcdev12/bideuchre/go/internal/models"
)

var ErrSpectator = errors.New("spectators cannot send game events")

// Frame is one buffered snapshot. Player is nil for spectators.
type Frame struct {
	Public projection.PublicSnapshot
	Player *projection.PlayerSnapshot
}

func (f Frame) EventCount() int { return f.Public.EventCount() }
func (f Frame) Blocking() bool  { return f.Public.Blocking() }

// SessionConfig configures a Session. A nil PlayerID makes a spectator.
type SessionConfig struct {
	GameID   uuid.UUID
	PlayerID *uuid.UUID
	Buffer   buffer.Config
}

// Session keeps one client's view of a game. Public and private
// projections arrive independently; a player's frame is only buffered once
// both halves for the same event count are present.
type Session struct {
	rpc      *RPC
	gameID   uuid.UUID
	playerID *uuid.UUID
	buf      *buffer.Buffer[Frame]
	logger   zerolog.Logger

	mu       sync.Mutex
	config   *models.GameConfig
	publics  map[int]projection.PublicSnapshot
	privates map[int]projection.PrivateContext
	lastSeen int
}

// NewSession creates a session. listener receives every buffer view
// change.
func NewSession(rpc *RPC, cfg SessionConfig, listener buffer.Listener[Frame]) *Session {
	logger := log.With().Str("game_id", cfg.GameID.String()).Logger()
	if cfg.PlayerID != nil {
		logger = logger.With().Str("player_id", cfg.PlayerID.String()).Logger()
	}
	return &Session{
		rpc:      rpc,
		gameID:   cfg.GameID,
		playerID: cfg.PlayerID,
		buf:      buffer.New(cfg.Buffer, listener),
		logger:   logger,
		publics:  make(map[int]projection.PublicSnapshot),
		privates: make(map[int]projection.PrivateContext),
	}
}

// Spectator reports whether the session has no seat.
func (s *Session) Spectator() bool { return s.playerID == nil }

func (s *Session) Buffer() *buffer.Buffer[Frame] { return s.buf }

// Config returns the last game config received, or nil.
func (s *Session) Config() *models.GameConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Load fetches the config and the full history so the buffer can finish
// loading.
func (s *Session) Load(ctx context.Context) error {
	cfg, err := s.rpc.GetGameConfig(ctx, s.gameID)
	if err != nil {
		return err
	}
	s.setConfig(cfg)

	history, err := s.rpc.GetHistory(ctx, s.gameID, s.playerID)
	if err != nil {
		return err
	}
	s.loadHistory(history.Public, history.Private)
	return nil
}

// loadHistory buffers every complete frame of a history in one batch and
// keeps unmatched halves pending.
func (s *Session) loadHistory(publics []projection.PublicSnapshot, privates []projection.PrivateContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Spectator() {
		for _, priv := range privates {
			if priv.EventCount > 0 {
				s.privates[priv.EventCount] = priv
			}
		}
	}

	frames := make([]Frame, 0, len(publics))
	for _, pub := range publics {
		count := pub.EventCount()
		if count <= 0 {
			continue
		}
		s.lastSeen = max(s.lastSeen, count)
		if s.Spectator() {
			frames = append(frames, Frame{Public: pub})
			continue
		}
		priv, ok := s.privates[count]
		if !ok {
			s.publics[count] = pub
			continue
		}
		merged, err := projection.Merge(pub, priv)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to merge projections")
			continue
		}
		delete(s.privates, count)
		frames = append(frames, Frame{Public: pub, Player: &merged})
	}
	if len(frames) == 0 {
		return
	}
	if err := s.buf.AddAll(frames...); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to buffer history")
	}
}

// HandleMessage applies one gateway message.
func (s *Session) HandleMessage(msg gateway.Message) {
	if isNull(msg.Data) {
		return
	}
	switch msg.Type {
	case gateway.MessageTypeGameConfig:
		var cfg models.GameConfig
		if err := json.Unmarshal(msg.Data, &cfg); err != nil {
			s.logger.Warn().Err(err).Msg("Bad game config message")
			return
		}
		s.setConfig(&cfg)
	case gateway.MessageTypePublicState:
		var pub projection.PublicSnapshot
		if err := json.Unmarshal(msg.Data, &pub); err != nil {
			s.logger.Warn().Err(err).Msg("Bad public state message")
			return
		}
		s.HandlePublic(pub)
	case gateway.MessageTypePrivateState:
		var priv projection.PrivateContext
		if err := json.Unmarshal(msg.Data, &priv); err != nil {
			s.logger.Warn().Err(err).Msg("Bad private state message")
			return
		}
		s.HandlePrivate(priv)
	default:
		s.logger.Debug().Str("type", string(msg.Type)).Msg("Ignoring message")
	}
}

// HandlePublic stores a public projection. Spectators buffer it directly.
func (s *Session) HandlePublic(pub projection.PublicSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := pub.EventCount()
	if count <= 0 {
		return
	}
	// Redelivery and races are expected; a gap is only worth a warning.
	if prev := pub.Context.PreviousEventCount; s.lastSeen != 0 && count > s.lastSeen && prev != s.lastSeen {
		s.logger.Warn().
			Int("event_count", count).
			Int("previous_event_count", prev).
			Int("last_seen", s.lastSeen).
			Msg("Public state does not follow the last one seen")
	}
	s.lastSeen = max(s.lastSeen, count)

	if s.Spectator() {
		s.add(Frame{Public: pub})
		return
	}
	s.publics[count] = pub
	s.tryMerge(count)
}

// HandlePrivate stores this seat's private projection.
func (s *Session) HandlePrivate(priv projection.PrivateContext) {
	if s.Spectator() || priv.EventCount <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.privates[priv.EventCount] = priv
	s.tryMerge(priv.EventCount)
}

func (s *Session) tryMerge(count int) {
	pub, ok := s.publics[count]
	if !ok {
		return
	}
	priv, ok := s.privates[count]
	if !ok {
		return
	}
	merged, err := projection.Merge(pub, priv)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to merge projections")
		return
	}
	delete(s.publics, count)
	delete(s.privates, count)
	s.add(Frame{Public: pub, Player: &merged})
}

func (s *Session) add(f Frame) {
	if err := s.buf.Add(f); err != nil {
		s.logger.Warn().Err(err).Int("event_count", f.EventCount()).Msg("Failed to buffer snapshot")
	}
}

// Pending is the number of half projections waiting for their partner.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.publics) + len(s.privates)
}

// Send sends ev against the latest event count received. The buffer stays
// in its sending state until the server answers.
func (s *Session) Send(ctx context.Context, ev machine.Event) (int, error) {
	if s.Spectator() {
		return 0, ErrSpectator
	}
	if err := s.buf.BeginSend(); err != nil {
		return 0, err
	}
	defer func() {
		if err := s.buf.EndSend(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to end send")
		}
	}()

	existing := s.buf.View().Latest
	count, err := s.rpc.SendGameEvent(ctx, s.gameID, *s.playerID, ev, existing)
	if err != nil {
		return 0, fmt.Errorf("send %s: %w", ev.Type, err)
	}
	return count, nil
}

// Follow applies messages from stream until it fails or ctx is done.
func (s *Session) Follow(ctx context.Context, stream *Stream) error {
	return stream.Run(ctx, s.HandleMessage)
}

func (s *Session) Close() {
	s.buf.Close()
}

func (s *Session) setConfig(cfg *models.GameConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
}

func isNull(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}
