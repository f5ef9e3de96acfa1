package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/bideuchre/go/internal/games"
	"github.com/mcdev12/bideuchre/go/internal/models"
	"github.com/mcdev12/bideuchre/go/internal/outbox"
)

type sent struct {
	gameID   uuid.UUID
	playerID *uuid.UUID
	msg      *Message
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []sent
}

func (b *fakeBroadcaster) BroadcastToGame(gameID uuid.UUID, msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{gameID: gameID, msg: msg})
}

func (b *fakeBroadcaster) SendToPlayer(gameID, playerID uuid.UUID, msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{gameID: gameID, playerID: &playerID, msg: msg})
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]byte
	gets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[uuid.UUID][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, gameID uuid.UUID) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	return c.entries[gameID], nil
}

func (c *fakeCache) Set(ctx context.Context, gameID uuid.UUID, state []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[gameID] = state
	return nil
}

func envelope(t *testing.T, gameID uuid.UUID, et outbox.EventType, payload any) outbox.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return outbox.Envelope{
		EventID:   uuid.New(),
		EventType: et,
		GameID:    gameID,
		Timestamp: time.Now(),
		Payload:   raw,
	}
}

func TestRouterRoutesByType(t *testing.T) {
	ctx := context.Background()
	b := &fakeBroadcaster{}
	cache := newFakeCache()
	r := NewRouter(b, cache)
	gameID := uuid.New()
	playerID := uuid.New()

	public := map[string]any{"value": "runGame.round.bidding.waitForPlayerToBid", "context": map[string]any{"eventCount": 2}}
	require.NoError(t, r.Route(ctx, envelope(t, gameID, outbox.EventTypeGameConfigChanged, map[string]any{"status": "started"})))
	require.NoError(t, r.Route(ctx, envelope(t, gameID, outbox.EventTypePublicStateChanged, public)))
	require.NoError(t, r.Route(ctx, envelope(t, gameID, outbox.EventTypePrivateStateChanged,
		games.PrivateStatePayload{PlayerID: playerID, State: json.RawMessage(`{"eventCount":2}`)})))

	require.Len(t, b.sent, 3)
	assert.Nil(t, b.sent[0].playerID)
	assert.Equal(t, MessageTypeGameConfig, b.sent[0].msg.Type)
	assert.Nil(t, b.sent[1].playerID)
	assert.Equal(t, MessageTypePublicState, b.sent[1].msg.Type)
	require.NotNil(t, b.sent[2].playerID)
	assert.Equal(t, playerID, *b.sent[2].playerID)
	assert.JSONEq(t, `{"eventCount":2}`, string(b.sent[2].msg.Data))

	cached, err := cache.Get(ctx, gameID)
	require.NoError(t, err)
	assert.JSONEq(t, string(b.sent[1].msg.Data), string(cached))
}

func TestRouterRejectsBadEnvelopes(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(&fakeBroadcaster{}, nil)
	gameID := uuid.New()

	assert.Error(t, r.Route(ctx, envelope(t, gameID, "SomethingElse", map[string]any{})))
	assert.Error(t, r.Route(ctx, envelope(t, gameID, outbox.EventTypePrivateStateChanged, map[string]any{"state": nil})))
}

func TestRouterNullPayload(t *testing.T) {
	b := &fakeBroadcaster{}
	r := NewRouter(b, nil)
	env := outbox.Envelope{EventID: uuid.New(), EventType: outbox.EventTypeGameConfigChanged, GameID: uuid.New()}

	require.NoError(t, r.Route(context.Background(), env))
	require.Len(t, b.sent, 1)
	assert.Equal(t, "null", string(b.sent[0].msg.Data))
}

type gatewayFixture struct {
	app     *games.App
	gameID  uuid.UUID
	players map[models.Position]uuid.UUID
	cm      *ConnectionManager
	router  *Router
	srv     *httptest.Server
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := clockwork.NewFakeClock()
	app := games.NewApp(games.NewMemoryRepository(clock), games.Options{
		Clock:   clock,
		NewSeed: func() int64 { return 99 },
	})
	cfg, err := app.NewGame(ctx)
	require.NoError(t, err)

	f := &gatewayFixture{app: app, gameID: cfg.ID, players: make(map[models.Position]uuid.UUID)}
	for _, pos := range models.Positions {
		resp, err := app.JoinGame(ctx, games.JoinGameRequest{GameID: cfg.ID, Position: pos, FriendlyName: string(pos)})
		require.NoError(t, err)
		f.players[pos] = resp.PlayerID
	}

	f.cm = NewConnectionManager(DefaultConnectionConfig(), clock)
	go f.cm.Start(ctx)
	f.router = NewRouter(f.cm, nil)

	mux := http.NewServeMux()
	NewWebSocketHandler(f.cm, NewGameStateProvider(app, nil), clock).RegisterRoutes(mux)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *gatewayFixture) url(query string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/game?" + query
}

func (f *gatewayFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url(query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestPlayerConnectionGetsInitialState(t *testing.T) {
	f := newGatewayFixture(t)
	north := f.players[models.PositionNorth]
	conn := f.dial(t, "game_id="+f.gameID.String()+"&player_id="+north.String())

	cfg := readMessage(t, conn)
	assert.Equal(t, MessageTypeGameConfig, cfg.Type)
	var config models.GameConfig
	require.NoError(t, json.Unmarshal(cfg.Data, &config))
	assert.Equal(t, models.GameStatusStarted, config.Status)

	pub := readMessage(t, conn)
	assert.Equal(t, MessageTypePublicState, pub.Type)
	assert.NotContains(t, string(pub.Data), `"hand"`)

	priv := readMessage(t, conn)
	assert.Equal(t, MessageTypePrivateState, priv.Type)
	var ctx struct {
		EventCount int             `json:"eventCount"`
		Position   models.Position `json:"position"`
	}
	require.NoError(t, json.Unmarshal(priv.Data, &ctx))
	assert.Equal(t, 2, ctx.EventCount)
	assert.Equal(t, models.PositionNorth, ctx.Position)
}

func TestSpectatorBeforeStartGetsNullState(t *testing.T) {
	f := newGatewayFixture(t)
	cfg, err := f.app.NewGame(context.Background())
	require.NoError(t, err)

	conn := f.dial(t, "game_id="+cfg.ID.String())
	assert.Equal(t, MessageTypeGameConfig, readMessage(t, conn).Type)

	pub := readMessage(t, conn)
	assert.Equal(t, MessageTypePublicState, pub.Type)
	assert.Equal(t, "null", string(pub.Data))
}

func TestConnectionRejections(t *testing.T) {
	f := newGatewayFixture(t)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing game", "", http.StatusBadRequest},
		{"bad game id", "game_id=nope", http.StatusBadRequest},
		{"unknown game", "game_id=" + uuid.NewString(), http.StatusNotFound},
		{"stranger", "game_id=" + f.gameID.String() + "&player_id=" + uuid.NewString(), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(f.url(tt.query), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestPrivateMessagesOnlyReachOwner(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	north := f.players[models.PositionNorth]
	east := f.players[models.PositionEast]

	northConn := f.dial(t, "game_id="+f.gameID.String()+"&player_id="+north.String())
	eastConn := f.dial(t, "game_id="+f.gameID.String()+"&player_id="+east.String())
	spectator := f.dial(t, "game_id="+f.gameID.String())
	for i := 0; i < 3; i++ {
		readMessage(t, northConn)
		readMessage(t, eastConn)
	}
	for i := 0; i < 2; i++ {
		readMessage(t, spectator)
	}

	require.NoError(t, f.router.Route(ctx, envelope(t, f.gameID, outbox.EventTypePrivateStateChanged,
		games.PrivateStatePayload{PlayerID: north, State: json.RawMessage(`{"eventCount":3,"position":"north"}`)})))
	require.NoError(t, f.router.Route(ctx, envelope(t, f.gameID, outbox.EventTypePublicStateChanged,
		map[string]any{"context": map[string]any{"eventCount": 3}})))

	assert.Equal(t, MessageTypePrivateState, readMessage(t, northConn).Type)
	assert.Equal(t, MessageTypePublicState, readMessage(t, northConn).Type)
	assert.Equal(t, MessageTypePublicState, readMessage(t, eastConn).Type, "east must not see north's private state")
	assert.Equal(t, MessageTypePublicState, readMessage(t, spectator).Type)

	stats := f.cm.GetConnectionStats()
	assert.Equal(t, 3, stats.TotalConnections)
	assert.Equal(t, 1, stats.ActiveGames)
}

func TestStateProviderCachesPublicState(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	cache := newFakeCache()
	p := NewGameStateProvider(f.app, cache)

	first, err := p.PublicState(ctx, f.gameID)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Contains(t, cache.entries, f.gameID)

	cache.entries[f.gameID] = []byte(`{"cached":true}`)
	second, err := p.PublicState(ctx, f.gameID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cached":true}`, string(second))
	assert.Equal(t, 2, cache.gets)
}
