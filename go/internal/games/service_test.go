package games

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/bideuchre/go/internal/game/machine"
	"github.com/mcdev12/bideuchre/go/internal/models"
	"github.com/mcdev12/bideuchre/go/internal/rpcjson"
)

func call[Req, Res any](t *testing.T, srv *httptest.Server, procedure string, req *Req) (*Res, error) {
	t.Helper()
	client := connect.NewClient[Req, Res](srv.Client(), srv.URL+procedure, rpcjson.Option())
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	app, _ := newTestApp(t, Options{})
	path, handler := NewGameServiceHandler(NewService(app))
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestServiceGameFlow(t *testing.T) {
	srv := newTestServer(t)

	created, err := call[NewGameRequest, NewGameResponse](t, srv, NewGameProcedure, &NewGameRequest{})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.GameID)

	pub, err := call[GetPublicStateRequest, GetPublicStateResponse](t, srv, GetPublicStateProcedure,
		&GetPublicStateRequest{GameID: created.GameID})
	require.NoError(t, err)
	assert.Nil(t, pub.State)

	players := make(map[models.Position]uuid.UUID)
	for _, pos := range models.Positions {
		joined, err := call[JoinGameRequest, JoinGameResponse](t, srv, JoinGameProcedure,
			&JoinGameRequest{GameID: created.GameID, Position: pos, FriendlyName: string(pos)})
		require.NoError(t, err)
		players[pos] = joined.PlayerID
	}

	cfg, err := call[GetGameConfigRequest, GetGameConfigResponse](t, srv, GetGameConfigProcedure,
		&GetGameConfigRequest{GameID: created.GameID})
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusStarted, cfg.Config.Status)

	pub, err = call[GetPublicStateRequest, GetPublicStateResponse](t, srv, GetPublicStateProcedure,
		&GetPublicStateRequest{GameID: created.GameID})
	require.NoError(t, err)
	require.NotNil(t, pub.State)
	assert.Equal(t, 2, pub.State.Context.EventCount)
	awaited := pub.State.Context.AwaitedPlayer

	priv, err := call[GetPrivateStateRequest, GetPrivateStateResponse](t, srv, GetPrivateStateProcedure,
		&GetPrivateStateRequest{GameID: created.GameID, PlayerID: players[awaited]})
	require.NoError(t, err)
	require.NotNil(t, priv.State)
	assert.Len(t, priv.State.Hand, 6)

	sent, err := call[SendGameEventRequest, SendGameEventResponse](t, srv, SendGameEventProcedure,
		&SendGameEventRequest{
			GameID:             created.GameID,
			PlayerID:           players[awaited],
			Event:              machine.PlayerBid(awaited, machine.Pass),
			ExistingEventCount: 2,
		})
	require.NoError(t, err)
	assert.Equal(t, 3, sent.EventCount)

	history, err := call[GetHistoryRequest, GetHistoryResponse](t, srv, GetHistoryProcedure,
		&GetHistoryRequest{GameID: created.GameID})
	require.NoError(t, err)
	assert.Len(t, history.Public, 3)
	assert.Empty(t, history.Private)
}

func TestServiceErrorCodes(t *testing.T) {
	srv := newTestServer(t)

	created, err := call[NewGameRequest, NewGameResponse](t, srv, NewGameProcedure, &NewGameRequest{})
	require.NoError(t, err)
	_, err = call[JoinGameRequest, JoinGameResponse](t, srv, JoinGameProcedure,
		&JoinGameRequest{GameID: created.GameID, Position: models.PositionNorth, FriendlyName: "ann"})
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		code connect.Code
		want error
	}{
		{
			name: "unknown game",
			call: func() error {
				_, err := call[GetGameConfigRequest, GetGameConfigResponse](t, srv, GetGameConfigProcedure,
					&GetGameConfigRequest{GameID: uuid.New()})
				return err
			},
			code: connect.CodeNotFound,
			want: ErrNotFound,
		},
		{
			name: "seat taken",
			call: func() error {
				_, err := call[JoinGameRequest, JoinGameResponse](t, srv, JoinGameProcedure,
					&JoinGameRequest{GameID: created.GameID, Position: models.PositionNorth, FriendlyName: "bob"})
				return err
			},
			code: connect.CodeAlreadyExists,
			want: ErrSeatTaken,
		},
		{
			name: "bad position",
			call: func() error {
				_, err := call[JoinGameRequest, JoinGameResponse](t, srv, JoinGameProcedure,
					&JoinGameRequest{GameID: created.GameID, Position: "middle", FriendlyName: "bob"})
				return err
			},
			code: connect.CodeInvalidArgument,
			want: ErrInvalidArgument,
		},
		{
			name: "event before start",
			call: func() error {
				_, err := call[SendGameEventRequest, SendGameEventResponse](t, srv, SendGameEventProcedure,
					&SendGameEventRequest{GameID: created.GameID, PlayerID: uuid.New(), Event: machine.PlayerBid(models.PositionNorth, 3)})
				return err
			},
			code: connect.CodeFailedPrecondition,
			want: ErrInvalidPhase,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, connect.CodeOf(err))
			assert.ErrorIs(t, ErrorFromCode(err), tt.want)
		})
	}
}

func TestToConnectErrorHidesDetail(t *testing.T) {
	err := toConnectError("Test", errors.New("pq: connection refused to 10.0.0.1"))
	assert.Equal(t, connect.CodeInternal, connect.CodeOf(err))
	assert.NotContains(t, err.Error(), "10.0.0.1")

	err = toConnectError("Test", errors.Join(ErrStaleState, errors.New("client has 5, store has 6")))
	assert.Equal(t, connect.CodeAborted, connect.CodeOf(err))
	assert.NotContains(t, err.Error(), "store has 6")
}
