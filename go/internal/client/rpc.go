// Package client is the Go client for the game service: unary RPCs, the
// gateway websocket stream and a Session that merges both into paced
// snapshots.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/mcdev12/bideuchre/go/internal/game/machine"
	"github.com/mcdev12/bideuchre/go/internal/game/projection"
	"github.com/mcdev12/bideuchre/go/internal/games"
	"github.com/mcdev12/bideuchre/go/internal/models"
	"github.com/mcdev12/bideuchre/go/internal/rpcjson"
)

// RPC calls GameService procedures.
type RPC struct {
	newGame         *connect.Client[games.NewGameRequest, games.NewGameResponse]
	joinGame        *connect.Client[games.JoinGameRequest, games.JoinGameResponse]
	sendGameEvent   *connect.Client[games.SendGameEventRequest, games.SendGameEventResponse]
	getGameConfig   *connect.Client[games.GetGameConfigRequest, games.GetGameConfigResponse]
	getPublicState  *connect.Client[games.GetPublicStateRequest, games.GetPublicStateResponse]
	getPrivateState *connect.Client[games.GetPrivateStateRequest, games.GetPrivateStateResponse]
	getHistory      *connect.Client[games.GetHistoryRequest, games.GetHistoryResponse]
}

// NewRPC creates clients for the service at baseURL.
func NewRPC(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *RPC {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{rpcjson.Option()}, opts...)
	return &RPC{
		newGame:         connect.NewClient[games.NewGameRequest, games.NewGameResponse](httpClient, baseURL+games.NewGameProcedure, opts...),
		joinGame:        connect.NewClient[games.JoinGameRequest, games.JoinGameResponse](httpClient, baseURL+games.JoinGameProcedure, opts...),
		sendGameEvent:   connect.NewClient[games.SendGameEventRequest, games.SendGameEventResponse](httpClient, baseURL+games.SendGameEventProcedure, opts...),
		getGameConfig:   connect.NewClient[games.GetGameConfigRequest, games.GetGameConfigResponse](httpClient, baseURL+games.GetGameConfigProcedure, opts...),
		getPublicState:  connect.NewClient[games.GetPublicStateRequest, games.GetPublicStateResponse](httpClient, baseURL+games.GetPublicStateProcedure, opts...),
		getPrivateState: connect.NewClient[games.GetPrivateStateRequest, games.GetPrivateStateResponse](httpClient, baseURL+games.GetPrivateStateProcedure, opts...),
		getHistory:      connect.NewClient[games.GetHistoryRequest, games.GetHistoryResponse](httpClient, baseURL+games.GetHistoryProcedure, opts...),
	}
}

// rpcError wraps a connect error with the games sentinel it maps to, so
// callers can use errors.Is(err, games.ErrStaleState).
func rpcError(method string, err error) error {
	sentinel := games.ErrorFromCode(err)
	if errors.Is(err, sentinel) {
		return fmt.Errorf("%s: %w", method, err)
	}
	return fmt.Errorf("%s: %w: %w", method, sentinel, err)
}

func (c *RPC) NewGame(ctx context.Context) (*models.GameConfig, error) {
	resp, err := c.newGame.CallUnary(ctx, connect.NewRequest(&games.NewGameRequest{}))
	if err != nil {
		return nil, rpcError("new game", err)
	}
	return resp.Msg.Config, nil
}

func (c *RPC) JoinGame(ctx context.Context, gameID uuid.UUID, pos models.Position, name string) (*games.JoinGameResponse, error) {
	resp, err := c.joinGame.CallUnary(ctx, connect.NewRequest(&games.JoinGameRequest{
		GameID:       gameID,
		Position:     pos,
		FriendlyName: name,
	}))
	if err != nil {
		return nil, rpcError("join game", err)
	}
	return resp.Msg, nil
}

// SendGameEvent sends ev on behalf of playerID and returns the new event count.
func (c *RPC) SendGameEvent(ctx context.Context, gameID, playerID uuid.UUID, ev machine.Event, existing int) (int, error) {
	resp, err := c.sendGameEvent.CallUnary(ctx, connect.NewRequest(&games.SendGameEventRequest{
		GameID:             gameID,
		PlayerID:           playerID,
		Event:              ev,
		ExistingEventCount: existing,
	}))
	if err != nil {
		return 0, rpcError("send game event", err)
	}
	return resp.Msg.EventCount, nil
}

func (c *RPC) GetGameConfig(ctx context.Context, gameID uuid.UUID) (*models.GameConfig, error) {
	resp, err := c.getGameConfig.CallUnary(ctx, connect.NewRequest(&games.GetGameConfigRequest{GameID: gameID}))
	if err != nil {
		return nil, rpcError("get game config", err)
	}
	return resp.Msg.Config, nil
}

// GetPublicState returns nil before the game starts.
func (c *RPC) GetPublicState(ctx context.Context, gameID uuid.UUID) (*projection.PublicSnapshot, error) {
	resp, err := c.getPublicState.CallUnary(ctx, connect.NewRequest(&games.GetPublicStateRequest{GameID: gameID}))
	if err != nil {
		return nil, rpcError("get public state", err)
	}
	return resp.Msg.State, nil
}

// GetPrivateState returns nil before the game starts.
func (c *RPC) GetPrivateState(ctx context.Context, gameID, playerID uuid.UUID) (*projection.PrivateContext, error) {
	resp, err := c.getPrivateState.CallUnary(ctx, connect.NewRequest(&games.GetPrivateStateRequest{GameID: gameID, PlayerID: playerID}))
	if err != nil {
		return nil, rpcError("get private state", err)
	}
	return resp.Msg.State, nil
}

func (c *RPC) GetHistory(ctx context.Context, gameID uuid.UUID, playerID *uuid.UUID) (*games.GetHistoryResponse, error) {
	resp, err := c.getHistory.CallUnary(ctx, connect.NewRequest(&games.GetHistoryRequest{GameID: gameID, PlayerID: playerID}))
	if err != nil {
		return nil, rpcError("get history", err)
	}
	return resp.Msg, nil
}
