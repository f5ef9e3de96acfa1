package games

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bideuchre/go/internal/game/projection"
	"github.com/mcdev12/bideuchre/go/internal/models"
	"github.com/mcdev12/bideuchre/go/internal/rpcjson"
)

const GameServiceName = "bideuchre.v1.GameService"

// Procedure paths of GameService.
const (
	NewGameProcedure         = "/" + GameServiceName + "/NewGame"
	JoinGameProcedure        = "/" + GameServiceName + "/JoinGame"
	SendGameEventProcedure   = "/" + GameServiceName + "/SendGameEvent"
	GetGameConfigProcedure   = "/" + GameServiceName + "/GetGameConfig"
	GetPublicStateProcedure  = "/" + GameServiceName + "/GetPublicState"
	GetPrivateStateProcedure = "/" + GameServiceName + "/GetPrivateState"
	GetHistoryProcedure      = "/" + GameServiceName + "/GetHistory"
)

// GameApp defines what the service layer needs from the games application
type GameApp interface {
	NewGame(ctx context.Context) (*models.GameConfig, error)
	JoinGame(ctx context.Context, req JoinGameRequest) (*JoinGameResponse, error)
	SendGameEvent(ctx context.Context, req SendGameEventRequest) (*SendGameEventResponse, error)
	GetGameConfig(ctx context.Context, id uuid.UUID) (*models.GameConfig, error)
	GetPublicState(ctx context.Context, id uuid.UUID) (*projection.PublicSnapshot, error)
	GetPrivateState(ctx context.Context, id, playerID uuid.UUID) (*projection.PrivateContext, error)
	GetHistory(ctx context.Context, id uuid.UUID, playerID *uuid.UUID) (*GetHistoryResponse, error)
}

// Service implements the GameService RPCs
type Service struct {
	app GameApp
}

// NewService creates a new game RPC service
func NewService(app GameApp) *Service {
	return &Service{app: app}
}

// NewGameServiceHandler builds an HTTP handler serving every GameService
// procedure. It returns the path to mount the handler on.
func NewGameServiceHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{rpcjson.Option()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(NewGameProcedure, connect.NewUnaryHandler(NewGameProcedure, svc.NewGame, opts...))
	mux.Handle(JoinGameProcedure, connect.NewUnaryHandler(JoinGameProcedure, svc.JoinGame, opts...))
	mux.Handle(SendGameEventProcedure, connect.NewUnaryHandler(SendGameEventProcedure, svc.SendGameEvent, opts...))
	mux.Handle(GetGameConfigProcedure, connect.NewUnaryHandler(GetGameConfigProcedure, svc.GetGameConfig, opts...))
	mux.Handle(GetPublicStateProcedure, connect.NewUnaryHandler(GetPublicStateProcedure, svc.GetPublicState, opts...))
	mux.Handle(GetPrivateStateProcedure, connect.NewUnaryHandler(GetPrivateStateProcedure, svc.GetPrivateState, opts...))
	mux.Handle(GetHistoryProcedure, connect.NewUnaryHandler(GetHistoryProcedure, svc.GetHistory, opts...))
	return "/" + GameServiceName + "/", mux
}

// NewGame creates a new game
func (s *Service) NewGame(ctx context.Context, req *connect.Request[NewGameRequest]) (*connect.Response[NewGameResponse], error) {
	cfg, err := s.app.NewGame(ctx)
	if err != nil {
		return nil, toConnectError("NewGame", err)
	}
	return connect.NewResponse(&NewGameResponse{GameID: cfg.ID, Config: cfg}), nil
}

// JoinGame seats the caller
func (s *Service) JoinGame(ctx context.Context, req *connect.Request[JoinGameRequest]) (*connect.Response[JoinGameResponse], error) {
	resp, err := s.app.JoinGame(ctx, *req.Msg)
	if err != nil {
		return nil, toConnectError("JoinGame", err)
	}
	return connect.NewResponse(resp), nil
}

// SendGameEvent applies a player event
func (s *Service) SendGameEvent(ctx context.Context, req *connect.Request[SendGameEventRequest]) (*connect.Response[SendGameEventResponse], error) {
	if req.Msg.GameID == uuid.Nil || req.Msg.PlayerID == uuid.Nil {
		return nil, toConnectError("SendGameEvent", ErrInvalidArgument)
	}
	resp, err := s.app.SendGameEvent(ctx, *req.Msg)
	if err != nil {
		return nil, toConnectError("SendGameEvent", err)
	}
	return connect.NewResponse(resp), nil
}

func (s *Service) GetGameConfig(ctx context.Context, req *connect.Request[GetGameConfigRequest]) (*connect.Response[GetGameConfigResponse], error) {
	cfg, err := s.app.GetGameConfig(ctx, req.Msg.GameID)
	if err != nil {
		return nil, toConnectError("GetGameConfig", err)
	}
	return connect.NewResponse(&GetGameConfigResponse{Config: cfg}), nil
}

func (s *Service) GetPublicState(ctx context.Context, req *connect.Request[GetPublicStateRequest]) (*connect.Response[GetPublicStateResponse], error) {
	state, err := s.app.GetPublicState(ctx, req.Msg.GameID)
	if err != nil {
		return nil, toConnectError("GetPublicState", err)
	}
	return connect.NewResponse(&GetPublicStateResponse{State: state}), nil
}

func (s *Service) GetPrivateState(ctx context.Context, req *connect.Request[GetPrivateStateRequest]) (*connect.Response[GetPrivateStateResponse], error) {
	state, err := s.app.GetPrivateState(ctx, req.Msg.GameID, req.Msg.PlayerID)
	if err != nil {
		return nil, toConnectError("GetPrivateState", err)
	}
	return connect.NewResponse(&GetPrivateStateResponse{State: state}), nil
}

func (s *Service) GetHistory(ctx context.Context, req *connect.Request[GetHistoryRequest]) (*connect.Response[GetHistoryResponse], error) {
	resp, err := s.app.GetHistory(ctx, req.Msg.GameID, req.Msg.PlayerID)
	if err != nil {
		return nil, toConnectError("GetHistory", err)
	}
	return connect.NewResponse(resp), nil
}

var errorCodes = []struct {
	err  error
	code connect.Code
}{
	{ErrNotFound, connect.CodeNotFound},
	{ErrInvalidArgument, connect.CodeInvalidArgument},
	{ErrInvalidPhase, connect.CodeFailedPrecondition},
	{ErrSeatTaken, connect.CodeAlreadyExists},
	{ErrUnauthorized, connect.CodePermissionDenied},
	{ErrStaleState, connect.CodeAborted},
	{ErrInvalidTransition, connect.CodeInvalidArgument},
	{ErrTransaction, connect.CodeUnavailable},
	{ErrIntegrity, connect.CodeInternal},
}

// toConnectError maps app errors to a connect code with the sentinel's
// stable message. The wrapped detail only goes to the log.
func toConnectError(method string, err error) error {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			level := log.Debug()
			if e.code == connect.CodeInternal || e.code == connect.CodeUnavailable {
				level = log.Error()
			}
			level.Err(err).Str("method", method).Msg("Request failed")
			return connect.NewError(e.code, e.err)
		}
	}
	log.Error().Err(err).Str("method", method).Msg("Request failed")
	return connect.NewError(connect.CodeInternal, errors.New("internal error"))
}

// ErrorFromCode maps a connect error back to the sentinel it was built
// from. Unknown codes map to ErrTransaction.
func ErrorFromCode(err error) error {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return err
	}
	for _, e := range errorCodes {
		if cerr.Code() == e.code && cerr.Message() == e.err.Error() {
			return e.err
		}
	}
	switch cerr.Code() {
	case connect.CodeInternal:
		return ErrIntegrity
	case connect.CodeInvalidArgument:
		return ErrInvalidArgument
	}
	return ErrTransaction
}
