package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/mpp/internal/status"
)

// Status reports the session, network state, unread count and every
// configured account with its connection state.
func (s *Service) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	unread, err := s.Messages.UnreadMessagesCount(ctx)
	if err != nil {
		return nil, toStatus("unread count", err)
	}

	var conns []any
	for _, acc := range s.Accounts.Accounts() {
		state := status.Stopped
		if conn, ok := s.Connections.Connection(acc.ID()); ok {
			state = conn.State()
		}
		conns = append(conns, map[string]any{
			"account":           acc.ID(),
			"realm":             acc.Realm().ID(),
			"enabled":           acc.Enabled(),
			"internet_required": acc.Realm().InternetRequired(),
			"state":             string(state),
		})
	}

	return newStruct(map[string]any{
		"session":     s.SessionName,
		"uptime_ms":   time.Since(s.startedAt).Milliseconds(),
		"online":      s.online(),
		"unread":      unread,
		"connections": conns,
	})
}

// StartConnections starts every enabled account. Starts run in the
// background and outlive the call.
func (s *Service) StartConnections(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	accounts := s.Accounts.Accounts()
	s.Connections.StartConnectionsFor(context.WithoutCancel(ctx), accounts, s.online())
	s.logger.Info("connections start requested", zap.Int("accounts", len(accounts)))
	return newStruct(map[string]any{"accounts": len(accounts)})
}

// StopConnections stops every connection and reports the failures.
func (s *Service) StopConnections(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	failed := make(map[string]any)
	for id, err := range s.Connections.TryStopAll() {
		failed[id] = err.Error()
	}
	s.logger.Info("connections stopped", zap.Int("failed", len(failed)))
	return newStruct(map[string]any{"failed": failed})
}

// SetOnline overrides network reachability until the next probe change.
func (s *Service) SetOnline(ctx context.Context, req *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	if s.Network == nil {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "network monitor not running")
	}
	s.Network.Apply(context.WithoutCancel(ctx), req.GetValue())
	return &emptypb.Empty{}, nil
}

// EnableAccount enables an account and starts its connection in the
// background.
func (s *Service) EnableAccount(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.setEnabled(ctx, req.GetValue(), true)
}

// DisableAccount disables an account and drops its connection.
func (s *Service) DisableAccount(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.setEnabled(ctx, req.GetValue(), false)
}

type enabler interface {
	SetEnabled(enabled bool)
}

func (s *Service) setEnabled(ctx context.Context, id string, enabled bool) (*structpb.Struct, error) {
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "account is required")
	}
	acc, ok := s.Accounts.AccountByID(id)
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "account %q not configured", id)
	}
	e, ok := acc.(enabler)
	if !ok {
		return nil, grpcstatus.Errorf(codes.FailedPrecondition, "account %q cannot be toggled", id)
	}
	e.SetEnabled(enabled)
	s.Connections.UpdateAccount(context.WithoutCancel(ctx), acc, s.online())
	s.logger.Info("account toggled", zap.String("account", id), zap.Bool("enabled", enabled))
	return newStruct(map[string]any{"account": id, "enabled": enabled})
}
