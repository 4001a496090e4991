package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/mpp/internal/api"
	"github.com/matheus3301/mpp/internal/metrics"
)

// Server serves the control API on the session's unix socket.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer binds the socket. The session lock is already held, so a
// leftover socket belongs to a dead daemon and is replaced.
func NewServer(p Params, logger *zap.Logger, control *api.Service) (*Server, error) {
	socketPath := p.socketPath()
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observeUnary(logger)),
		grpc.ChainStreamInterceptor(observeStream(logger)),
	)
	api.Register(srv, control)

	return &Server{
		grpcServer: srv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

func observeUnary(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(logger, info.FullMethod, start, err)
		return resp, err
	}
}

func observeStream(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observe(logger, info.FullMethod, start, err)
		return err
	}
}

func observe(logger *zap.Logger, method string, start time.Time, err error) {
	code := grpcstatus.Code(err)
	metrics.ControlRequestsTotal.WithLabelValues(method, code.String()).Inc()
	logger.Debug("control call",
		zap.String("method", method),
		zap.String("code", code.String()),
		zap.Duration("took", time.Since(start)),
		zap.Error(err),
	)
}

// Start serves until Stop. It blocks.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop drains in-flight calls and removes the socket. Streams still open
// when ctx ends are cut.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	_ = os.Remove(s.socketPath)
}
