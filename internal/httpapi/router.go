// Package httpapi serves the daemon's HTTP surface: Prometheus metrics, a
// health probe and the webhooks an SMS gateway posts traffic to.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/realm/sms"
)

// maxWebhookBody bounds one webhook request.
const maxWebhookBody = 1 << 20

// Broadcaster is the SMS broadcast channel. *sms.Channel implements it.
type Broadcaster interface {
	Broadcast(ctx context.Context, sig sms.Signal, payload []byte) int
}

// Options configures the router.
type Options struct {
	SMS Broadcaster
	// WebhookToken, when set, must be sent as a bearer token.
	WebhookToken string
	// Gatherer defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

var signals = map[string]sms.Signal{
	"received":  sms.SignalReceived,
	"sent":      sms.SignalSent,
	"delivered": sms.SignalDelivered,
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	logger := opts.Logger.Named("http")

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/sms", func(r chi.Router) {
		r.Use(bearer(opts.WebhookToken))
		r.Post("/{signal}", func(w http.ResponseWriter, req *http.Request) {
			sig, ok := signals[chi.URLParam(req, "signal")]
			if !ok {
				http.Error(w, "unknown signal", http.StatusNotFound)
				return
			}
			if opts.SMS == nil {
				http.Error(w, "sms not configured", http.StatusServiceUnavailable)
				return
			}
			body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
			if err != nil {
				http.Error(w, "read body", http.StatusBadRequest)
				return
			}
			if !json.Valid(body) {
				http.Error(w, "body is not JSON", http.StatusBadRequest)
				return
			}
			n := opts.SMS.Broadcast(req.Context(), sig, body)
			logger.Info("sms webhook", zap.String("signal", string(sig)), zap.Int("receivers", n))
			if n == 0 {
				http.Error(w, "no sms connection running", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		})
	})
	return r
}

func bearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Server runs the router on a TCP address.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a server for addr.
func NewServer(addr string, h http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second},
		logger: logger.Named("http"),
	}
}

// Start listens and serves in the background. Listen errors are returned.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("http server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
