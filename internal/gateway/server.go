// Package gateway serves the route table over HTTP: it validates bodies,
// invokes targets or the chat service and maps every outcome to a JSON
// response.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"scriptgate/internal/auditlog"
	"scriptgate/internal/chat"
	"scriptgate/internal/logging"
	"scriptgate/internal/runner"
)

const (
	defaultMaxBodyBytes    = 1 << 20
	defaultShutdownTimeout = 10 * time.Second
	writeTimeoutSlack      = 30 * time.Second
)

// Invoker runs registered targets. *runner.Runner satisfies it.
type Invoker interface {
	Run(ctx context.Context, req runner.Request) runner.Result
	Available(name string) bool
	Names() []string
}

// Responder answers chat messages. *chat.Service satisfies it.
type Responder interface {
	Respond(ctx context.Context, in chat.Input) (*chat.Reply, error)
	ProviderName() string
	Healthy(ctx context.Context) error
}

// Recorder persists invocation outcomes. *auditlog.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, e auditlog.Entry) error
}

type Config struct {
	Host            string
	Port            int
	ServiceName     string
	Version         string
	MaxBodyBytes    int64
	CORSOrigins     []string
	ShutdownTimeout time.Duration

	Table  *Table
	Runner Invoker
	Chat   Responder // required when the table has a chat route
	Audit  Recorder  // optional
	Logger *slog.Logger
}

// Server is the HTTP front of the gateway.
type Server struct {
	host            string
	port            int
	serviceName     string
	version         string
	maxBody         int64
	corsOrigins     []string
	shutdownTimeout time.Duration

	table  *Table
	runner Invoker
	chat   Responder
	audit  Recorder
	logger *slog.Logger
	server *http.Server
	now    func() time.Time
}

func New(cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Table == nil {
		cfg.Table = NewTable(nil)
	}
	return &Server{
		host:            cfg.Host,
		port:            cfg.Port,
		serviceName:     cfg.ServiceName,
		version:         cfg.Version,
		maxBody:         cfg.MaxBodyBytes,
		corsOrigins:     cfg.CORSOrigins,
		shutdownTimeout: cfg.ShutdownTimeout,
		table:           cfg.Table,
		runner:          cfg.Runner,
		chat:            cfg.Chat,
		audit:           cfg.Audit,
		logger:          cfg.Logger,
		now:             time.Now,
	}
}

// Handler returns the full middleware chain around the dispatcher.
func (s *Server) Handler() http.Handler {
	return s.observe(s.recoverer(s.cors(http.HandlerFunc(s.dispatch))))
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	writeTimeout := s.table.MaxTimeout() + writeTimeoutSlack
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("gateway started", "addr", ln.Addr().String(), "service", s.serviceName, "version", s.version)
	for _, r := range s.table.Routes() {
		attrs := []any{"endpoint", r.Endpoint(), "kind", r.Kind}
		if r.Target != "" {
			attrs = append(attrs, "target", r.Target)
		}
		if r.Timeout > 0 {
			attrs = append(attrs, "timeout", r.Timeout)
		}
		s.logger.Info("route", attrs...)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown incomplete", "err", err)
		}
	}()

	if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("gateway stopped")
	return nil
}

// Stop closes the listener and every connection immediately.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", "err", err)
		status = http.StatusInternalServerError
		data, _ = json.Marshal(internalEnvelope().body(s.now()))
	}
	s.writeRaw(w, status, data)
}

func (s *Server) writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	w.Write([]byte("\n"))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, env envelope) {
	if rec, ok := w.(*recorder); ok {
		rec.kind = env.errType
	}
	if env.status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Warn("request failed",
			"path", r.URL.Path, "status", env.status, "error_type", env.errType, "error", env.message)
	}
	s.writeJSON(w, env.status, env.body(s.now()))
}
