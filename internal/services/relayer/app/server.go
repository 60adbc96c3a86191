package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/soropass/internal/platform/logging"
	"github.com/louisbranch/soropass/internal/platform/timeouts"
	"github.com/louisbranch/soropass/internal/services/relayer/credential"
	"github.com/louisbranch/soropass/internal/services/relayer/pipeline"
	"github.com/sirupsen/logrus"
)

// DefaultUserName is the account name offered to new passkeys.
const DefaultUserName = "Soroban Test"

// Config defines the inputs for the relayer HTTP surface.
type Config struct {
	HTTPAddr          string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	RelyingParty      credential.RelyingParty
	UserName          string
}

// Server hosts the browser-facing relayer API. Invocations run on a context
// owned by the server, so a ceremony outlives the request that started it.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	handler         *handler
	log             logrus.FieldLogger
}

// NewServer builds a relayer server around service. bridge must be the
// authenticator the service's signer was built with.
func NewServer(cfg Config, service *pipeline.Service, bridge *Bridge, log logrus.FieldLogger) (*Server, error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if service == nil {
		return nil, errors.New("pipeline service is required")
	}
	if bridge == nil {
		return nil, errors.New("assertion bridge is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = timeouts.Shutdown
	}
	if strings.TrimSpace(cfg.UserName) == "" {
		cfg.UserName = DefaultUserName
	}
	log = logging.OrDiscard(log).WithField("component", "http")

	runCtx, stop := context.WithCancel(context.Background())
	h := &handler{
		service:  service,
		bridge:   bridge,
		rp:       cfg.RelyingParty,
		userName: cfg.UserName,
		log:      log,
		runCtx:   runCtx,
		stop:     stop,
		running:  make(map[string]chan invokeResult),
	}
	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: cfg.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           h.routes(),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		handler: h,
		log:     log,
	}, nil
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run builds a server and serves until ctx ends.
func Run(ctx context.Context, cfg Config, service *pipeline.Service, bridge *Bridge, log logrus.FieldLogger) error {
	server, err := NewServer(cfg, service, bridge, log)
	if err != nil {
		return fmt.Errorf("init relayer server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve relayer: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("relayer server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	s.log.WithField("addr", s.httpAddr).Info("relayer server listening")
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close fails parked ceremonies and waits for running invocations.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.handler.close()
}

type invokeResult struct {
	attempt *pipeline.Attempt
	err     error
}

type handler struct {
	service  *pipeline.Service
	bridge   *Bridge
	rp       credential.RelyingParty
	userName string
	log      logrus.FieldLogger

	runCtx context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]chan invokeResult
}

func (h *handler) close() {
	h.bridge.Close()
	h.stop()
	h.wg.Wait()
}

func (h *handler) track(attemptID string, done chan invokeResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running[attemptID] = done
}

func (h *handler) take(attemptID string) (chan invokeResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	done, ok := h.running[attemptID]
	if ok {
		delete(h.running, attemptID)
	}
	return done, ok
}
