package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	snapbridge "github.com/snapdog2/snapdog-core/internal/bridges/snapcast"
	"github.com/snapdog2/snapdog-core/internal/infrastructure/config"
	"github.com/snapdog2/snapdog-core/internal/infrastructure/logging"
	"github.com/snapdog2/snapdog-core/internal/jsonrpc"
	"github.com/snapdog2/snapdog-core/internal/snapcast"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SnapcastClient is the JSON-RPC connection the API reports on.
// *jsonrpc.Client satisfies it.
type SnapcastClient interface {
	IsConnected() bool
	Stats() jsonrpc.Stats
	OnNotification(h jsonrpc.NotificationHandler) jsonrpc.HandlerID
	RemoveNotification(id jsonrpc.HandlerID) bool
	OnStateChange(fn func(from, to jsonrpc.ConnState)) jsonrpc.HandlerID
	RemoveStateChange(id jsonrpc.HandlerID) bool
}

// SnapcastService reads and changes server state.
// *snapcast.Service satisfies it.
type SnapcastService interface {
	GetStatus(ctx context.Context) (snapcast.Server, error)
	GetRPCVersion(ctx context.Context) (snapcast.RPCVersion, error)
	SetClientVolume(ctx context.Context, clientID string, percent int) (snapcast.Volume, error)
	SetClientMute(ctx context.Context, clientID string, muted bool) (snapcast.Volume, error)
	DeleteClient(ctx context.Context, clientID string) (snapcast.Server, error)
}

// BridgeMetricsProvider exposes MQTT bridge counters.
type BridgeMetricsProvider interface {
	GetMetrics() snapbridge.BridgeMetrics
}

// ConnectionStatus reports whether a dependency is connected.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Snapcast SnapcastClient
	Service  SnapcastService
	MQTT     ConnectionStatus      // optional
	Bridge   BridgeMetricsProvider // optional
	Version  string
}

// Server is the HTTP API server for SnapDog.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	snapcast  SnapcastClient
	service   SnapcastService
	mqtt      ConnectionStatus
	bridge    BridgeMetricsProvider
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()

	mu       sync.Mutex
	addr     net.Addr
	notifyID jsonrpc.HandlerID
	stateID  jsonrpc.HandlerID
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Snapcast == nil {
		return nil, fmt.Errorf("snapcast client is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("snapcast service is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		snapcast:  deps.Snapcast,
		service:   deps.Service,
		mqtt:      deps.MQTT,
		bridge:    deps.Bridge,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, registers the Snapcast listeners that feed
// it, binds the listener and serves in a background goroutine. Binding
// happens here so a port conflict is reported to the caller.
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.subscribeSnapcastEvents()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		s.unsubscribeSnapcastEvents()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	// Serve in background
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	s.unsubscribeSnapcastEvents()

	// Cancel background goroutines (hub)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.Addr() == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
