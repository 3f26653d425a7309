// Package api provides the HTTP REST API and WebSocket server for BrightDock.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Chuffnugget/BrightDock/internal/bridges/ddc"
	"github.com/Chuffnugget/BrightDock/internal/controlsurface"
	"github.com/Chuffnugget/BrightDock/internal/display"
	"github.com/Chuffnugget/BrightDock/internal/infrastructure/config"
	"github.com/Chuffnugget/BrightDock/internal/infrastructure/logging"
	"github.com/Chuffnugget/BrightDock/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Coordinator is the part of the display coordinator the API uses.
// *display.Coordinator satisfies it.
type Coordinator interface {
	RequestWrite(deviceID int, ctrl display.Control, value int, source string) (display.WriteRequest, error)
	RequestRefresh()
	DeviceState(deviceID int) (display.DeviceState, bool)
	Snapshot() display.Snapshot
	LastSyncStatus() display.SyncStatus
	Stats() display.Stats
	Subscribe(h display.EventHandler)
}

// BridgeMetricsProvider reports MQTT bridge counters. *ddc.Bridge satisfies it.
type BridgeMetricsProvider interface {
	GetMetrics() ddc.BridgeMetrics
}

// MQTTStatus reports broker connectivity and traffic. *mqtt.Client satisfies it.
type MQTTStatus interface {
	IsConnected() bool
	Stats() mqtt.Stats
}

// NodeStatsProvider reports control-surface request counters.
// *controlsurface.Client satisfies it.
type NodeStatsProvider interface {
	URL() string
	Stats() controlsurface.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Coordinator Coordinator
	Bridge      BridgeMetricsProvider // optional
	MQTT        MQTTStatus            // optional
	Node        NodeStatsProvider     // optional
	Version     string
}

// Server is the HTTP API server for BrightDock.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	coord     Coordinator
	bridge    BridgeMetricsProvider
	mqtt      MQTTStatus
	node      NodeStatsProvider
	version   string
	startTime time.Time

	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	cancel  context.CancelFunc // cancels background goroutines on Close()

	subscribeOnce sync.Once
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		coord:     deps.Coordinator,
		bridge:    deps.Bridge,
		mqtt:      deps.MQTT,
		node:      deps.Node,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
		tickets:   newTicketStore(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to coordinator events for
// broadcast, and launches the HTTP listener in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.subscribeEvents()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	if !s.authEnabled() {
		s.logger.Warn("security.jwt.secret is empty, write endpoints are unauthenticated")
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

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

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
