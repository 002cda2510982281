// Package api provides the HTTP REST API and WebSocket server for the
// AVGear matrix bridge.
//
// It exposes the live device snapshot, routing and control operations,
// preset management, and the change journal to user interfaces. State
// changes stream to WebSocket clients in real time.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
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
	"time"

	"github.com/nerrad567/avgear-matrix/internal/history"
	"github.com/nerrad567/avgear-matrix/internal/infrastructure/config"
	"github.com/nerrad567/avgear-matrix/internal/infrastructure/logging"
	"github.com/nerrad567/avgear-matrix/internal/matrix"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the device surface the API drives. *matrix.Controller
// satisfies it; tests substitute a fake.
type Controller interface {
	Snapshot() matrix.Snapshot
	Subscribe() (int, <-chan matrix.Snapshot)
	Unsubscribe(id int)
	Route(ctx context.Context, input, output int) error
	RouteMulti(ctx context.Context, input int, outputs []int) error
	RouteAll(ctx context.Context, input int) error
	RouteThrough(ctx context.Context) error
	OutputThrough(ctx context.Context, output int) error
	SetOutputEnabled(ctx context.Context, output int, enabled bool) error
	SetAllOutputsEnabled(ctx context.Context, enabled bool) error
	SavePreset(ctx context.Context, slot int) error
	RecallPreset(ctx context.Context, slot int) error
	ClearPreset(ctx context.Context, slot int) error
	SetPower(ctx context.Context, state matrix.PowerState) error
	SetLock(ctx context.Context, output int, locked bool) error
	SetLockAll(ctx context.Context, locked bool) error
	SetPresetName(slot int, name string) error
	RefreshStatus(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Controller Controller
	DeviceID   string

	// Journal is optional; history endpoints return 404 without it.
	Journal *history.Journal

	Version string
}

// Server is the HTTP API server for the matrix bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	controller Controller
	deviceID   string
	journal    *history.Journal
	version    string
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if deps.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		controller: deps.Controller,
		deviceID:   deps.DeviceID,
		journal:    deps.Journal,
		version:    deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, subscribes to device
// snapshot changes for WebSocket broadcast, and launches the HTTP
// listener in a background goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)
	go s.broadcastSnapshots(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", s.server.Addr)
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

// HealthCheck verifies the API server is running.
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

// broadcastSnapshots relays device snapshot changes to WebSocket clients.
func (s *Server) broadcastSnapshots(ctx context.Context) {
	id, ch := s.controller.Subscribe()
	defer s.controller.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			s.hub.Broadcast("device.state_changed", snap)
		}
	}
}
