package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"

	"storypoints/internal/api"
	"storypoints/internal/config"
	"storypoints/internal/gateway"
	"storypoints/internal/journal"
	"storypoints/internal/rooms"
	"storypoints/internal/websocket"
	"storypoints/pkg/interfaces"
	"storypoints/pkg/types"
)

// Application owns every component and their lifecycle.
// Construction order: Journal → Transport registry → Rooms → Gateway → Handler → API → HTTP.
type Application struct {
	config     *config.Config
	journal    interfaces.Journal
	registry   *websocket.Registry
	rooms      *rooms.Registry
	gateway    *gateway.Gateway
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
	errCh      chan error
}

// NewApplication builds every component from cfg. Nothing listens until Start.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	scale, err := types.NewScale(cfg.Voting.Scale)
	if err != nil {
		return nil, fmt.Errorf("invalid voting scale: %w", err)
	}

	activity, err := journal.Open(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("failed to open activity journal: %w", err)
	}
	recorder := journal.NewRecorder(activity, nil)

	registry := websocket.NewRegistry()

	roomRegistry := rooms.NewRegistry(rooms.Options{
		TickInterval: cfg.Timer.TickInterval,
		OnTimer:      gateway.TimerBroadcast(registry),
		Observer:     recorder,
	})

	authorizer := gateway.NewSecretAuthorizer(cfg.Auth.Secret)
	if !authorizer.Enabled() {
		log.Warn().Msg("no room secret configured, every event is authorized")
	}

	gw := gateway.New(gateway.Options{
		Registry:    roomRegistry,
		Broadcaster: registry,
		Authorizer:  authorizer,
		Scale:       scale,
		Activity:    recorder,
	})

	wsHandler := websocket.NewHandler(registry, gw, websocket.Config{
		ReadLimit:       cfg.WebSocket.ReadLimit,
		PingInterval:    cfg.WebSocket.PingInterval,
		PongWait:        cfg.WebSocket.PongWait,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		SendBuffer:      cfg.WebSocket.SendBuffer,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		EventsPerMinute: cfg.WebSocket.EventsPerMinute,
	})

	apiServer := api.NewServer(api.Options{
		Rooms:          roomRegistry,
		Transport:      registry,
		Journal:        activity,
		Authorizer:     authorizer,
		WebSocket:      http.HandlerFunc(wsHandler.HandleWebSocket),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		journal:    activity,
		registry:   registry,
		rooms:      roomRegistry,
		gateway:    gw,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
		errCh:      make(chan error, 1),
	}, nil
}

// Start binds the listener and serves in the background. Errors after a successful
// start are delivered on Errors.
func (app *Application) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	log.Info().
		Str("addr", listener.Addr().String()).
		Str("journal", app.config.Journal.Backend).
		Msg("storypoints started")
	return nil
}

// Errors reports fatal server errors after Start.
func (app *Application) Errors() <-chan error {
	return app.errCh
}

// Stop shuts down in reverse order: HTTP, connections, rooms, journal.
func (app *Application) Stop(ctx context.Context) error {
	log.Info().Msg("shutting down storypoints")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	// Hijacked websocket connections are not tracked by http.Server.
	app.registry.CloseAll()
	done := make(chan struct{})
	go func() {
		app.wsHandler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for connections: %w", ctx.Err()))
	}

	app.rooms.Close()

	if err := app.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal close: %w", err))
	}

	log.Info().Msg("storypoints shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound listener address once started, else the configured one.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
