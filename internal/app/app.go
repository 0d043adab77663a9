package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	server "stutterguard/server"
	"stutterguard/server/internal/config"
	"stutterguard/server/internal/dispatch"
	servernet "stutterguard/server/internal/net"
	"stutterguard/server/internal/net/intake"
	"stutterguard/server/internal/telemetry"
	"stutterguard/server/logging"
	loggingSinks "stutterguard/server/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Settings  config.Config
	Logger    telemetry.Logger
	ClientDir string
	// Registry lets callers register custom listener kinds before the echo
	// scope is installed. It must not be installed yet.
	Registry *dispatch.Registry
	// OnListen is called with the bound address once the listener is open.
	OnListen func(net.Addr)
}

// Run serves the HTTP and websocket surface until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	settings := cfg.Settings

	profiles, err := settings.Profiles()
	if err != nil {
		return err
	}

	logConfig := logging.DefaultConfig().WithJSONFile(settings.LogJSONPath)
	logConfig.MinimumSeverity = settings.MinSeverity()
	sinks := []logging.NamedSink{{Name: logging.SinkConsole, Sink: loggingSinks.NewConsoleSink(os.Stdout)}}
	if logConfig.HasSink(logging.SinkJSON) {
		jsonSink, err := loggingSinks.OpenJSONFile(logConfig.JSON.FilePath, logConfig.JSON.FlushInterval)
		if err != nil {
			return fmt.Errorf("failed to open json log sink: %w", err)
		}
		sinks = append(sinks, logging.NamedSink{Name: logging.SinkJSON, Sink: jsonSink})
	}

	router, err := logging.NewRouter(logging.ClockFunc(time.Now), logConfig, sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	hubCfg := server.HubConfigFrom(settings)
	hubCfg.Profiles = profiles
	hubCfg.Registry = cfg.Registry
	hubCfg.Logger = telemetryLogger
	hubCfg.Publisher = router

	hub, err := server.NewHubWithConfig(hubCfg)
	if err != nil {
		if errors.Is(err, dispatch.ErrAlreadyInstalled) {
			telemetryLogger.Printf("refusing to start: %v", err)
		}
		return err
	}

	stop := make(chan struct{})
	go hub.RunSimulation(stop)
	defer close(stop)

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		ClientDir: cfg.ClientDir,
		Logger:    telemetryLogger,
		Publisher: router,
		Limits: intake.Limits{
			Rate:  settings.InputRateLimit,
			Burst: settings.InputBurst,
		},
	})

	listener, err := net.Listen("tcp", settings.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", settings.Addr, err)
	}
	if cfg.OnListen != nil {
		cfg.OnListen(listener.Addr())
	}

	srv := &http.Server{Handler: handler}
	telemetryLogger.Printf("server listening on %s (default profile %s)", listener.Addr(), settings.DefaultProfile)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
