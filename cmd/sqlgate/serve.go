package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	sqlgate "github.com/rickchristie/sqlgate-mcp"
	"github.com/rickchristie/sqlgate-mcp/internal/meta"
	"github.com/rickchristie/sqlgate-mcp/internal/metrics"
)

const shutdownTimeout = 15 * time.Second

type serveFlags struct {
	configPath string
	transport  string
	debug      bool
}

func parseServeFlags(args []string) (serveFlags, error) {
	var f serveFlags
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&f.configPath, "config", os.Getenv(sqlgate.EnvConfigPath), "Path to YAML configuration file")
	fs.StringVar(&f.transport, "transport", "", "Override server.transport (stdio or http)")
	fs.BoolVar(&f.debug, "debug", false, "Force debug logging")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	return f, nil
}

func runServe(args []string) error {
	flags, err := parseServeFlags(args)
	if err != nil {
		return err
	}

	// 1. Load ServerConfig
	serverConfig, err := loadServerConfig(flags)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Setup logger
	logger, err := setupLogger(serverConfig.Logging)
	if err != nil {
		return err
	}

	// 3. Create Gateway
	var m *metrics.Metrics
	opts := []sqlgate.Option{}
	if serverConfig.Server.MetricsEnabled {
		m = metrics.New()
		opts = append(opts, sqlgate.WithMetrics(m))
	}
	if serverConfig.Connection.MetadataConnString != "" {
		opts = append(opts, sqlgate.WithMetadataConnString(serverConfig.Connection.MetadataConnString))
	}
	g, err := sqlgate.New(serverConfig.Connection.ConnString, serverConfig.Config, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	defer g.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Test database connection
	logger.Info().Msg("testing database connection")
	if err := g.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("database connection test failed")
		return fmt.Errorf("database connection test failed: %w", err)
	}
	logger.Info().Msg("database connection test successful")

	// 5. Create MCP server
	mcpServer := newMCPServer(g, logger)

	if serverConfig.Server.Transport == "stdio" {
		logger.Info().Str("version", meta.Version).Msg("serving MCP over stdio")
		return server.ServeStdio(mcpServer)
	}
	return serveHTTP(ctx, serverConfig.Server, mcpServer, g, m, logger)
}

func loadServerConfig(flags serveFlags) (*sqlgate.ServerConfig, error) {
	serverConfig, err := sqlgate.LoadServerConfig(flags.configPath, os.Getenv)
	if err != nil {
		return nil, err
	}
	changed := false
	if flags.transport != "" {
		serverConfig.Server.Transport = strings.ToLower(flags.transport)
		changed = true
	}
	if flags.debug {
		serverConfig.Logging.Level = "debug"
		changed = true
	}
	if changed {
		if err := serverConfig.Validate(); err != nil {
			return nil, err
		}
	}
	return serverConfig, nil
}

// newMCPServer builds the MCP server with every tool and resource registered.
func newMCPServer(g *sqlgate.Gateway, logger zerolog.Logger) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("sqlgate", meta.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithHooks(hooks),
	)
	sqlgate.RegisterMCPTools(mcpServer, g)
	sqlgate.RegisterMCPResources(mcpServer, g)
	return mcpServer
}

func serveHTTP(ctx context.Context, settings sqlgate.ServerSettings, mcpServer *server.MCPServer, g *sqlgate.Gateway, m *metrics.Metrics, logger zerolog.Logger) error {
	if isTTY(os.Stderr.Fd()) {
		printBanner(os.Stderr, true)
	}

	addr := fmt.Sprintf(":%d", settings.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)
	// Start() does not mount the handler when a custom *http.Server is given.
	httpSrv.Handler = newRouter(settings, streamableServer, m)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", settings.Port).Str("version", meta.Version).Msg("starting sqlgate server")
		errCh <- streamableServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down sqlgate server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := streamableServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
		return err
	}
	logger.Info().
		Int("pools", len(g.PoolStats())).
		Msg("server exited")
	return nil
}

// newRouter mounts the MCP endpoint, the optional liveness check and the
// optional metrics endpoint.
func newRouter(settings sqlgate.ServerSettings, mcpHandler http.Handler, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/mcp", mcpHandler)

	// Process liveness only, not DB connectivity.
	if settings.HealthCheckEnabled {
		r.Get(settings.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}

	if settings.MetricsEnabled && m != nil {
		r.Handle(settings.MetricsPath, m.Handler())
	}
	return r
}

// setupLogger builds the process logger. Output defaults to stderr so stdio
// transport keeps stdout for the protocol.
func setupLogger(config sqlgate.LoggingConfig) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	switch config.Output {
	case "", "stderr":
	case "stdout":
		output = os.Stdout
	default:
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		output = f
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger(), nil
}
