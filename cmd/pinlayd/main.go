// Command pinlayd serves the annotation API.
//
// Usage:
//
//	pinlayd -db pinlay.db                  # serve on :8787
//	pinlayd -db pinlay.db -addr :9000      # custom listen address
//
// Basic auth is enabled when PINLAY_PASSWORD_HASH (a bcrypt hash) is set.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pinlay/pinlay/comment/sqlite"
	"github.com/pinlay/pinlay/httpapi"
)

func main() {
	addr := flag.String("addr", ":8787", "listen address")
	dbPath := flag.String("db", "pinlay.db", "path to SQLite database")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	mcpEnabled := flag.Bool("mcp", false, "expose MCP tools at /mcp")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *addr, *dbPath, *mcpEnabled); err != nil {
		logger.Error("pinlayd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, addr, dbPath string, mcpEnabled bool) error {
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Pick up writes from other processes (a second instance, the audit
	// tool) so SSE clients see them too.
	watcher := sqlite.NewWatcher(store, sqlite.WatchOptions{
		Debounce: 250 * time.Millisecond,
		Logger:   logger,
	})
	go watcher.Run(ctx)

	opts := []httpapi.Option{httpapi.WithLogger(logger)}
	if hash := os.Getenv("PINLAY_PASSWORD_HASH"); hash != "" {
		opts = append(opts, httpapi.WithPasswordHash([]byte(hash)))
	}
	api := httpapi.New(store, opts...)
	router := api.Router()

	if mcpEnabled {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "pinlay",
			Version: "1.0.0",
		}, nil)
		api.RegisterMCP(mcpSrv)
		router.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return mcpSrv
		}, nil))
		logger.Info("pinlayd: mcp tools enabled", "path", "/mcp")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pinlayd: listening", "addr", addr, "db", dbPath)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("pinlayd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
