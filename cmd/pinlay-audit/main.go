// Command pinlay-audit checks stored anchor selectors against live pages.
//
// Usage:
//
//	pinlay-audit -config audit.yaml -db pinlay.db
//	pinlay-audit -config audit.yaml -server http://localhost:8787
//
// The report is printed to stdout as JSON. Exit status is 2 when any
// anchor was lost, so the command slots into cron and CI health checks.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pinlay/pinlay/auditor"
	"github.com/pinlay/pinlay/comment"
	"github.com/pinlay/pinlay/comment/restclient"
	"github.com/pinlay/pinlay/comment/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to audit.yaml config file")
	dbPath := flag.String("db", "", "path to SQLite database")
	serverURL := flag.String("server", "", "annotation service base URL (alternative to -db)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
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

	code, err := run(ctx, logger, *configPath, *dbPath, *serverURL)
	if err != nil {
		logger.Error("pinlay-audit: fatal", "error", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath, serverURL string) (int, error) {
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: pinlay-audit -config <file> (-db <path> | -server <url>)")
		os.Exit(1)
	}

	cfg, err := auditor.LoadConfigFile(configPath)
	if err != nil {
		return 0, err
	}

	store, cleanup, err := openStore(dbPath, serverURL, logger)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	a := auditor.New(cfg, store, auditor.WithLogger(logger))
	report, err := a.Run(ctx)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return 0, err
	}

	for _, page := range report.Pages {
		if page.Lost > 0 || page.Error != "" {
			return 2, nil
		}
	}
	return 0, nil
}

func openStore(dbPath, serverURL string, logger *slog.Logger) (comment.Store, func(), error) {
	switch {
	case dbPath != "":
		s, err := sqlite.Open(dbPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case serverURL != "":
		c := restclient.New(serverURL, restclient.WithLogger(logger))
		return c, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("pinlay-audit: one of -db or -server is required")
	}
}
