package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "net/http/pprof"

	"github.com/cenkalti/backoff/v5"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/gradekit/pggate/internal/gateway"
	"github.com/gradekit/pggate/internal/gateway/metrics"
	"github.com/gradekit/pggate/internal/pgexec"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr   = "0.0.0.0:8010"
	defaultMetricsAddr  = "0.0.0.0:0"
	defaultStartupProbe = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env file is optional; environment variables win either way.
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	enablePprofFlag := flag.Bool("enable-pprof", false, "enable pprof server")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP server listen address (or set PGGATE_LISTEN_ADDR env var)")

	// PostgreSQL connection configuration
	pgHostFlag := flag.String("pg-host", "localhost", "PostgreSQL host (or set PGGATE_PG_HOST env var)")
	pgPortFlag := flag.Int("pg-port", 5432, "PostgreSQL port (or set PGGATE_PG_PORT env var)")
	pgUserFlag := flag.String("pg-user", "postgres", "PostgreSQL user (or set PGGATE_PG_USER env var)")
	pgPasswordFlag := flag.String("pg-password", "", "PostgreSQL password (or set PGGATE_PG_PASSWORD env var)")
	adminDatabaseFlag := flag.String("admin-database", "postgres", "Database used for catalog queries and probes (or set PGGATE_ADMIN_DATABASE env var)")
	connectTimeoutFlag := flag.Duration("connect-timeout", 10*time.Second, "Connection establishment timeout (or set PGGATE_CONNECT_TIMEOUT env var)")

	// Execution policy configuration
	readOnlyFlag := flag.Bool("read-only", true, "Reject statements that are not read-only (or set PGGATE_READ_ONLY env var)")
	queryTimeoutFlag := flag.Duration("query-timeout", 30*time.Second, "Per-statement execution deadline (or set PGGATE_QUERY_TIMEOUT env var)")
	maxRowsFlag := flag.Int("max-rows", 1000, "Maximum result rows returned per statement (or set PGGATE_MAX_ROWS env var)")

	flag.Parse()

	// Override flags with environment variables if set
	envString("PGGATE_LISTEN_ADDR", listenAddrFlag)
	envString("PGGATE_PG_HOST", pgHostFlag)
	envInt("PGGATE_PG_PORT", pgPortFlag)
	envString("PGGATE_PG_USER", pgUserFlag)
	envString("PGGATE_PG_PASSWORD", pgPasswordFlag)
	envString("PGGATE_ADMIN_DATABASE", adminDatabaseFlag)
	envDuration("PGGATE_CONNECT_TIMEOUT", connectTimeoutFlag)
	envBool("PGGATE_READ_ONLY", readOnlyFlag)
	envDuration("PGGATE_QUERY_TIMEOUT", queryTimeoutFlag)
	envInt("PGGATE_MAX_ROWS", maxRowsFlag)

	log := newLogger(*verboseFlag)

	cfg := pgexec.Config{
		Host:           *pgHostFlag,
		Port:           *pgPortFlag,
		User:           *pgUserFlag,
		Password:       *pgPasswordFlag,
		AdminDatabase:  *adminDatabaseFlag,
		ReadOnly:       *readOnlyFlag,
		QueryTimeout:   *queryTimeoutFlag,
		MaxRows:        *maxRowsFlag,
		ConnectTimeout: *connectTimeoutFlag,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Info("pggate: starting",
		"version", version,
		"host", cfg.Host,
		"port", cfg.Port,
		"user", cfg.User,
		"adminDatabase", cfg.AdminDatabase,
		"readOnly", cfg.ReadOnly,
		"queryTimeout", cfg.QueryTimeout,
		"maxRows", cfg.MaxRows,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigCh
		log.Info("server: received signal", "signal", sig.String())
		cancel()
	}()

	if *enablePprofFlag {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			err := http.ListenAndServe("localhost:6060", nil)
			if err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	var metricsServerErrCh = make(chan error, 1)
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				metricsServerErrCh <- err
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				metricsServerErrCh <- err
				return
			}
		}()
	}

	// Parse allowed tokens from environment variable (comma-separated)
	// Auth can be explicitly disabled with PGGATE_AUTH_DISABLED=true
	var allowedTokens []string
	authDisabled := os.Getenv("PGGATE_AUTH_DISABLED") == "true"

	if authDisabled {
		log.Info("pggate: authentication explicitly disabled")
	} else if tokensEnv := os.Getenv("PGGATE_ALLOWED_TOKENS"); tokensEnv != "" {
		for token := range strings.SplitSeq(tokensEnv, ",") {
			token = strings.TrimSpace(token)
			if token != "" {
				allowedTokens = append(allowedTokens, token)
			}
		}
		if len(allowedTokens) > 0 {
			log.Info("pggate: token authentication enabled", "token_count", len(allowedTokens))
		}
	} else {
		log.Info("pggate: authentication disabled (no tokens configured)")
	}

	provider := pgexec.NewProvider(cfg, log)
	executor := pgexec.NewExecutor(cfg, log, provider)
	lister := pgexec.NewLister(cfg, log, provider)

	// Wait briefly for the database at startup. Not reaching it is not
	// fatal: readiness reflects availability from here on, and request
	// paths never retry.
	probeBackoff := backoff.NewExponentialBackOff()
	if _, err := backoff.Retry(ctx, func() (struct{}, error) {
		pingCtx, pingCancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer pingCancel()
		if err := lister.Ping(pingCtx); err != nil {
			log.Warn("startup: database not reachable yet", "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(probeBackoff), backoff.WithMaxElapsedTime(defaultStartupProbe)); err != nil {
		log.Warn("startup: database not reachable, continuing", "error", err)
	} else {
		log.Info("startup: database reachable",
			"host", cfg.Host,
			"port", cfg.Port,
			"adminDatabase", cfg.AdminDatabase,
		)
	}

	server, err := gateway.New(ctx, gateway.Config{
		Version:       version,
		ListenAddr:    *listenAddrFlag,
		Logger:        log,
		Executor:      executor,
		Lister:        lister,
		AllowedTokens: allowedTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		err := server.Run(ctx)
		if err != nil {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("server: shutting down", "reason", ctx.Err())
		return nil
	case err := <-serverErrCh:
		log.Error("server: server error causing shutdown", "error", err)
		return err
	case err := <-metricsServerErrCh:
		log.Error("server: metrics server error causing shutdown", "error", err)
		return err
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().UTC()
				a.Value = slog.StringValue(formatRFC3339Millis(t))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
