// Command server starts the vodgate upload gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vodgate/internal/api"
	"vodgate/internal/auth"
	"vodgate/internal/observability/logging"
	"vodgate/internal/server"
	"vodgate/internal/stream"
	"vodgate/internal/upload"
)

// tokenFlag collects repeatable -api-token subject=secret[:role1|role2]
// definitions for bootstrap provisioning.
type tokenFlag map[string]tokenSpec

type tokenSpec struct {
	Secret string
	Roles  []string
}

func (tf *tokenFlag) String() string {
	if tf == nil || len(*tf) == 0 {
		return ""
	}
	parts := make([]string, 0, len(*tf))
	for subject := range *tf {
		parts = append(parts, subject)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (tf *tokenFlag) Set(value string) error {
	subject, spec, err := parseTokenSpec(value)
	if err != nil {
		return err
	}
	if *tf == nil {
		*tf = make(map[string]tokenSpec)
	}
	(*tf)[subject] = spec
	return nil
}

func parseTokenSpec(value string) (string, tokenSpec, error) {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return "", tokenSpec{}, fmt.Errorf("invalid format %q, expected subject=secret[:role1|role2]", value)
	}
	subject := strings.TrimSpace(parts[0])
	if subject == "" {
		return "", tokenSpec{}, fmt.Errorf("token subject is required")
	}
	secret := strings.TrimSpace(parts[1])
	roles := []string{"uploader"}
	if idx := strings.LastIndex(secret, ":"); idx >= 0 {
		if declared := parseRoles(secret[idx+1:]); len(declared) > 0 {
			roles = declared
			secret = strings.TrimSpace(secret[:idx])
		}
	}
	if secret == "" {
		return "", tokenSpec{}, fmt.Errorf("token secret is required for subject %q", subject)
	}
	return subject, tokenSpec{Secret: secret, Roles: roles}, nil
}

func parseRoles(raw string) []string {
	parts := strings.Split(raw, "|")
	roles := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed != "" {
			roles = append(roles, trimmed)
		}
	}
	return roles
}

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataDir := flag.String("data-dir", "", "directory holding upload sinks and the session index")
	maxUploadBytes := flag.Int64("max-upload-bytes", 0, "maximum declared upload size in bytes")
	retention := flag.Duration("retention", 0, "how long incomplete sessions stay resumable")
	sweepInterval := flag.Duration("sweep-interval", 0, "interval between expired-session sweeps")
	completionLimit := flag.Int64("completion-limit", 0, "maximum concurrent ingestion handoffs")
	tokenStoreDriver := flag.String("token-store", "", "token store driver (memory or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for the token store")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	createLimit := flag.Int("rate-create-limit", 0, "maximum new upload sessions per window for a single IP")
	createWindow := flag.Duration("rate-create-window", 0, "window for counting session creations")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed create throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed create throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	corsOrigins := flag.String("cors-origins", "", "comma separated browser origins allowed to upload")
	var apiTokens tokenFlag
	flag.Var(&apiTokens, "api-token", "provision an API token (subject=secret[:role1|role2], repeatable)")
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("VODGATE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("VODGATE_LOG_FORMAT")),
	})

	listenAddr := firstNonEmpty(*addr, os.Getenv("VODGATE_ADDR"))
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	storeDir := firstNonEmpty(*dataDir, os.Getenv("VODGATE_DATA_DIR"))
	if storeDir == "" {
		storeDir = "data/uploads"
	}

	var storeOptions []upload.DiskStoreOption
	if limit := resolveInt64(*maxUploadBytes, "VODGATE_MAX_UPLOAD_BYTES"); limit > 0 {
		storeOptions = append(storeOptions, upload.WithMaxBytes(limit))
	}
	retentionValue := resolveDuration(*retention, "VODGATE_RETENTION", 0)
	if retentionValue > 0 {
		storeOptions = append(storeOptions, upload.WithRetention(retentionValue))
	}

	store, err := upload.NewDiskStore(storeDir, storeOptions...)
	if err != nil {
		logger.Error("failed to open upload store", "error", err)
		os.Exit(1)
	}

	streamConfig, err := stream.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load ingestion configuration", "error", err)
		os.Exit(1)
	}
	streamClient, err := streamConfig.NewHTTPClient()
	if err != nil {
		logger.Error("failed to initialise ingestion client", "error", err)
		os.Exit(1)
	}
	streamClient.SetLogger(logging.WithComponent(logger, "stream"))

	tokenStore, tokenCloser, err := configureTokenStore(
		firstNonEmpty(*tokenStoreDriver, os.Getenv("VODGATE_TOKEN_STORE")),
		firstNonEmpty(*postgresDSN, os.Getenv("VODGATE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
	)
	if err != nil {
		logger.Error("failed to open token store", "error", err)
		os.Exit(1)
	}
	tokens := auth.NewManager(auth.WithStore(tokenStore))

	bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := provisionTokens(bootstrapCtx, tokens, apiTokens, os.Getenv("VODGATE_API_TOKENS")); err != nil {
		bootstrapCancel()
		logger.Error("failed to provision API tokens", "error", err)
		os.Exit(1)
	}
	bootstrapCancel()

	handler := api.NewHandler(api.Config{
		Uploads:         store,
		Stream:          streamClient,
		Locators:        streamConfig.Locators(),
		Tokens:          tokens,
		Logger:          logging.WithComponent(logger, "api"),
		UploadTTL:       store.Retention(),
		CompletionLimit: resolveInt64(*completionLimit, "VODGATE_COMPLETION_LIMIT"),
	})

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "VODGATE_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "VODGATE_RATE_GLOBAL_BURST"),
		CreateLimit:   resolveInt(*createLimit, "VODGATE_RATE_CREATE_LIMIT"),
		CreateWindow:  resolveDuration(*createWindow, "VODGATE_RATE_CREATE_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("VODGATE_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("VODGATE_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*redisTimeout, "VODGATE_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("VODGATE_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("VODGATE_TLS_KEY")),
		},
		RateLimit: rateCfg,
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("VODGATE_CORS_ORIGINS"))),
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	sweepStop := startSweepWorker(
		workerCtx,
		logging.WithComponent(logger, "sweeper"),
		store,
		tokens,
		resolveDuration(*sweepInterval, "VODGATE_SWEEP_INTERVAL", 15*time.Minute),
	)
	defer sweepStop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("vodgate listening", "addr", listenAddr, "data_dir", storeDir)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	workerCancel()
	sweepStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	if tokenCloser != nil {
		if err := tokenCloser(ctx); err != nil {
			logger.Warn("failed to close token store", "error", err)
		}
	}

	logger.Info("server stopped")
}

func configureTokenStore(driver, dsn string) (auth.TokenStore, func(context.Context) error, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		if strings.TrimSpace(dsn) != "" {
			driver = "postgres"
		} else {
			driver = "memory"
		}
	}
	switch driver {
	case "memory":
		return auth.NewMemoryTokenStore(), nil, nil
	case "postgres":
		if strings.TrimSpace(dsn) == "" {
			return nil, nil, fmt.Errorf("postgres token store selected without DSN")
		}
		pgStore, err := auth.NewPostgresTokenStore(dsn)
		if err != nil {
			return nil, nil, err
		}
		return pgStore, pgStore.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported token store driver %q", driver)
	}
}

// provisionTokens registers bootstrap tokens from flags and from the
// VODGATE_API_TOKENS environment variable. Entries in the variable are
// comma separated and use the same subject=secret[:role1|role2] format as
// the -api-token flag; flags win on subject collisions.
func provisionTokens(ctx context.Context, tokens *auth.Manager, flags tokenFlag, env string) error {
	specs := make(map[string]tokenSpec)
	for _, entry := range splitAndTrim(env) {
		subject, spec, err := parseTokenSpec(entry)
		if err != nil {
			return fmt.Errorf("VODGATE_API_TOKENS: %w", err)
		}
		specs[subject] = spec
	}
	for subject, spec := range flags {
		specs[subject] = spec
	}
	for subject, spec := range specs {
		if err := tokens.Provision(ctx, subject, spec.Secret, spec.Roles, 0); err != nil {
			return fmt.Errorf("provision token for %q: %w", subject, err)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
