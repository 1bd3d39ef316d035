// Command server starts the kid-stream ingress provisioning API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"kidstream-ingress/internal/api"
	"kidstream-ingress/internal/authz"
	"kidstream-ingress/internal/clock"
	"kidstream-ingress/internal/credentials"
	"kidstream-ingress/internal/cryptostore"
	"kidstream-ingress/internal/observability/logging"
	"kidstream-ingress/internal/observability/metrics"
	"kidstream-ingress/internal/server"
	"kidstream-ingress/internal/serverutil"
	"kidstream-ingress/internal/session"
	"kidstream-ingress/internal/stagepool"
	"kidstream-ingress/internal/store"
	"kidstream-ingress/internal/upstream"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")

	storageDriver := flag.String("storage-driver", "", "datastore driver (memory or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")

	region := flag.String("region", "", "upstream region (e.g. us-east-1)")
	stagePrefix := flag.String("stage-prefix", "", "name prefix for pool-owned upstream stages")
	targetPoolSize := flag.Int("target-pool-size", 0, "number of warm stages the pool keeps available")
	maxPoolSize := flag.Int("max-pool-size", 0, "hard cap on total pool-owned stages")
	replenishInterval := flag.Duration("replenish-interval", 0, "interval between replenishment passes")
	stageMaxAge := flag.Duration("stage-max-age", 0, "idle age at which a stage is eligible for cleanup")
	createBatchLimit := flag.Int("create-batch-limit", 0, "max stages created per replenishment pass")
	createSpacing := flag.Duration("create-spacing", 0, "pause between successive on-pass stage creates")
	cleanupBatchLimit := flag.Int("cleanup-batch-limit", 0, "max idle stages deleted per replenishment pass")

	defaultStageArn := flag.String("default-stage-arn", "", "shared stage ARN bound to every channel that doesn't have its own")
	storageArn := flag.String("storage-arn", "", "upstream storage configuration ARN enabling composition")
	channelArn := flag.String("channel-arn", "", "legacy RTMPS channel ARN for the private-HLS playback path")
	environment := flag.String("environment", "", "environment tag applied to dedicated per-child stages")

	playbackKeyPairID := flag.String("playback-key-pair-id", "", "key id stamped into signed playback JWTs")
	playbackSigningKeyPath := flag.String("playback-signing-key", "", "path to the PEM-encoded EC private key used to sign playback JWTs")
	streamKeyEncryptionKeyPath := flag.String("stream-key-encryption-key", "", "path to the root secret used to derive the legacy stream key encryption key")

	authSecretPath := flag.String("auth-jwt-secret", "", "path to the HMAC secret validating inbound bearer tokens")
	authzSeed := flag.String("authz-seed", "", "inline JSON or file path seeding child ownership and parent watch relations")

	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	provisionLimit := flag.Int("rate-provision-limit", 0, "maximum provisioning calls per caller per window")
	provisionWindow := flag.Duration("rate-provision-window", 0, "window for counting provisioning calls")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed per-caller provisioning throttling")

	corsOrigins := flag.String("cors-allowed-origins", "", "comma separated list of origins allowed to call the API cross-domain")

	flag.Parse()

	logger := logging.New(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("INGRESS_LOG_LEVEL"))})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("INGRESS_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("INGRESS_ADDR"))

	upstreamCfg, err := upstream.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load upstream configuration", "error", err)
		os.Exit(1)
	}
	upstreamCfg.Logger = logging.WithComponent(logger, "upstream")
	upstreamClient := upstream.NewHTTPClient(upstreamCfg)

	resolvedRegion := firstNonEmpty(*region, os.Getenv("INGRESS_REGION"))
	if resolvedRegion == "" {
		resolvedRegion = "us-east-1"
	}

	issuer, err := credentials.New(upstreamClient, credentials.Config{
		Region:             resolvedRegion,
		PlaybackKeyPairID:  firstNonEmpty(*playbackKeyPairID, os.Getenv("INGRESS_PLAYBACK_KEY_PAIR_ID")),
		PlaybackSigningKey: readOptionalFile(logger, firstNonEmpty(*playbackSigningKeyPath, os.Getenv("INGRESS_PLAYBACK_SIGNING_KEY_PATH"))),
	})
	if err != nil {
		logger.Error("failed to configure credential issuer", "error", err)
		os.Exit(1)
	}

	poolCfg := stagepool.DefaultConfig(resolvedRegion)
	applyPoolOverrides(&poolCfg, poolOverrides{
		stagePrefix:       *stagePrefix,
		targetPoolSize:    *targetPoolSize,
		maxPoolSize:       *maxPoolSize,
		replenishInterval: *replenishInterval,
		stageMaxAge:       *stageMaxAge,
		createBatchLimit:  *createBatchLimit,
		createSpacing:     *createSpacing,
		cleanupBatchLimit: *cleanupBatchLimit,
	})

	pool := stagepool.New(poolCfg, upstreamClient, issuer, clock.NewReal(), logging.WithComponent(logger, "stagepool"))

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = pool.Initialize(initCtx)
	initCancel()
	if err != nil {
		logger.Error("failed to initialize stage pool", "error", err)
		os.Exit(1)
	}

	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("INGRESS_STORAGE_DRIVER"), resolvePostgresDSN(*postgresDSN))
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && driver != "postgres" {
		logger.Error("production mode requires the postgres storage driver", "driver", driver)
		os.Exit(1)
	}

	var repo store.Repository
	var closeRepo func()
	switch driver {
	case "memory":
		repo = store.NewMemoryRepository()
	case "postgres":
		dsn := resolvePostgresDSN(*postgresDSN)
		if dsn == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var opts []store.PostgresOption
		if *postgresAcquireTimeout > 0 {
			opts = append(opts, store.WithTimeout(*postgresAcquireTimeout))
		}
		pgCtx, pgCancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, pgErr := store.NewPostgresRepository(pgCtx, dsn, opts...)
		pgCancel()
		if pgErr != nil {
			logger.Error("failed to open postgres datastore", "error", pgErr)
			os.Exit(1)
		}
		repo = pg
		closeRepo = pg.Close
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}

	var cryptoStore *cryptostore.Store
	if keyBytes := readOptionalFile(logger, firstNonEmpty(*streamKeyEncryptionKeyPath, os.Getenv("INGRESS_STREAM_KEY_ENCRYPTION_KEY_PATH"))); keyBytes != nil {
		cryptoStore, err = cryptostore.New(keyBytes)
		if err != nil {
			logger.Error("failed to configure legacy stream key encryption", "error", err)
			os.Exit(1)
		}
	}

	strategies := map[session.Mode]session.ProvisionStrategy{
		session.ModeWebrtc: &session.WebrtcStrategy{Pool: pool, Region: resolvedRegion},
	}
	resolvedChannelArn := firstNonEmpty(*channelArn, os.Getenv("INGRESS_CHANNEL_ARN"))
	if cryptoStore != nil {
		strategies[session.ModeRtmps] = &session.RtmpsStrategy{Crypto: cryptoStore, JWTSigner: issuer, ChannelArn: resolvedChannelArn}
	}

	authorizerSeed, err := authz.LoadSeed(firstNonEmpty(*authzSeed, os.Getenv("INGRESS_AUTHZ_SEED")))
	if err != nil {
		logger.Error("failed to load authorization seed", "error", err)
		os.Exit(1)
	}
	authorizer := authz.NewStaticAuthorizer(authorizerSeed)

	sessionMgr := session.New(session.Config{
		DefaultStageArn: firstNonEmpty(*defaultStageArn, os.Getenv("INGRESS_DEFAULT_STAGE_ARN")),
		StorageArn:      firstNonEmpty(*storageArn, os.Getenv("INGRESS_STORAGE_ARN")),
		ChannelArn:      resolvedChannelArn,
		Environment:     firstNonEmpty(*environment, serverMode),
		Region:          resolvedRegion,
	}, repo, upstreamClient, strategies, authorizer, authorizer, clock.NewReal(), logging.WithComponent(logger, "session"), cryptoStore)

	ingressAPI := api.NewIngressAPI(pool, sessionMgr, resolvedRegion, issuer.WhipEndpoint())

	var authenticator server.CallerAuthenticator
	if secret := readOptionalFile(logger, firstNonEmpty(*authSecretPath, os.Getenv("INGRESS_AUTH_JWT_SECRET_PATH"))); secret != nil {
		authenticator = server.NewJWTAuthenticator(secret)
	}

	srv, err := server.New(ingressAPI, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("INGRESS_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("INGRESS_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:       resolveFloat(*globalRPS, "INGRESS_RATE_GLOBAL_RPS"),
			GlobalBurst:     resolveInt(*globalBurst, "INGRESS_RATE_GLOBAL_BURST"),
			ProvisionLimit:  resolveInt(*provisionLimit, "INGRESS_RATE_PROVISION_LIMIT"),
			ProvisionWindow: resolveDuration(*provisionWindow, "INGRESS_RATE_PROVISION_WINDOW", time.Minute),
			RedisAddr:       firstNonEmpty(*rateRedisAddr, os.Getenv("INGRESS_RATE_REDIS_ADDR")),
		},
		CORS:          server.CORSConfig{AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("INGRESS_CORS_ALLOWED_ORIGINS")))},
		Logger:        logger,
		Metrics:       recorder,
		Authenticator: authenticator,
	})
	if err != nil {
		logger.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("ingress provisioning API listening", "addr", listenAddr, "mode", serverMode, "region", resolvedRegion)
	logger.Info("metrics endpoint available", "path", "/metrics")

	runErr := serverutil.Run(ctx, serverutil.Config{
		Server: srv.HTTPServer(),
		TLS: serverutil.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("INGRESS_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("INGRESS_TLS_KEY")),
		},
		ShutdownTimeout: 10 * time.Second,
		Logger:          logging.WithComponent(logger, "serverutil"),
	})

	pool.Shutdown()
	if closeRepo != nil {
		closeRepo()
	}

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type poolOverrides struct {
	stagePrefix       string
	targetPoolSize    int
	maxPoolSize       int
	replenishInterval time.Duration
	stageMaxAge       time.Duration
	createBatchLimit  int
	createSpacing     time.Duration
	cleanupBatchLimit int
}

func applyPoolOverrides(cfg *stagepool.Config, o poolOverrides) {
	if o.stagePrefix != "" {
		cfg.StagePrefix = o.stagePrefix
	}
	if o.targetPoolSize > 0 {
		cfg.TargetPoolSize = o.targetPoolSize
	}
	if o.maxPoolSize > 0 {
		cfg.MaxPoolSize = o.maxPoolSize
	}
	if o.replenishInterval > 0 {
		cfg.ReplenishInterval = o.replenishInterval
	}
	if o.stageMaxAge > 0 {
		cfg.StageMaxAge = o.stageMaxAge
	}
	if o.createBatchLimit > 0 {
		cfg.CreateBatchLimit = o.createBatchLimit
	}
	if o.createSpacing > 0 {
		cfg.CreateSpacing = o.createSpacing
	}
	if o.cleanupBatchLimit > 0 {
		cfg.CleanupBatchLimit = o.cleanupBatchLimit
	}
}

func readOptionalFile(logger *slog.Logger, path string) []byte {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("failed to read configured file, continuing without it", "path", path, "error", err)
		return nil
	}
	return data
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "memory", nil
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("INGRESS_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
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

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}
