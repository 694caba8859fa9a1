package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/trioll/trioll-developer-portal/internal/adapter/cache"
	idpadapter "github.com/trioll/trioll-developer-portal/internal/adapter/idp"
	"github.com/trioll/trioll-developer-portal/internal/bootstrap"
	"github.com/trioll/trioll-developer-portal/internal/config"
	httptransport "github.com/trioll/trioll-developer-portal/internal/http"
	"github.com/trioll/trioll-developer-portal/internal/http/handler"
	httpmiddleware "github.com/trioll/trioll-developer-portal/internal/http/middleware"
	"github.com/trioll/trioll-developer-portal/internal/jwt"
	"github.com/trioll/trioll-developer-portal/internal/metrics"
	apimiddleware "github.com/trioll/trioll-developer-portal/internal/middleware"
	"github.com/trioll/trioll-developer-portal/internal/repository"
	"github.com/trioll/trioll-developer-portal/internal/server"
	"github.com/trioll/trioll-developer-portal/internal/service/identity"
	"github.com/trioll/trioll-developer-portal/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newMetricsRegistry,
			newMetricsRecorder,
			newSnowflake,
			newPGXPool,
			newDeveloperRepository,
			newKeySetStore,
			newAttributeStore,
			newKeySource,
			newCredentialParser,
			newResolver,
			newProfileService,
			newRateLimiter,
			newDeveloperHandler,
			newHookHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureSchema, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func newMetricsRecorder(registry *prometheus.Registry) metrics.Recorder {
	return metrics.NewCollector(registry)
}

func newSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newDeveloperRepository(pool *pgxpool.Pool) repository.DeveloperRepository {
	return repository.NewPostgresDeveloperRepo(pool)
}

// newKeySetStore shares JWKS documents through Redis when REDIS_ADDR is set.
func newKeySetStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (repository.KeySetStore, error) {
	if cfg.RedisAddr == "" {
		logger.Info("redis disabled, jwks cached per instance")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return cacheadapter.NewRedisKeySetStore(client), nil
}

func newAttributeStore(cfg config.Config, logger *zap.Logger) repository.AttributeStore {
	if cfg.IdPAdminURL == "" {
		logger.Info("identity provider admin url not set, claims write-back disabled")
		return nil
	}
	return idpadapter.NewHTTPAttributeClient(cfg.IdPAdminURL, cfg.IdPAdminToken, &http.Client{Timeout: cfg.WritebackTimeout})
}

func newKeySource(cfg config.Config, store repository.KeySetStore, logger *zap.Logger) jwt.KeySource {
	return jwt.NewRemoteKeySet(cfg.JWKSURL, cfg.JWKSCacheTTL, &http.Client{Timeout: cfg.LookupTimeout}, store, logger)
}

func newCredentialParser(keys jwt.KeySource, cfg config.Config) *jwt.Parser {
	return jwt.NewParser(keys, jwt.ParserConfig{
		Issuer:     cfg.TokenIssuer,
		Audiences:  cfg.TokenAudiences,
		Algorithms: cfg.TokenAlgorithms,
		Leeway:     cfg.TokenClockLeeway,
		Claims:     jwt.ClaimOptions{Namespace: cfg.ClaimNamespace, CompatStandard: cfg.ClaimsCompatStandard},
	})
}

func newResolver(parser *jwt.Parser, records repository.DeveloperRepository, attributes repository.AttributeStore, node *snowflake.Node, recorder metrics.Recorder, cfg config.Config, logger *zap.Logger) *identity.Resolver {
	return identity.NewResolver(parser, records, attributes, node, recorder, cfg, logger)
}

func newProfileService(records repository.DeveloperRepository, attributes repository.AttributeStore, node *snowflake.Node, recorder metrics.Recorder, cfg config.Config, logger *zap.Logger) *identity.ProfileService {
	return identity.NewProfileService(records, attributes, node, recorder, cfg, logger)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newDeveloperHandler(profiles *identity.ProfileService) *handler.DeveloperHandler {
	return handler.NewDeveloperHandler(profiles)
}

func newHookHandler(resolver *identity.Resolver) *handler.HookHandler {
	return handler.NewHookHandler(resolver)
}

func newAuthMiddleware(resolver *identity.Resolver) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Resolver: resolver}
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
