package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dhawalhost/gateseal/internal/audit"
	"github.com/dhawalhost/gateseal/internal/authz"
	"github.com/dhawalhost/gateseal/internal/cache"
	"github.com/dhawalhost/gateseal/internal/entityacl"
	"github.com/dhawalhost/gateseal/internal/inheritance"
	"github.com/dhawalhost/gateseal/internal/license"
	"github.com/dhawalhost/gateseal/internal/policy"
	"github.com/dhawalhost/gateseal/internal/role"
	"github.com/dhawalhost/gateseal/pkg/database"
	"github.com/dhawalhost/gateseal/pkg/logger"
	"github.com/dhawalhost/gateseal/pkg/middleware"
	"github.com/dhawalhost/gateseal/pkg/observability"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.AppEnv,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	db, err := database.NewConnection(cfg.PGDSN)
	if err != nil {
		log.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var store cache.Cache
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer func() { _ = redisCache.Close() }()
		store = redisCache
		log.Info("Using redis cache", zap.String("addr", cfg.RedisAddr))
	} else {
		memCache := cache.NewMemory(cache.DefaultSweepInterval)
		defer memCache.Close()
		store = memCache
		log.Info("Using in-process cache")
	}

	metrics := observability.NewMetrics()

	identity := role.NewAssignmentStore(db)
	registry := role.NewRegistry(identity)
	graph := entityacl.NewStore(db)
	evaluator := entityacl.NewEvaluator(graph, identity, log)
	walker := inheritance.NewWalker(graph, evaluator, store, cfg.ChainCacheTTL, log)
	engine := policy.NewEngine(policy.NewBexprEvaluator(), log, metrics.ConditionErrors)

	var licenseChecker license.Checker
	if cfg.LicensePublicKey != "" {
		manager, err := license.NewManager([]byte(cfg.LicensePublicKey))
		if err != nil {
			log.Fatal("Failed to parse license public key", zap.Error(err))
		}
		if cfg.LicenseToken != "" {
			if _, err := manager.Load(cfg.LicenseToken); err != nil {
				log.Fatal("Failed to load license token", zap.Error(err))
			}
		}
		licenseChecker = manager
	} else {
		licenseChecker = license.NewStatic("enterprise")
		log.Warn("No license key configured, all features enabled")
	}

	recorder := audit.NewRecorder(
		[]audit.Sink{audit.NewLogSink(log), audit.NewSQLSink(db)},
		cfg.AuditBuffer, log, metrics.AuditDropped,
	)
	defer recorder.Close()

	svc := authz.NewService(registry, evaluator, walker, engine, licenseChecker,
		store, recorder, metrics, log, authz.Options{
			DecisionTTL:    cfg.DecisionCacheTTL,
			LicenseFeature: cfg.LicenseFeature,
		})

	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	handler := authz.NewHTTPHandler(svc, limiter, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.ServiceName),
		observability.PrometheusMiddleware(metrics),
		middleware.SecurityHeadersMiddleware(),
		cors.New(cors.Config{
			AllowOrigins: cfg.CORSAllowOrigins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Authorization", "Content-Type", middleware.DefaultTenantHeader},
		}),
	)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(observability.PrometheusHandler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.TenantExtractor(middleware.TenantConfig{
		HeaderName:      cfg.TenantHeader,
		AllowFallback:   !cfg.IsProduction(),
		DefaultTenantID: cfg.DefaultTenantID,
	}))
	handler.RegisterRoutes(v1)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}
}
