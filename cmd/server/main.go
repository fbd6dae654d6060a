package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	auditlog "telecare-platform/authority/internal/audit"
	audithandler "telecare-platform/authority/internal/audit/handler"
	auditrepo "telecare-platform/authority/internal/audit/repository"
	"telecare-platform/authority/internal/config"
	"telecare-platform/authority/internal/db"
	"telecare-platform/authority/internal/gate"
	healthhandler "telecare-platform/authority/internal/health/handler"
	"telecare-platform/authority/internal/policy/engine"
	"telecare-platform/authority/internal/revocation"
	"telecare-platform/authority/internal/security"
	"telecare-platform/authority/internal/server"
	"telecare-platform/authority/internal/session"
	sessionhandler "telecare-platform/authority/internal/session/handler"
	sessionrepo "telecare-platform/authority/internal/session/repository"
	"telecare-platform/authority/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "authority", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	metrics, err := otel.NewAuthMetrics(providers.MeterProvider)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}

	signingKey, err := security.ParseSigningKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("signing key: %v", err)
	}
	verifyKey, err := security.ParseVerifyKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("verify key: %v", err)
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}
	registry := revocation.NewRedisRegistry(redisClient, "authority", cfg.RetentionWindow())

	auditRepo := auditrepo.NewPostgresRepository(pool)
	auditSink := auditlog.NewAsync(auditlog.NewLogger(auditRepo))

	provider := security.NewTokenProvider(
		signingKey, verifyKey,
		cfg.JWTIssuer, cfg.JWTAudience,
		cfg.AccessTTL(), cfg.InactivityTimeout(),
		registry,
	)

	manager := session.NewManager(
		provider,
		sessionrepo.NewPostgresRepository(pool),
		registry,
		auditSink,
		cfg.MaxRefreshCount,
		cfg.AccessTTL(), cfg.ExtendedTTL(),
	)

	evaluator, err := engine.NewOPAEvaluator()
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	g := gate.NewGate(provider, auditSink, evaluator, gate.Config{
		RequireAuth:    true,
		ValidateDevice: cfg.EnforceDeviceBinding,
		EnforceBinding: cfg.EnforceDeviceBinding,
		AuditLevel:     gate.AuditFailures,
	})

	router := server.NewRouter(server.Deps{
		Session: sessionhandler.NewServer(manager, metrics),
		Health:  healthhandler.NewServer(pool, evaluator),
		Audit:   audithandler.NewServer(auditRepo),
		Gate:    g,
		Metrics: metrics,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	// Let in-flight async audit writes land before the pool closes.
	time.Sleep(auditlog.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
