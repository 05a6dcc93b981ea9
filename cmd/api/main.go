package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/savichev/finparse/internal/generator"
	"github.com/savichev/finparse/internal/infra/gateway/gemini"
	"github.com/savichev/finparse/internal/infra/postgres"
	infraredis "github.com/savichev/finparse/internal/infra/redis"
	"github.com/savichev/finparse/internal/ingest"
	"github.com/savichev/finparse/internal/runner"
	"github.com/savichev/finparse/internal/sandbox"
	"github.com/savichev/finparse/internal/statement"
	"github.com/savichev/finparse/internal/transport/httpapi"
	"github.com/savichev/finparse/internal/transport/httpapi/handler"
	"github.com/savichev/finparse/internal/transport/httpapi/middleware"
	"github.com/savichev/finparse/pkg/config"
	"github.com/savichev/finparse/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewDefault(cfg.Env)
	log.Info("Starting finparse API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	// Database connection pool
	db, err := postgres.NewPool(ctx, postgres.Config{URL: cfg.DatabaseURL})
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Database connection established")

	// Redis holds the parser code cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Redis connection established")

	// Sandbox: isolated node process when available, in-process fallback
	exec := sandbox.New(sandbox.Options{
		Mode:            cfg.SandboxMode,
		NodeBin:         cfg.NodeBin,
		IsolatedTimeout: cfg.IsolatedTimeout,
		LocalTimeout:    cfg.LocalTimeout,
	}, log)

	codeStore := infraredis.NewCodeStore(redisClient, log)
	versionRunner := runner.New(codeStore, exec, log)

	// Model client; without a key the service still serves cached parsers
	var modelClient *gemini.Client
	if cfg.GeminiAPIKey != "" {
		modelClient, err = gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiRPM, log)
		if err != nil {
			log.Error("Failed to create Gemini client", "error", err)
			os.Exit(1)
		}
		log.Info("Gemini client initialized", "model", cfg.GeminiModel, "rpm", cfg.GeminiRPM)
	} else {
		log.Warn("GEMINI_API_KEY not configured, code generation and categorization disabled")
	}

	transactionRepo := postgres.NewTransactionRepository(db.Pool)

	var modelJSON ingest.ModelJSON
	var gen statement.CodeGenerator
	if modelClient != nil {
		modelJSON = modelClient
		gen = generator.New(modelClient, exec, codeStore, generator.DefaultMaxSteps, log)
	}
	ingestSvc := ingest.NewService(transactionRepo, modelJSON, log)

	statementSvc := statement.NewService(versionRunner, gen, ingestSvc, log)
	log.Info("Statement pipeline initialized", "sandbox_mode", cfg.SandboxMode)

	// HTTP layer
	jwtSvc := middleware.NewJWTService(cfg.JWTSecret)
	statementHandler := handler.NewStatementHandler(statementSvc)
	parserHandler := handler.NewParserHandler(codeStore)
	healthHandler := handler.NewHealthHandler(db, redisPinger{redisClient})

	r := httpapi.NewRouter(httpapi.Config{
		Logger:           log,
		AllowedOrigins:   cfg.AllowedOrigins,
		StatementHandler: statementHandler,
		ParserHandler:    parserHandler,
		HealthHandler:    healthHandler,
		JWTMiddleware:    middleware.JWTMiddleware(jwtSvc),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
		// Parse requests block on sandbox executions and model round trips.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("Server stopped gracefully")
}

// redisPinger adapts the redis client to the health check interface.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
