package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/fuelsync/internal/api"
	"example.com/fuelsync/internal/auth"
	"example.com/fuelsync/internal/config"
	"example.com/fuelsync/internal/domain"
	"example.com/fuelsync/internal/outbox"
	"example.com/fuelsync/internal/persistence/memory"
	"example.com/fuelsync/internal/persistence/postgres"
	"example.com/fuelsync/internal/strava"
	httptransport "example.com/fuelsync/internal/transport/http"
)

type store interface {
	domain.CredentialStore
	domain.ActivityStore
	domain.EnergyStore
}

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfg.Strava.Validate(); err != nil {
		log.Printf("strava connect disabled: %v", err)
	}

	var (
		repo       store
		dispatcher *outbox.Dispatcher
	)
	switch cfg.StorageDriver {
	case "memory":
		log.Println("using in-memory storage; data is lost on restart and no events are published")
		repo = memory.NewStore()
	default:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()
		repo = postgres.NewRepository(pool)

		if cfg.OutboxEnabled {
			writer := outbox.NewKafkaWriter(cfg.KafkaBrokers)
			defer writer.Close()

			registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
			dispatcher = outbox.NewDispatcher(pool, writer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
			go dispatcher.Start(ctx)
		}
	}

	oauth := strava.NewOAuthClient(cfg.Strava, nil)
	activities := strava.NewClient(cfg.Strava, nil)

	tokens := domain.NewTokenManager(repo, oauth, domain.WithRefreshTimeout(cfg.Strava.HTTPTimeout))
	connections := domain.NewConnectionService(repo, oauth, nil)
	syncer := domain.NewSyncService(tokens, activities, repo, domain.WithPageSize(cfg.Strava.PageSize))
	energy := domain.NewEnergyService(repo)

	authCfg := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	handler := api.NewHandler(oauth, connections, syncer, energy, api.Config{
		Auth:           authCfg,
		StateTTL:       cfg.Strava.StateTTL,
		AppRedirectURL: cfg.Strava.AppRedirectURL,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	requestLog := log.New(os.Stdout, "[http] ", log.LstdFlags)
	server := httptransport.NewServer(
		httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.RequestLogger(requestLog, httptransport.CORS(cfg.CORSOrigin, auth.NewMiddleware(authCfg).Wrap(mux))),
	)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("fuelsync api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}
