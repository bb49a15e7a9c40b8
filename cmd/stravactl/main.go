package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/fuelsync/internal/auth"
	"example.com/fuelsync/internal/cli"
	"example.com/fuelsync/internal/config"
	"example.com/fuelsync/internal/domain"
	"example.com/fuelsync/internal/persistence/postgres"
	"example.com/fuelsync/internal/strava"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.SetPrefix("[stravactl] ")
	root := cli.NewRootCommand(openApp)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func openApp(ctx context.Context) (*cli.App, func(), error) {
	cfg := config.Load()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	repo := postgres.NewRepository(pool)
	oauth := strava.NewOAuthClient(cfg.Strava, nil)
	tokens := domain.NewTokenManager(repo, oauth, domain.WithRefreshTimeout(cfg.Strava.HTTPTimeout))

	app := &cli.App{
		Authorizer:  oauth,
		Connections: domain.NewConnectionService(repo, oauth, nil),
		Syncer:      domain.NewSyncService(tokens, strava.NewClient(cfg.Strava, nil), repo, domain.WithPageSize(cfg.Strava.PageSize)),
		Auth:        auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		StateTTL:    cfg.Strava.StateTTL,
	}
	return app, pool.Close, nil
}
