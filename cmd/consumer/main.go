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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"example.com/fuelsync/internal/config"
	"example.com/fuelsync/internal/consumer"
	"example.com/fuelsync/internal/domain"
	"example.com/fuelsync/internal/events"
	"example.com/fuelsync/internal/persistence/postgres"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	router := consumer.NewRouter().
		Route(events.TypeActivitySynced, consumer.NewEnergyHandler(domain.NewEnergyService(postgres.NewRepository(pool)))).
		Route(events.TypeConnectionChanged, consumer.NewConnectionLogHandler(log.New(log.Writer(), "[connections] ", log.LstdFlags)))

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddress) })

	for _, topic := range cfg.ConsumerTopics {
		reader := newReader(cfg, topic)
		proc := consumer.NewProcessor(reader, router,
			consumer.WithLogger(log.New(log.Writer(), "[consumer "+topic+"] ", log.LstdFlags|log.Lshortfile)))

		group.Go(func() error {
			defer reader.Close()
			log.Printf("consuming %s as group %s", topic, cfg.ConsumerGroupID)
			if err := proc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		log.Fatalf("consumer stopped: %v", err)
	}
	log.Println("consumer stopped")
}

func newReader(cfg config.Config, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           topic,
		MinBytes:        1,
		MaxBytes:        10e6,
		MaxWait:         2 * time.Second,
		CommitInterval:  time.Second,
		ReadLagInterval: -1,
	})
}

// serveMetrics exposes Prometheus metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics server shutdown error: %v", err)
		}
	}()
	log.Printf("consumer metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
