package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/freshmart/go-storefront/internal/config"
	kafkax "github.com/freshmart/go-storefront/internal/kafka"
	"github.com/freshmart/go-storefront/internal/order"
	"github.com/freshmart/go-storefront/internal/redisx"
	"github.com/freshmart/go-storefront/internal/worker"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName+"-worker").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &worker.Service{
		Dedup:       worker.RedisDedup{RDB: rdb, TTL: redisx.TTLDedup},
		Mailer:      worker.LogMailer{Log: log},
		Pages:       worker.LogPages{Log: log},
		ServiceName: cfg.ServiceName + "-worker",
		Log:         log,
	}

	group := getenv("WORKER_GROUP", "order-jobs")
	workers := atoiOr(os.Getenv("WORKER_CONCURRENCY"), 8)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, order.TopicOrderPlaced, workers, log)

	go func() {
		log.Info().Str("group", group).Int("workers", workers).Msg("order-jobs consumer started")
		if err := cons.Start(ctx, svc.HandleOrderPlaced); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down consumer")
	cancel()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
