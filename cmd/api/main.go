package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freshmart/go-storefront/internal/cart"
	"github.com/freshmart/go-storefront/internal/config"
	"github.com/freshmart/go-storefront/internal/httpx"
	kafkax "github.com/freshmart/go-storefront/internal/kafka"
	"github.com/freshmart/go-storefront/internal/order"
	"github.com/freshmart/go-storefront/internal/payment"
	"github.com/freshmart/go-storefront/internal/postgres"
	"github.com/freshmart/go-storefront/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, order.TopicOrderPlaced, 1024, log)
	prod.Start(ctx)

	repo := &order.Repo{DB: db}
	engine := &order.Engine{
		Ledger:       &order.PGLedger{DB: db},
		Cart:         &cart.Store{RDB: rdb},
		Addresses:    repo,
		Catalog:      repo,
		Guard:        order.GuardFor(cfg.StockStrategy),
		FreightCents: cfg.FreightCents,
		Log:          log,
	}
	gateway := payment.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayAppID)

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Engine:   engine,
		Repo:     repo,
		Gateway:  gateway,
		Poller:   payment.NewPoller(gateway, repo, log),
		Producer: prod,
		Redis:    rdb,
		Service:  cfg.ServiceName,
		Log:      log,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("strategy", cfg.StockStrategy).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	prod.Close() // flush inbox, then writer
	prod.WaitClosed()
}
