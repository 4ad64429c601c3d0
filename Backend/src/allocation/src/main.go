package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Logger
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg := LoadConfig()
	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("db", cfg.DBPath).
		Str("rabbit", cfg.RabbitURL).
		Dur("acquire_timeout", cfg.AcquireTimeout).
		Msg("starting allocation service")

	// Store + Ledger sobre la misma base
	db, err := OpenDB(cfg.DBPath)
	must(err)
	defer db.Close()

	store := NewStore(db, cfg.AcquireTimeout)
	ledger := NewLedger(db)

	if cfg.SeedOnStart {
		must(store.Seed(context.Background()))
		log.Info().Msg("seeded initial resources")
	}

	// Rabbit (opcional)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events Events
	rabbit, err := NewRabbit(cfg, nil)
	must(err)
	if rabbit != nil {
		events = rabbit
	}
	defer rabbit.Close()

	coord := NewCoordinator(store, ledger, events)
	if rabbit != nil {
		rabbit.coord = coord
		must(rabbit.StartConsumer(ctx))
		log.Info().Msg("rabbit consumer started")
	}

	// HTTP
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: NewServer(db, store, ledger, coord).Handler(),
	}

	// Señales para apagado limpio
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		log.Warn().Msg("shutting down...")
		cancel()
		shCtx, shCancel := context.WithTimeout(context.Background(), ShutdownGrace)
		defer shCancel()
		_ = srv.Shutdown(shCtx)
	}()

	log.Info().Msg("http listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server")
	}
}

func must(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
