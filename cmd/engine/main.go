// Command engine runs the matching engine's bus-draining loop: it pops
// request envelopes off the orders queue, dispatches them through
// internal/engine, and serves /healthz and /metrics on the side.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"exchange-engine/internal/adminserver"
	"exchange-engine/internal/bus"
	"exchange-engine/internal/config"
	"exchange-engine/internal/engine"
	"exchange-engine/internal/logging"
	"exchange-engine/internal/metrics"
	"exchange-engine/internal/protocol"
	"exchange-engine/internal/snapshot"
)

// requestPopTimeout bounds how long the engine loop blocks waiting for the
// next request before checking for shutdown.
const requestPopTimeout = time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	markets := make([]engine.MarketConfig, 0, len(cfg.Markets))
	for _, symbol := range cfg.Markets {
		mc, err := engine.ParseMarketConfig(symbol)
		if err != nil {
			log.Fatal().Err(err).Str("market", symbol).Msg("invalid market symbol in config")
		}
		markets = append(markets, mc)
	}

	m := metrics.NewMetrics()
	eng, err := engine.New(markets, cfg.BaseCurrency, cfg.AllowFaucet, m, log)
	if err != nil {
		log.Fatal().Err(err).Msg("create engine")
	}

	if cfg.SnapshotPath != "" {
		if err := snapshot.Load(cfg.SnapshotPath, eng); err != nil {
			log.Fatal().Err(err).Str("path", cfg.SnapshotPath).Msg("load snapshot")
		}
	}

	redisBus, err := bus.NewRedisBus(ctx, cfg.OrdersBusURL, cfg.FanoutBusURL, cfg.DBWriterBusURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to message bus")
	}
	defer redisBus.Close()

	admin := adminserver.New(cfg.AdminListenAddr, m)
	go func() {
		if err := admin.Run(); err != nil {
			log.Error().Err(err).Msg("admin server exited")
		}
	}()

	log.Info().Strs("markets", cfg.Markets).Str("base_currency", cfg.BaseCurrency).Msg("engine starting")
	runLoop(ctx, log, eng, redisBus)

	if cfg.SnapshotPath != "" {
		if err := snapshot.Save(cfg.SnapshotPath, eng, markets, eng.Ledger().Users()); err != nil {
			log.Error().Err(err).Str("path", cfg.SnapshotPath).Msg("save snapshot on shutdown")
		}
	}
	log.Info().Msg("engine stopped")
}

// runLoop is the engine's single-threaded execution context: pop, parse,
// dispatch, repeat. It suspends only on the blocking pop and on the
// publishes Process issues internally (see internal/engine).
func runLoop(ctx context.Context, log zerolog.Logger, eng *engine.Engine, b *bus.RedisBus) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := b.PopRequest(ctx, requestPopTimeout)
		if err != nil {
			log.Error().Err(err).Msg("pop request")
			continue
		}
		if raw == nil {
			continue // bounded wait expired with nothing delivered
		}

		env, err := protocol.ParseRequestEnvelope(raw)
		if err != nil {
			log.Error().Err(err).Msg("parse request envelope")
			continue
		}

		if err := eng.Process(ctx, b, env.ClientID, env.UserID, env.Message); err != nil {
			log.Warn().Err(err).Str("client_id", env.ClientID).Str("type", env.Message.Type).Msg("request failed")
		}
	}
}
