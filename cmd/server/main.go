package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbscan/internal/adapter"
	"arbscan/internal/api"
	"arbscan/internal/bus"
	"arbscan/internal/config"
	"arbscan/internal/engine"
	"arbscan/internal/market"
	"arbscan/internal/metrics"
	"arbscan/internal/models"
	"arbscan/internal/storage"
	ws "arbscan/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Starting in %s mode, pairs: %v", cfg.Pipeline.Mode, cfg.Pipeline.Pairs)

	// Хранилище опционально: без него нет архива тиков и реплея
	var repo *storage.Repository
	var writer *storage.TickWriter
	if cfg.Database.Enabled {
		db, err := storage.Open(cfg.Database.DSN())
		if err != nil {
			log.Fatalf("Failed to connect to database (%s): %v", cfg.Database.DSNWithoutPassword(), err)
		}
		defer db.Close()
		repo = storage.NewRepository(db)
		if err := repo.Migrate(); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		writer = storage.NewTickWriter(repo)
		log.Println("Connected to database successfully")
	}

	store := market.NewStore()
	rings := market.NewRingSet(market.DefaultRingCapacity)

	b := bus.New(cfg.Pipeline.QueueDepth, cfg.Pipeline.DisconnectAfterDrops)
	b.OnDrop(func(kind models.EventKind) {
		metrics.BrokerDropped.WithLabelValues(string(kind)).Inc()
	})

	// Синтетические источники фандинга и DEX-пулов
	var derivatives engine.DerivativesSource
	var dexPools engine.DexPoolSource
	if cfg.Sim.Derivatives {
		derivatives = engine.NewSimulatedDerivatives(cfg.Sim.Seed)
		dexPools = engine.NewSimulatedDexPools(cfg.Sim.Seed + 1)
	}

	// Движки в фиксированном порядке обхода
	simple := engine.NewSimpleEngine(cfg.Engines.MinProfitThreshold)
	tri := engine.NewTriangularEngine(cfg.Engines.MinTriangularThreshold, cfg.Engines.TradingFee, cfg.Engines.StartAmount)
	cross := engine.NewCrossTriangularEngine(cfg.Engines.MinCrossTriangularThreshold, cfg.Engines.MaxTransferTimeMs, cfg.Engines.StartAmount, cfg.Engines.ExchangeFees)
	stat := engine.NewStatisticalEngine(cfg.Engines.ZEntry, cfg.Engines.ZExit, cfg.Engines.MinCorrelation, cfg.Engines.MinHistory)
	futures := engine.NewFuturesSpotEngine(cfg.Engines.MinFundingRate, cfg.Engines.MinFundingAnnualized, cfg.Engines.MaxBasisPercent, derivatives)
	dexcex := engine.NewDexCexEngine(cfg.Engines.MinDexCexProfitPercent, cfg.Engines.MaxDexTradeSizeUSD, cfg.Engines.MaxPriceImpact, dexPools)
	for chain, gwei := range cfg.Engines.GasPriceGwei {
		dexcex.SetGasPriceGwei(chain, gwei)
	}
	lat := engine.NewLatencyEngine(cfg.Engines.MinStalenessMs, cfg.Engines.MinLatencyPriceDiffPercent, cfg.Engines.MaxLatencyWindowMs)
	ml := engine.NewMLEngine(cfg.Engines.MLThreshold, cfg.Engines.StaleFeedSeconds, cfg.Engines.SpikeThresholdPct, cfg.Engines.DesyncThresholdPct)

	engines := []engine.Engine{simple, tri, cross, stat, futures, dexcex, lat, ml}

	opts := []engine.Option{
		engine.WithDeadline(cfg.Pipeline.EngineDeadline),
		engine.WithIngressDepth(cfg.Pipeline.IngressDepth),
	}
	if writer != nil {
		opts = append(opts, engine.WithSink(writer))
	}
	dispatcher := engine.NewDispatcher(store, rings, b, engines, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if writer != nil {
		writer.Run(ctx)
	}
	go dispatcher.Run(ctx)

	// Источник тиков по режиму
	adapters, replay := buildTickSources(ctx, cfg, b, repo, dispatcher)

	// Архив найденных возможностей и статистика реплея
	if repo != nil || replay != nil {
		go recordOpportunities(b, repo, replay)
	}

	hub := ws.NewHub(b, func() interface{} {
		return map[string]interface{}{
			"prices":        store.AllQuotes(),
			"opportunities": simple.Opportunities(),
			"config":        cfg.Public(),
			"exchanges":     adapterStates(adapters),
		}
	})

	deps := &api.Dependencies{
		Cfg:         cfg,
		Store:       store,
		Dispatcher:  dispatcher,
		Simple:      simple,
		Triangular:  tri,
		CrossTri:    cross,
		Statistical: stat,
		FuturesSpot: futures,
		DexCex:      dexcex,
		Latency:     lat,
		ML:          ml,
		Repo:        repo,
		Replay:      replay,
		AdapterStates: func() map[string]string {
			return adapterStates(adapters)
		},
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRoutes(deps, hub),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Pipeline.GracefulShutdown)
	defer shutdownCancel()

	if replay != nil {
		replay.Stop()
	}
	cancel() // останавливает адаптеры, диспетчер и писателя

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown: %v", err)
	}
	hub.Shutdown()
	dispatcher.Wait()
	if writer != nil {
		writer.Wait()
	}
	log.Println("Shutdown complete")
}

// buildTickSources запускает источник тиков выбранного режима.
// Возвращает живые адаптеры (для /api/state) и драйвер реплея.
func buildTickSources(ctx context.Context, cfg *config.Config, b *bus.Bus, repo *storage.Repository, d *engine.Dispatcher) ([]adapter.Adapter, *adapter.ReplayDriver) {
	handler := func(u models.PriceUpdate) { d.Offer(u) }

	switch cfg.Pipeline.Mode {
	case config.ModeLive:
		status := func(st models.ConnectionStatus) {
			b.Publish(models.Event{Kind: models.KindNotification, Data: st})
		}
		policy := adapter.ReconnectPolicy{
			Delay:       cfg.Pipeline.ReconnectDelay,
			MaxAttempts: cfg.Pipeline.MaxReconnectAttempts,
		}
		pairs := cfg.Pipeline.Pairs
		adapters := []adapter.Adapter{
			adapter.NewBinance(pairs, handler, status, policy),
			adapter.NewKraken(pairs, handler, status, policy),
			adapter.NewCoinbase(pairs, handler, status, policy),
			adapter.NewBybit(pairs, handler, status, policy),
			adapter.NewOKX(pairs, handler, status, policy),
		}
		for _, a := range adapters {
			go func(a adapter.Adapter) {
				if err := a.Run(ctx); err != nil && ctx.Err() == nil {
					log.Printf("Adapter %s stopped: %v", a.Name(), err)
				}
			}(a)
		}
		return adapters, nil

	case config.ModeReplay:
		replay := adapter.NewReplayDriver(repo, handler)
		log.Println("Replay mode: waiting for POST /api/replay")
		return nil, replay

	default: // simulation
		sim := adapter.NewSimulator(cfg.Pipeline.Pairs, cfg.Sim.TickInterval, cfg.Sim.Seed, handler)
		go sim.Run(ctx)
		return []adapter.Adapter{sim}, nil
	}
}

// recordOpportunities архивирует найденные возможности и кормит
// статистику реплея
func recordOpportunities(b *bus.Bus, repo *storage.Repository, replay *adapter.ReplayDriver) {
	sub := b.Subscribe(models.KindSimpleOpp, models.KindTriangular)
	defer sub.Close()

	for ev := range sub.C() {
		switch o := ev.Data.(type) {
		case models.ArbitrageOpportunity:
			if repo != nil {
				if err := repo.SaveOpportunity(o); err != nil {
					metrics.SinkErrors.Inc()
				}
			}
			if replay != nil {
				replay.RecordOpportunity(o.ProfitPct)
			}
		case models.TriangularOpportunity:
			if repo != nil {
				if err := repo.SaveTriangular(o); err != nil {
					metrics.SinkErrors.Inc()
				}
			}
			if replay != nil {
				replay.RecordOpportunity(o.ProfitPct)
			}
		}
	}
}

// adapterStates снимает состояние каждого адаптера
func adapterStates(adapters []adapter.Adapter) map[string]string {
	out := make(map[string]string, len(adapters))
	for _, a := range adapters {
		out[a.Name()] = a.State().String()
	}
	return out
}
