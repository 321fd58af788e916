package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/embedding"
	"github.com/toolgate/toolgate/internal/gateway"
	"github.com/toolgate/toolgate/internal/maintenance"
	"github.com/toolgate/toolgate/internal/metrics"
	"github.com/toolgate/toolgate/internal/provider"
	"github.com/toolgate/toolgate/internal/routecache"
	"github.com/toolgate/toolgate/internal/router"
	"github.com/toolgate/toolgate/internal/sandbox"
	"github.com/toolgate/toolgate/internal/server"
	"github.com/toolgate/toolgate/internal/toolserver"
	"github.com/toolgate/toolgate/internal/version"
	"github.com/toolgate/toolgate/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	log.Printf("main: %s", version.Get())

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	emb, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return err
	}
	log.Printf("main: embeddings via %s", emb.Name())

	var store *catalog.Store
	if cfg.Catalog.DataDir != "" {
		store, err = catalog.OpenStore(cfg.Catalog.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()
	}
	cat, err := catalog.New(emb, store)
	if err != nil {
		return err
	}

	dir := toolserver.NewDirectory(cat, 10*time.Second)
	defer dir.CloseAll()
	for name, ep := range cfg.Servers {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := dir.Connect(ctx, name, ep.Network, ep.Address); err != nil {
			log.Printf("main: connecting tool server %s (%s %s): %v", name, ep.Network, ep.Address, err)
		}
		cancel()
	}
	stats := cat.Stats()
	log.Printf("main: catalog ready: %d tools, %d workflows", stats.Tools, stats.Workflows)

	var reasoner router.Reasoner
	if len(cfg.Reasoning.Endpoints) > 0 {
		timeout := config.Duration(cfg.Reasoning.Timeout, 30*time.Second)
		endpoints := make([]provider.Endpoint, 0, len(cfg.Reasoning.Endpoints))
		for _, ep := range cfg.Reasoning.Endpoints {
			endpoints = append(endpoints, provider.NewClient(ep.Name, ep.BaseURL, ep.APIKey, ep.Model, timeout))
		}
		cooldown := provider.CooldownConfig{
			Initial:    config.Duration(cfg.Reasoning.Cooldown.Initial, time.Minute),
			Max:        config.Duration(cfg.Reasoning.Cooldown.Max, time.Hour),
			Multiplier: cfg.Reasoning.Cooldown.Multiplier,
		}
		reasoner = router.NewLLMReasoner(provider.NewFailover(endpoints, cooldown), cfg.Routing.MaxReasoningRounds)
		log.Printf("main: reasoning tier enabled with %d endpoints", len(endpoints))
	} else {
		log.Printf("main: no reasoning endpoints configured, similarity tier only")
	}

	rtr := router.New(cat, reasoner, router.Config{
		TopK:                cfg.Routing.TopK,
		ConfidenceThreshold: cfg.Routing.ConfidenceThreshold,
		RelevanceFloor:      cfg.Routing.RelevanceFloor,
	})

	pool, err := sandbox.NewPool(cat, dir, sandbox.Config{
		Size:        cfg.Sandbox.PoolSize,
		AcquireWait: config.Duration(cfg.Sandbox.AcquireWait, 5*time.Second),
		ExecTimeout: config.Duration(cfg.Sandbox.ExecTimeout, 30*time.Second),
		MaxSteps:    cfg.Sandbox.MaxSteps,
	})
	if err != nil {
		return err
	}

	var cache gateway.DecisionCache
	if cfg.Cache.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := routecache.New(ctx, cfg.Cache.RedisAddr, config.Duration(cfg.Cache.TTL, 10*time.Minute))
		cancel()
		if err != nil {
			log.Printf("main: route cache unavailable, continuing without: %v", err)
		} else {
			defer rc.Close()
			cache = rc
		}
	}

	met := metrics.New()
	met.ConnectedServers.Set(float64(len(dir.Connected())))
	gw := gateway.New(cat, rtr, workflow.NewSynthesizer(cat), pool, dir, cache, met)
	srv := server.New(cfg.Listen.Addr, gw, met)

	maint, err := maintenance.New(cfg, cat, dir)
	if err != nil {
		return err
	}
	maint.Start()
	defer maint.Stop()

	if cfg.Listen.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", met.Handler())
			ms := &http.Server{Addr: cfg.Listen.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			if err := ms.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("main: metrics listener: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	// Graceful drain: stop accepting, let running sessions finish within
	// their existing timeouts, then exit.
	log.Printf("main: shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("main: server shutdown: %v", err)
	}
	pool.Drain()
	pool.Close()
	return nil
}
