// Command debatearena-server is the DebateArena server process: it
// wires C1-C7 together, recovers any contests left running by a prior
// crash, and serves the agent, spectator, and admin HTTP surfaces
// until told to shut down.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lonestarx1/debatearena/internal/bus"
	"github.com/lonestarx1/debatearena/internal/config"
	"github.com/lonestarx1/debatearena/internal/id"
	"github.com/lonestarx1/debatearena/internal/matchmaker"
	"github.com/lonestarx1/debatearena/internal/orchestrator"
	"github.com/lonestarx1/debatearena/internal/router"
	"github.com/lonestarx1/debatearena/internal/spectator"
	"github.com/lonestarx1/debatearena/internal/store"
	"github.com/lonestarx1/debatearena/pkg/trace"
	"github.com/lonestarx1/debatearena/pkg/trace/log"
	"github.com/lonestarx1/debatearena/pkg/trace/metrics"
)

var defaultTopics = []string{
	"This house believes artificial intelligence should be regulated like a public utility.",
	"This house believes remote work has permanently improved quality of life.",
	"This house believes social media platforms should verify user identity.",
	"This house believes space exploration spending is justified over domestic priorities.",
	"This house believes universal basic income would reduce poverty more than targeted welfare.",
	"This house believes nuclear power is essential to meeting climate goals.",
	"This house believes open-source software is safer than proprietary software.",
}

func main() {
	presetsPath := flag.String("presets", "configs/presets.yaml", "Path to the preset registry YAML file")
	topicsPath := flag.String("topics", "", "Path to a newline-delimited topic bank (defaults to a built-in bank)")
	matchmakerInterval := flag.Duration("matchmaker-interval", time.Second, "How often the matchmaker scans the queue for pairings")
	flag.Parse()

	logger := log.New(os.Stdout, log.Info)

	if err := run(*presetsPath, *topicsPath, *matchmakerInterval, logger); err != nil {
		logger.Error("server exited with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(presetsPath, topicsPath string, matchmakerInterval time.Duration, logger *log.Logger) error {
	cfg, err := config.ServerConfigFromEnv(os.Getenv, id.New)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("config loaded", "replica_id", cfg.ReplicaID)

	presets, err := config.LoadPresets(presetsPath)
	if err != nil {
		return fmt.Errorf("load presets: %w", err)
	}
	logger.Info("presets loaded", "path", presetsPath, "count", fmt.Sprintf("%d", len(presets.Presets)))

	topics, err := loadTopics(topicsPath)
	if err != nil {
		return fmt.Errorf("load topics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer gateway.Close()

	var b bus.Bus
	if cfg.BusURL == "" {
		logger.Warn("no bus URL configured, running in single-replica mode")
		b = bus.NewInProcess()
	} else {
		b = bus.Dial(ctx, cfg.BusURL, "", 0)
		if b.(*bus.Redis).Degraded() {
			logger.Warn("bus dial degraded, running in single-replica mode", "bus_url", cfg.BusURL)
		}
	}

	registry := metrics.NewRegistry()
	tracer := metrics.NewCollector(trace.NewStdout(os.Stdout), registry)

	routerComponent := router.New(b, gateway, tracer, cfg.ReplicaID)
	if err := routerComponent.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	topicSource := orchestrator.NewRotatingTopicSource(topics)
	orch := orchestrator.New(gateway, b, routerComponent, presets, topicSource, tracer, cfg.ReplicaID)

	mm := matchmaker.New(orch, tracer)
	go mm.Run(ctx, matchmakerInterval)

	spec := spectator.New(b, gateway, orch, tracer, cfg.ReplicaID)

	if err := orch.Recover(ctx); err != nil {
		logger.Error("recovery failed", "error", err.Error())
	}

	servers := []*http.Server{
		{Addr: cfg.ListenAddr, Handler: routerComponent},
		{Addr: cfg.SpectatorListenAddr, Handler: spec},
		{Addr: cfg.HTTPAddr, Handler: adminMux(registry)},
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(servers))
	for _, srv := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errs:
		logger.Error("listener failed", "error", err.Error())
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("listener shutdown error", "addr", srv.Addr, "error", err.Error())
		}
	}
	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

// adminMux serves the fleet-internal health check and Prometheus
// metrics exposition, separate from the agent and spectator surfaces
// so an operator can probe it without a websocket client.
func adminMux(registry *metrics.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Write([]byte(registry.Export()))
	})
	return mux
}

// loadTopics reads a newline-delimited topic bank from path, falling
// back to a small built-in bank when path is empty (spec is silent on
// topic curation; see internal/orchestrator.RotatingTopicSource).
func loadTopics(path string) ([]string, error) {
	if path == "" {
		return defaultTopics, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var topics []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		topics = append(topics, line)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("%s contains no topics", path)
	}
	return topics, nil
}
