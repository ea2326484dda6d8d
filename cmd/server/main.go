package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"visualinternet/internal/addrcache"
	"visualinternet/internal/config"
	"visualinternet/internal/handler"
	"visualinternet/internal/hub"
	"visualinternet/internal/orchestrator"
	"visualinternet/internal/portscan"
	"visualinternet/internal/probe"
	"visualinternet/internal/repository/sqlite"
	"visualinternet/internal/service"
	"visualinternet/internal/topology"
	"visualinternet/internal/traffic"
	"visualinternet/internal/watcher"
)

// Bus events keep their type name on the SSE stream
var _ hub.Named = service.Event{}

func main() {
	// Command line flags override the config file
	configPath := flag.String("config", "", "Config file path")
	addr := flag.String("addr", "", "HTTP listen address")
	dbPath := flag.String("db", "", "SQLite database path")
	target := flag.String("target", "", "Initial path discovery target")
	initConfig := flag.Bool("init-config", false, "Write a default config file and exit")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if *initConfig {
		dest := *configPath
		if dest == "" {
			dest = config.DefaultConfigPath()
		}
		if err := config.DefaultConfig().Save(dest); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		log.Printf("Default config written to %s", dest)
		return
	}
	log.Println("Starting visualinternet server...")

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if path != "" {
		log.Printf("Config loaded: %s", path)
	} else {
		log.Println("No config file found, using defaults")
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *target != "" {
		cfg.Discovery.Target = *target
	}
	log.Printf("Config: %s", cfg.Summary())

	env := config.DetectEnvironment()
	strategy := env.ScannerStrategy(cfg.Scanner.Strategy)
	log.Printf("Environment: runtime=%s uid=%d raw_socket=%v scanner=%s",
		env.Runtime, env.EffectiveUID, env.CanRawSocket, strategy)
	for _, reason := range env.Reasons {
		log.Printf("Environment: %s", reason)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Topology store backed by SQLite
	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	store, err := topology.Open(ctx, repo, topology.RetryPolicy{
		MaxRetries: cfg.Storage.Retries,
		BaseDelay:  cfg.Storage.BaseDelay.Duration(),
		MaxDelay:   cfg.Storage.MaxDelay.Duration(),
	})
	if err != nil {
		repo.Close()
		log.Fatalf("Failed to load topology: %v", err)
	}
	defer store.Close()
	nodes, edges := store.Counts()
	log.Printf("Database opened: %s (%d nodes, %d edges)", cfg.Database.Path, nodes, edges)

	// Event bus and SSE hub
	eventBus := service.NewEventBus()
	sseHub := hub.New()
	go sseHub.Run(ctx)

	eventChan := make(chan service.Event, 100)
	eventBus.Subscribe(eventChan)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventChan:
				sseHub.Broadcast(event)
			}
		}
	}()

	// Discovery probes
	runner := probe.NewOSRunner()
	neighbors := probe.NewNeighborProbe(runner)
	probes := orchestrator.Probes{
		Local:      probe.NewLocalProbe(),
		Gateway:    probe.NewGatewayProbe(runner),
		Neighbors:  neighbors,
		Path:       pathProber(cfg, runner),
		Reputation: probe.NewReputation(cfg.Reputation.URL, cfg.Reputation.Timeout.Duration(), cfg.Reputation.CacheTTL.Duration()),
	}
	if cfg.STUN.Enabled {
		probes.Public = probe.NewSTUNProbe(cfg.STUN.Servers, cfg.STUN.Timeout.Duration())
	}
	macs := addrcache.New(neighbors.Lookup, cfg.AddressCache.NegativeTTL.Duration())

	scanner, err := portscan.New(portscan.Config{
		Strategy:       strategy,
		Timeout:        cfg.Scanner.Timeout.Duration(),
		ConnectTimeout: cfg.Scanner.ConnectTimeout.Duration(),
		MaxConcurrent:  cfg.Scanner.MaxConcurrent,
	})
	if err != nil {
		log.Fatalf("Failed to create port scanner: %v", err)
	}
	log.Printf("Port scanner: %s", scanner.Name())
	scanRange := portscan.Range{Start: cfg.Scanner.DefaultStart, End: cfg.Scanner.DefaultEnd}

	// Orchestrator
	tgt, err := orchestrator.NewTarget(cfg.Discovery.Target)
	if err != nil {
		log.Fatalf("Invalid discovery target: %v", err)
	}
	orch := orchestrator.New(orchestrator.Config{
		Interval:     cfg.Discovery.Interval.Duration(),
		ProbeTimeout: cfg.Discovery.ProbeTimeout.Duration(),
		PathTimeout:  cfg.Discovery.PathTimeout.Duration(),
		ScanRange:    scanRange,
	}, store, probes, macs, scanner, tgt)
	orch.SetEventPublisher(eventBus.Publisher())

	if n, err := orch.Replay(ctx); err != nil {
		log.Printf("Warning: failed to replay recorded paths: %v", err)
	} else if n > 0 {
		log.Printf("Replayed %d recorded paths", n)
	}
	go orch.Run(ctx)

	// Passive traffic sampling
	var ring *traffic.Ring
	if cfg.Traffic.Enabled {
		ring = traffic.NewRing(cfg.Traffic.Capacity)
		sampler := traffic.NewSampler(ring, cfg.Traffic.Interval.Duration(), cfg.Traffic.DevPath)
		go sampler.Run(ctx)
	}

	// Query and control surface
	controlSvc := service.NewControlService(service.Dependencies{
		Store:     store,
		Scanner:   scanner,
		HostKeys:  probe.NewSSHHostKey(cfg.Scanner.Timeout.Duration()),
		Target:    tgt,
		Cycles:    orch,
		Traffic:   ring,
		EventBus:  eventBus,
		ScanRange: scanRange,
	})
	topologyHandler := handler.NewTopologyHandler(controlSvc)

	// Follow target edits in the config file; flags pin the target
	if path != "" && *target == "" {
		w := watcher.New(path, func() { reloadTarget(ctx, path, controlSvc) })
		go func() {
			if err := w.Watch(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Warning: config watcher stopped: %v", err)
			}
		}()
	}

	mux := http.NewServeMux()
	topologyHandler.Register(mux)

	// SSE events endpoint
	mux.Handle("GET /events", sseHub)

	finalHandler := handler.Chain(mux,
		handler.Recover,
		handler.CORS,
		handler.Logger,
	)

	// WriteTimeout stays zero so the SSE stream and long scans are not cut off
	server := &http.Server{
		Addr:        cfg.HTTP.Addr,
		Handler:     finalHandler,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop discovery, sampling and SSE clients
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// reloadTarget applies discovery.target from an edited config file. Other
// settings take effect on restart.
func reloadTarget(ctx context.Context, path string, svc *service.ControlService) {
	cfg, _, err := config.LoadFromPath(path)
	if err != nil {
		log.Printf("Config reload rejected: %v", err)
		return
	}
	if cfg.Discovery.Target == svc.Target() {
		return
	}
	if err := svc.SetTarget(ctx, cfg.Discovery.Target); err != nil {
		log.Printf("Config reload: failed to set target: %v", err)
		return
	}
	log.Printf("Config reload: target is now %s", cfg.Discovery.Target)
}

// pathProber picks the hop discovery strategy named in the config
func pathProber(cfg *config.Config, runner probe.Runner) orchestrator.PathProber {
	if cfg.Discovery.PathStrategy == "nmap" {
		return probe.NewNmapPath(cfg.Discovery.PathTimeout.Duration())
	}
	return probe.NewTraceroute(runner, cfg.Discovery.MaxHops)
}
