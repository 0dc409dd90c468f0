package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentfolio/agentfolio/internal/chat"
	"github.com/agentfolio/agentfolio/internal/profile"
	"github.com/agentfolio/agentfolio/internal/server"
	"github.com/agentfolio/agentfolio/pkg/analytics"
	"github.com/agentfolio/agentfolio/pkg/config"
	"github.com/agentfolio/agentfolio/pkg/docstore"
	firestoredoc "github.com/agentfolio/agentfolio/pkg/docstore/firestore"
	"github.com/agentfolio/agentfolio/pkg/docstore/memory"
	redisdoc "github.com/agentfolio/agentfolio/pkg/docstore/redis"
	"github.com/agentfolio/agentfolio/pkg/observability"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	// Command line flags
	configFile  = flag.String("config", getEnv("CONFIG_FILE", "config/agentfolio.yaml"), "Configuration file")
	httpPort    = flag.Int("http-port", getEnvInt("PORT", 0), "API server port (overrides config)")
	metricsPort = flag.Int("metrics-port", getEnvInt("METRICS_PORT", 0), "Metrics/health server port (overrides config)")
)

func main() {
	flag.Parse()

	log.Printf("Starting Agentfolio v%s", Version)

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Printf("Config %s not loaded (%v), using defaults", *configFile, err)
		cfg = config.Default()
	}
	if *httpPort != 0 {
		cfg.HTTPPort = *httpPort
	}
	if *metricsPort != 0 {
		cfg.MetricsPort = *metricsPort
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Printf("Config: %s, API port: %d, metrics port: %d, storage: %s",
		*configFile, cfg.HTTPPort, cfg.MetricsPort, cfg.Storage.Provider)

	ctx := context.Background()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Initialize observability
	observability.InitMetrics()
	healthChecker := observability.NewHealthChecker()
	if pinger, ok := store.(docstore.Pinger); ok {
		healthChecker.RegisterCheck(observability.StoreCheck(pinger.Ping))
	}

	manager := analytics.NewManager(analytics.TrackerConfig{
		Store:            store,
		FlushInterval:    cfg.Analytics.FlushInterval(),
		MinFlushInterval: cfg.Analytics.MinFlushInterval(),
		ActiveWindow:     cfg.Analytics.ActiveWindow(),
	})

	var completer chat.Completer
	if cfg.Chat.Enabled && cfg.Chat.APIKey != "" {
		completer = chat.NewOpenAICompleter(cfg.Chat.APIKey, cfg.Chat.Model)
	}

	apiServer := server.New(server.Config{
		Port:      cfg.HTTPPort,
		Manager:   manager,
		Profiles:  profile.NewService(store),
		Completer: completer,
		Fallback:  cfg.Chat.Fallback,
	})
	obsServer := observability.NewServer(cfg.MetricsPort, healthChecker)

	errChan := make(chan error, 2)
	go func() {
		if err := apiServer.Start(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()
	go func() {
		if err := obsServer.Start(); err != nil {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Printf("Error: %v", err)
	case <-quit:
		log.Println("Shutting down...")
	}

	// Graceful shutdown: stop accepting requests, then end every live session
	// so terminal flushes and summary merges land before the process exits.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("API server shutdown error: %v", err)
	}
	if err := manager.EndAll(shutdownCtx); err != nil {
		log.Printf("Session teardown error: %v", err)
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Metrics server shutdown error: %v", err)
	}

	log.Println("Agentfolio stopped")
}

func buildStore(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	switch cfg.Storage.Provider {
	case "memory":
		return memory.New(), nil
	case "firestore":
		opts := []firestoredoc.Option{firestoredoc.WithProjectID(cfg.Storage.GCPProject)}
		if cfg.Storage.GCPCredentials != "" {
			opts = append(opts, firestoredoc.WithCredentialsFile(cfg.Storage.GCPCredentials))
		}
		return firestoredoc.New(ctx, opts...)
	case "redis":
		return redisdoc.New(redisdoc.Config{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			Prefix:   cfg.Storage.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
