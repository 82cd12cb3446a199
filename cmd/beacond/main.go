package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/loomchat/beacon/internal/config"
	"github.com/loomchat/beacon/internal/conversation"
	"github.com/loomchat/beacon/internal/events"
	"github.com/loomchat/beacon/internal/httpapi"
	"github.com/loomchat/beacon/internal/navigation"
	"github.com/loomchat/beacon/internal/viewtree"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Event fan-out for streaming clients
	eventMgr := events.NewManager(cfg.Streaming.ReplayCapacity)

	// Conversation store; empty addr runs memory-only
	redisAddr := getEnvOrDefault("REDIS_ADDR", cfg.Redis.Addr)
	svc, err := conversation.NewService(redisAddr, eventMgr, logger)
	if err != nil {
		logger.Fatal("Failed to initialize conversation service", zap.Error(err))
	}
	defer svc.Close()

	// Rendered view and navigation pipeline
	tree := viewtree.NewTree()
	viewport := viewtree.NewViewport(cfg.View.ViewportHeight, cfg.View.ContentHeight)
	bar := navigation.NewMemoryBar()
	locator := navigation.NewLocator(tree, logger)
	revealer := navigation.NewRevealer(tree, viewport, logger)
	navigator := navigation.NewNavigator(locator, revealer, bar, logger)
	renderer := conversation.NewRenderer(svc, tree, navigator, cfg.View.Window, logger)

	var limiter *rate.Limiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	}
	apiHandler := httpapi.NewHandler(svc, renderer, navigator, cfg.Navigation.Timeout(), limiter, logger)
	streamHandler := httpapi.NewStreamHandler(eventMgr)

	// Hot reload for navigation tuning knobs
	configDir := getEnvOrDefault("CONFIG_DIR", "config")
	cfgManager, err := config.NewManager(configDir, logger)
	if err != nil {
		logger.Warn("Config hot reload unavailable", zap.Error(err))
	} else {
		cfgManager.RegisterHandler("beacon.yaml", func(event config.ChangeEvent) error {
			reloaded, err := config.Load()
			if err != nil {
				return err
			}
			apiHandler.SetNavTimeout(reloaded.Navigation.Timeout())
			logger.Info("Applied configuration change",
				zap.String("action", event.Action),
				zap.Duration("navigation_timeout", reloaded.Navigation.Timeout()),
			)
			return nil
		})
		if err := cfgManager.Start(); err != nil {
			logger.Warn("Failed to start config manager", zap.Error(err))
		} else {
			defer cfgManager.Stop()
		}
	}

	// Setup HTTP mux
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	apiHandler.Register(mux)
	streamHandler.Register(mux)

	port := getEnvOrDefaultInt("PORT", cfg.Service.Port)
	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: 0, // no write timeout, websocket streams are long-lived
		IdleTimeout:  300 * time.Second,
	}

	// Metrics server on its own port
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// Start server in goroutine
	go func() {
		logger.Info("Beacon starting",
			zap.Int("port", port),
			zap.Int("metrics_port", cfg.Service.MetricsPort),
			zap.Bool("redis", redisAddr != ""),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Beacon shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server forced to shutdown", zap.Error(err))
	}

	logger.Info("Beacon stopped")
}

// Helper functions
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
