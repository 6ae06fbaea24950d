package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"syncroom/internal/core/services"
	httphandlers "syncroom/internal/handlers/http"
	"syncroom/internal/infrastructure/middleware"
	"syncroom/internal/infrastructure/monitoring"
	"syncroom/internal/infrastructure/repositories"
	wsignal "syncroom/internal/infrastructure/signal"
	"syncroom/pkg/config"
	"syncroom/pkg/logger"
	"syncroom/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/syncroom/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		panic(err)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	// Tracing (inert unless enabled)
	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Room registry backend
	repoFactory, err := repositories.NewFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()
	registry := repoFactory.CreateRoomRegistry()

	// Coordination channel and room service reference each other, so the
	// service is attached after construction.
	wsOpts := wsignal.Options{
		PingInterval: cfg.Signal.PingInterval,
		PongTimeout:  cfg.Signal.PongTimeout,
		WriteTimeout: cfg.Signal.WriteTimeout,
	}
	if cfg.RateLimiting.Enabled {
		wsOpts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		wsOpts.Burst = cfg.RateLimiting.WebSocket.Burst
		wsOpts.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
	}
	wsServer := wsignal.NewWebSocketServer(nil, wsOpts, log)
	roomService := services.NewRoomService(registry, wsServer, log)
	wsServer.SetService(roomService)

	collector := monitoring.NewPrometheusCollector()
	wsServer.SetMetrics(collector)
	roomService.SetSweepObserver(collector.RecordRoomsSwept)

	checker := monitoring.NewHealthChecker(2 * time.Second)
	checker.AddCheck("registry", func(ctx context.Context) error {
		_, _, err := registry.Counts(ctx)
		return err
	})
	checker.AddCheck("backend", repoFactory.HealthCheck)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Inactivity sweeper
	go roomService.StartSweeper(rootCtx, cfg.Rooms.SweepInterval, cfg.Rooms.InactivityTimeout)

	// Monitoring
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				rooms, members, err := registry.Counts(rootCtx)
				if err != nil {
					log.Warnw("failed to read registry counts", "error", err)
					continue
				}
				collector.SetCounts(rooms, members)
			}
		}
	}()

	// REST API
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	httphandlers.NewRoomHandler(roomService).SetupRoutes(router)

	router.GET("/ready", func(c *gin.Context) {
		status := checker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status": status,
			"uptime": time.Since(startTime).String(),
		})
	})

	apiSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Coordination channel server
	signalMux := http.NewServeMux()
	signalMux.HandleFunc("/ws", wsServer.HandleWebSocket)
	signalMux.HandleFunc("/health", wsServer.HealthCheck)
	signalSrv := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: signalMux,
	}

	// Metrics on the dedicated Prometheus port, away from the public API.
	var metricsSrv *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
			Handler: metricsMux,
		}
	}

	serverErr := make(chan error, 3)
	if metricsSrv != nil {
		go func() {
			log.Infof("Starting metrics server on %s", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
	}
	go func() {
		log.Infof("Starting API server on %s", cfg.Server.Address)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	go func() {
		log.Infof("Starting coordination server on %s", cfg.Signal.Address)
		if err := signalSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down...")
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("API server shutdown failed", "error", err)
	}
	if err := signalSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Coordination server shutdown failed", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Metrics server shutdown failed", "error", err)
		}
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Tracer shutdown failed", "error", err)
	}

	log.Info("Server stopped")
}
