package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pairlink/internal/core/services"
	httphandlers "pairlink/internal/handlers/http"
	backupinfra "pairlink/internal/infrastructure/backup"
	"pairlink/internal/infrastructure/cluster"
	"pairlink/internal/infrastructure/hub"
	"pairlink/internal/infrastructure/loadbalancer"
	"pairlink/internal/infrastructure/middleware"
	"pairlink/internal/infrastructure/monitoring"
	repositories "pairlink/internal/infrastructure/repositories"
	webrtcinfra "pairlink/internal/infrastructure/webrtc"
	snapshot "pairlink/pkg/backup"
	"pairlink/pkg/config"
	"pairlink/pkg/distributed"
	"pairlink/pkg/logger"
	"pairlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/pairlink/config.yaml",
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

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	// Tracing (optional)
	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(tracing.Config{
			Enabled:     cfg.Tracing.Enabled,
			ServiceName: cfg.Tracing.ServiceName,
			JaegerURL:   cfg.Tracing.JaegerURL,
			Environment: cfg.Tracing.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			log.Warnw("failed to initialize tracing", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(ctx)
			}()
		}
	}

	// Storage
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	signalRepo := repoFactory.CreateSignalRepository()
	messageStore := repoFactory.CreateMessageStore()

	// Core services
	mailboxService := services.NewMailboxService(signalRepo, cfg.Mailbox.DrainPageSize, log)
	presenceService := services.NewPresenceService()

	// Connection hub
	collector := monitoring.NewPrometheusCollector()
	connectionHub := hub.NewHub(mailboxService, presenceService, messageStore, collector, log)
	connectionHub.SetTimeouts(cfg.Hub.PingInterval, cfg.Hub.PongTimeout, cfg.Hub.ReadTimeout, cfg.Hub.WriteTimeout)
	connectionHub.SetSendBuffer(cfg.Hub.SendBuffer)
	connectionHub.SetDrainInterval(cfg.Hub.DrainInterval)
	if cfg.RateLimiting.WebSocket.MaxMessageSizeBytes > 0 {
		connectionHub.SetMaxFrameBytes(cfg.RateLimiting.WebSocket.MaxMessageSizeBytes)
	}

	// Cross-instance relay (optional, Redis pub/sub)
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	var affinity *loadbalancer.PeerAffinity
	if cfg.Cluster.Enabled {
		redisClient := repoFactory.RedisClient()
		if redisClient == nil {
			log.Fatal("cluster mode requires a working Redis connection")
		}

		instanceID := cfg.Cluster.InstanceID
		if instanceID == "" {
			instanceID = uuid.New().String()
		}

		affinitySecret := cfg.Auth.JWTSecret
		if affinitySecret == "" {
			affinitySecret = uuid.New().String()
		}
		affinity = loadbalancer.NewPeerAffinity(affinitySecret, instanceID, int((24 * time.Hour).Seconds()))

		registry := cluster.NewPeerRegistry(redisClient)
		bus := cluster.NewBus(redisClient, registry, instanceID, log)
		connectionHub.SetRelay(bus)

		go func() {
			if err := bus.Run(runCtx, connectionHub); err != nil {
				log.Errorw("cluster event bus stopped", "error", err)
			}
		}()
		go registry.RefreshLoop(runCtx, instanceID, connectionHub.ConnectedPeers)

		log.Infow("cluster relay enabled", "instance_id", instanceID)
	}

	// Mailbox snapshots (optional)
	if cfg.Backup.Enabled {
		storage, err := snapshot.NewFileStorage(cfg.Backup.Directory)
		if err != nil {
			log.Fatalw("failed to open snapshot directory", "error", err)
		}
		snapshots := snapshot.NewService(storage, "1")

		archiver := repoFactory.SignalArchiver()
		if restored, err := backupinfra.RestoreLatest(runCtx, snapshots, archiver, log); err != nil {
			log.Warnw("failed to restore mailbox snapshot", "error", err)
		} else if restored > 0 {
			log.Infow("mailbox seeded from snapshot", "signals", restored)
		}

		var lock backupinfra.Locker
		if redisClient := repoFactory.RedisClient(); redisClient != nil {
			lock = distributed.NewLock(redisClient, "pairlink:lock:snapshot", 2*cfg.Backup.Interval)
		}

		scheduler := backupinfra.NewScheduler(
			archiver,
			snapshots,
			lock,
			cfg.Backup.Interval,
			cfg.Backup.Retention,
			log,
		)
		go scheduler.Run(runCtx)
	}

	// ICE configuration provider (static or TURN credential minting)
	iceProvider := webrtcinfra.NewICEProvider(cfg, log)

	// HTTP handlers
	configHandler := httphandlers.NewConfigHandler(iceProvider)
	signalHandler := httphandlers.NewSignalHandler(mailboxService)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if affinity != nil {
		router.Use(affinity.Middleware())
	}

	configHandler.SetupRoutes(router)
	signalHandler.SetupRoutes(router)

	// Control channel
	router.GET("/ws",
		middleware.NewWebSocketRateLimitMiddleware(cfg),
		gin.WrapF(connectionHub.HandleWebSocket),
	)

	// Admin surface (optional, token protected)
	if cfg.Auth.AdminEnabled {
		tokenService := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
		admin := router.Group("/api/v1/admin")
		admin.Use(middleware.AuthMiddleware(tokenService))
		{
			admin.GET("/hub/stats", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{
					"peers":       connectionHub.ConnectedPeers(),
					"connections": connectionHub.ConnectionCount(),
				})
			})
		}
	}

	// Health surface
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("storage", repoFactory.HealthCheck, 2*time.Second)

	router.GET("/health", gin.WrapF(connectionHub.HealthCheck))
	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting PairLink hub on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	log.Info("Shutting down PairLink hub...")
	connectionHub.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("PairLink hub stopped")
}
