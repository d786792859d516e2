package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-converter/internal/assets"
	"media-converter/internal/conversion"
	"media-converter/internal/database"
	"media-converter/internal/events"
	"media-converter/internal/handlers"
	"media-converter/internal/logging"
	"media-converter/internal/memory"
	"media-converter/internal/metrics"
	"media-converter/internal/middleware"
	"media-converter/internal/quota"
	"media-converter/internal/remote"
	"media-converter/internal/startup"
	"media-converter/internal/transcoder"
)

const (
	metricsInterval = time.Minute
	memoryInterval  = 5 * time.Second
	memoryHighWater = 0.7
	vacuumInterval  = 24 * time.Hour
	shutdownTimeout = 30 * time.Second
)

func main() {
	startTime := time.Now()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	// Size the heap before anything large is allocated
	memResult := memory.Configure(config.MemoryLimit, config.MemoryRatio)
	memMonitor := memory.NewMonitor(memResult.GoMemLimit, memoryHighWater, memoryInterval)
	memMonitor.Start()

	metrics.InitializeMetrics()
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)

	// Initialize database
	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath, database.Options{LogSQL: config.LogSQL})
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	// Periodic vacuum keeps the catalog compact after deletions
	stopVacuum := make(chan struct{})
	go func() {
		ticker := time.NewTicker(vacuumInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := db.Vacuum(context.Background()); err != nil {
					logging.Warn("Database vacuum failed: %v", err)
				}
			case <-stopVacuum:
				return
			}
		}
	}()

	// Remote execution gateway
	sshGateway, err := remote.NewSSHGateway(remote.SSHConfig{
		User:                  config.SSH.User,
		Password:              config.SSH.Password,
		KeyFile:               config.SSH.KeyFile,
		KnownHostsFile:        config.SSH.KnownHostsFile,
		DialTimeout:           config.SSH.DialTimeout,
		InsecureIgnoreHostKey: config.SSH.InsecureIgnoreHostKey,
	}, config.ServerAddrs)
	if err != nil {
		startup.LogFatal("Failed to configure SSH gateway: %v", err)
	}
	remote.SetObserver(metrics.NewGatewayObserver())
	retry := remote.DefaultRetryConfig()
	gateway := remote.Instrument(remote.WithRetry(sshGateway, retry))

	// Transcoder
	startup.LogTranscoderInit("")
	trans := transcoder.New(gateway, retry, "")

	publisher := newPublisher(config)
	ledger := quota.NewLedger(db, config.QuotaStrict)

	svc := assets.New(db, ledger, gateway, trans, publisher, assets.Config{
		ContentRoot: config.ContentRoot,
		UploadDir:   config.UploadDir,
	})
	converter := conversion.New(db, ledger, trans, config.Presets, svc, publisher, conversion.Config{
		ContentRoot: config.ContentRoot,
		Wait:        config.ConversionWait,
	})

	// Reconciler settles conversions whose caller stopped waiting
	startup.LogReconcilerInit(config.ReconcileInterval, config.ConversionWait, config.ReconcileAbandonAfter)
	reconciler := conversion.NewReconciler(converter, conversion.ReconcilerConfig{
		Interval:     config.ReconcileInterval,
		StaleAfter:   config.ConversionWait,
		AbandonAfter: config.ReconcileAbandonAfter,
	})
	reconciler.Start(context.Background())

	// Metrics collector
	collector := metrics.NewCollector(db, db, metricsInterval)
	collector.Start()

	// Initialize handlers
	h := handlers.New(db, converter, svc, config)
	h.SetMemoryMonitor(memMonitor)
	router := handlers.NewRouter(h)
	router.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	// Log routes dynamically
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.Logger(loggingConfig)(router)

	// Create server. Conversions can hold a request for CONVERSION_WAIT.
	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      config.ConversionWait + time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = newMetricsServer(config.MetricsPort, h)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	// Start graceful shutdown handler
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan

		startup.LogShutdownInitiated(sig.String())
		shutdown(components{
			srv:        srv,
			metricsSrv: metricsSrv,
			converter:  converter,
			reconciler: reconciler,
			collector:  collector,
			trans:      trans,
			publisher:  publisher,
			gateway:    sshGateway,
			db:         db,
			stopVacuum: stopVacuum,
		})
	}()

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-done
}

// newPublisher returns a Kafka publisher when brokers are configured.
func newPublisher(config *startup.Config) events.Publisher {
	if len(config.KafkaBrokers) == 0 {
		logging.Info("Lifecycle events disabled (no KAFKA_BROKERS)")
		return events.Nop{}
	}
	logging.Info("Publishing lifecycle events to %s on %v", config.KafkaTopic, config.KafkaBrokers)
	return events.NewKafkaPublisher(config.KafkaBrokers, config.KafkaTopic)
}

func newMetricsServer(port string, h *handlers.Handlers) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h.MetricsHandler())
	mux.HandleFunc("/health", h.LivenessCheck)
	return &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type closer interface {
	Close() error
}

type components struct {
	srv        *http.Server
	metricsSrv *http.Server
	converter  *conversion.Orchestrator
	reconciler *conversion.Reconciler
	collector  *metrics.Collector
	memory     *memory.Monitor
	trans      *transcoder.Transcoder
	publisher  closer
	gateway    closer
	db         closer
	stopVacuum chan struct{}
}

func shutdown(c components) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := c.srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Stopping reconciler")
	c.reconciler.Stop()
	startup.LogShutdownStepComplete("Reconciler stopped")

	startup.LogShutdownStep("Waiting for running conversions")
	c.converter.Shutdown(ctx)
	startup.LogShutdownStepComplete("Conversions settled")

	startup.LogShutdownStep("Stopping metrics collector")
	c.collector.Stop()
	c.memory.Stop()
	close(c.stopVacuum)
	if c.metricsSrv != nil {
		if err := c.metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}
	startup.LogShutdownStepComplete("Metrics stopped")

	startup.LogShutdownStep("Cleaning up transcoder")
	c.trans.Cleanup()
	startup.LogShutdownStepComplete("Transcoder cleanup complete")

	for _, step := range []struct {
		name string
		c    closer
	}{
		{"event publisher", c.publisher},
		{"SSH connections", c.gateway},
		{"database", c.db},
	} {
		startup.LogShutdownStep("Closing " + step.name)
		if err := step.c.Close(); err != nil {
			logging.Warn("Closing %s failed: %v", step.name, err)
		} else {
			startup.LogShutdownStepComplete("Closed " + step.name)
		}
	}

	startup.LogShutdownComplete()
}
