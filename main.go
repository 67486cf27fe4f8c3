package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sasta-kro/training-orchestrator/activity"
	"github.com/sasta-kro/training-orchestrator/config"
	"github.com/sasta-kro/training-orchestrator/db"
	"github.com/sasta-kro/training-orchestrator/handlers"
	"github.com/sasta-kro/training-orchestrator/imagebuilder"
	"github.com/sasta-kro/training-orchestrator/lifecycle"
	"github.com/sasta-kro/training-orchestrator/proxy"
	"github.com/sasta-kro/training-orchestrator/runtime"
)

func main() {
	appConfig := config.LoadAppConfig()
	logger := appConfig.NewLogger()

	logger.Info("training orchestrator starting",
		"port", appConfig.Port,
		"db_path", appConfig.DBPath,
		"base_domain", appConfig.BaseDomain,
		"log_format", appConfig.LogFormat,
	)

	// opening the database and running schema migration (init tables).
	// if this fails, the application cannot serve requests, so exit immediately.
	database, err := db.OpenDatabase(appConfig.DBPath, logger)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.CloseDatabase()

	runtimeClient, err := runtime.NewClient(logger)
	if err != nil {
		log.Fatalf("failed to connect to docker daemon: %v", err)
	}
	defer runtimeClient.Close()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := runtimeClient.EnsureNetwork(startupCtx, appConfig.NetworkName); err != nil {
		cancelStartup()
		log.Fatalf("failed to ensure sandbox network %q: %v", appConfig.NetworkName, err)
	}
	cancelStartup()

	uploadDir := filepath.Join(os.TempDir(), "training-orchestrator-uploads")
	buildWorkDir := filepath.Join(os.TempDir(), "training-orchestrator-builds")

	builder := imagebuilder.NewBuilder(runtimeClient, database, database, buildWorkDir, logger)

	activityTracker := activity.NewTracker()

	manager := lifecycle.NewManager(
		lifecycle.Config{
			MaxPerUser:        appConfig.MaxPerUser,
			IdleLimit:         appConfig.IdleLimit,
			LifetimeLimit:     appConfig.LifetimeLimit,
			CheckInterval:     appConfig.CheckInterval,
			ReconcileInterval: appConfig.ReconcileInterval,
			StoppedRetention:  appConfig.StoppedRetention,
			NetworkName:       appConfig.NetworkName,
			BaseDomain:        appConfig.BaseDomain,
			// The sandbox's own CALLBACK_URL is a container-to-host call,
			// not a public browser request through the proxy: it reaches
			// the orchestrator via host.docker.internal, the same
			// gateway address the runtime client adds to every sandbox's
			// extra hosts (spec §6.2 CALLBACK_URL).
			CallbackBaseURL: "http://host.docker.internal:" + appConfig.Port,
		},
		runtimeClient,
		database,
		database,
		database,
		database,
		activityTracker,
		logger,
	)

	// Startup recovery: any Container Record the Registry still shows as
	// running survived a previous process's watchers dying with it.
	// Resume reseeds the Activity Tracker and restarts a watcher for
	// each before the server starts accepting requests.
	resumeCtx, cancelResume := context.WithTimeout(context.Background(), 30*time.Second)
	resumedCount, err := manager.Resume(resumeCtx)
	cancelResume()
	if err != nil {
		logger.Error("failed to resume running containers at startup", "error", err)
	} else {
		logger.Info("resumed watchers for running containers", "count", resumedCount)
	}

	apiRouter := handlers.CreateAndSetupRouter(handlers.RouterDependencies{
		Logger:        logger,
		Catalog:       database,
		Builder:       builder,
		Launcher:      manager,
		Registry:      database,
		Manager:       manager,
		Deleter:       builder,
		UploadDir:     uploadDir,
		UploadMaxSize: appConfig.UploadMaxSize,
		BaseDomain:    appConfig.BaseDomain,
		CORSOrigins:   []string{"*"},
	})

	// The top-level handler is the Subdomain Router/Proxy itself: any
	// Host that isn't a "<uuid>.<base-domain>" sandbox address falls
	// through to the API router unchanged (spec §4.G).
	topLevelHandler := proxy.New(database, activityTracker, apiRouter, appConfig.ProxyTimeout, logger)

	server := &http.Server{
		Addr:         ":" + appConfig.Port,
		Handler:      topLevelHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: appConfig.ProxyTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	reconcileCtx, cancelReconcile := context.WithCancel(context.Background())
	go runReconcileLoop(reconcileCtx, manager, appConfig.ReconcileInterval, logger)

	shutdownChannel := make(chan error, 1)

	go func() {
		logger.Info("http server listening", "addr", server.Addr)

		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			shutdownChannel <- err
		}
		close(shutdownChannel)
	}()

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("startup complete, server ready to serve", "port", appConfig.Port)

	select {
	case sig := <-signalChannel:
		logger.Info("shutdown signal received", "signal", sig)
	case err := <-shutdownChannel:
		if err != nil {
			log.Fatalf("http server failed: %v", err)
		}
	}

	cancelReconcile()

	// Watchers are cancelled, but the containers they were watching are
	// left running: they are picked up again by Resume on next boot
	// (spec §5 graceful shutdown).
	manager.Shutdown()

	shutdownContext, cancelShutdownContext := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdownContext()

	if err := server.Shutdown(shutdownContext); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	} else {
		logger.Info("server shut down cleanly")
	}
}

// runReconcileLoop ticks the Lifecycle Manager's reconciler on
// ReconcileInterval until ctx is cancelled at shutdown. Errors are logged,
// not fatal: one bad pass is retried on the next tick.
func runReconcileLoop(ctx context.Context, manager *lifecycle.Manager, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := manager.Reconcile(ctx); err != nil {
				logger.Warn("reconciliation pass reported errors", "error", err)
			}
		}
	}
}
