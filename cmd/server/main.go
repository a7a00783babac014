package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arkui-x/request-task/api"
	"github.com/arkui-x/request-task/api/handlers"
	"github.com/arkui-x/request-task/internal/app"
	"github.com/arkui-x/request-task/internal/infrastructure"
	"github.com/arkui-x/request-task/pkg/logger"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	daemon     = flag.Bool("daemon", false, "Detach and run the server in the background")
)

func main() {
	flag.Parse()

	if *daemon {
		startAsDaemon()
		return
	}

	if err := runServer(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// startAsDaemon re-executes the binary in a new session without -daemon
func startAsDaemon() {
	execPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	}

	args := []string{}
	if *configPath != "" {
		args = append(args, "-config", *configPath)
	}
	cmd := exec.Command(execPath, args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	setSysProcAttr(cmd)

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open /dev/null: %v\n", err)
		os.Exit(1)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Server started as daemon (PID: %d)\n", cmd.Process.Pid)
}

func runServer() error {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	console, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer console.Sync()

	// Category files are optional
	var multiLog *logger.MultiLogger
	if config.Logging.LogsDir != "" {
		multiLog, err = logger.NewMultiLogger(logger.MultiLoggerConfig{
			Level:   config.Logging.Level,
			LogsDir: config.Logging.LogsDir,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize category logs: %w", err)
		}
		defer multiLog.Close()
	}

	logAdapter := logger.NewLoggerAdapter(console, multiLog)
	log := logAdapter.Logger()

	log.Info("Starting request task server",
		zap.String("version", "1.0.0"),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("bundle", config.Server.Bundle),
		zap.String("network_mode", config.Network.Mode))

	repo, err := infrastructure.NewSQLiteTaskRepository(config.Database.Path, config.Server.Bundle)
	if err != nil {
		log.Error("Failed to initialize repository", zap.Error(err))
		return err
	}
	defer repo.Close()

	service := infrastructure.NewHTTPDownloadService(&config.Download, log)
	defer service.Close()

	hub := handlers.NewEventHub(log)
	defer hub.Close()

	sink := infrastructure.MultiSink{
		hub,
		infrastructure.NewEventLogSink(logAdapter.Task()),
		infrastructure.NewNotificationService(&config.Notification, log),
	}

	scheduler := app.NewPollScheduler(log)
	if err := scheduler.Start(); err != nil {
		log.Error("Failed to start poll scheduler", zap.Error(err))
		return err
	}
	defer scheduler.Stop()

	driver := app.NewDownloadDriver(
		repo,
		service,
		infrastructure.NewNetworkMonitor(&config.Network, log),
		infrastructure.NewHTTPProber(config.Probe.Timeout, config.Download.UserAgent),
		sink,
		scheduler,
		&config.Poll,
		config.Probe.Timeout,
		log,
	)
	executor := app.NewStoreExecutor(config.Workers.StorePoolSize, config.Workers.CallTimeout)
	manager := app.NewTaskManager(repo, driver, executor, config.Storage.DefaultPath, log)
	defer manager.Close()

	// Nothing from a previous run is still transferring
	if err := manager.Reset(context.Background()); err != nil {
		log.Warn("Recovery sweep failed", zap.Error(err))
	}

	router := api.SetupRouter(manager, scheduler, hub, logAdapter)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Received shutdown signal")
	case err := <-serveErr:
		log.Error("HTTP server failed", zap.Error(err))
		return err
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Websocket connections are hijacked and not tracked by Shutdown
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}
