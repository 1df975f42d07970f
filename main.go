package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bookflow/config"
	"bookflow/logger"
	"bookflow/parse"
	"bookflow/provider"
	"bookflow/report"
	"bookflow/storage"
	"bookflow/stream"
	"bookflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	parseFlag := flag.Bool("parse", false, "Consolidate recorded store files and exit")
	reportFlag := flag.Bool("report", false, "Generate the summary report and exit")
	forceFlag := flag.Bool("force", false, "Skip the schedule confirmation prompt")

	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	if cfg.Logging.CloudWatch {
		logger.InitCloudWatch(cfg.Logging.Region, cfg.Logging.Namespace, cfg.Logging.DashboardName)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Bookflow.Name,
		"version": cfg.Bookflow.Version,
	}).Info("starting bookflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if *parseFlag || *reportFlag {
		location := storage.NewDataLocation(cfg.Storage.DataDir, nil)
		if *parseFlag {
			log.Info("running parser")
			if err := parse.NewParser(location).ParseAll(true); err != nil {
				log.WithError(err).Error("parser failed")
				os.Exit(1)
			}
		}
		if *reportFlag {
			log.Info("running report")
			if err := report.NewReporter(location).Generate(); err != nil {
				log.WithError(err).Error("report failed")
				os.Exit(1)
			}
		}
		return
	}

	log.Info("running stream")
	if err := runStream(ctx, cfg, *forceFlag, log); err != nil {
		log.WithError(err).Error("stream run failed")
		os.Exit(1)
	}
	log.Info("bookflow stopped")
}

func runStream(ctx context.Context, cfg *config.Config, force bool, log *logger.Log) error {
	client := provider.NewClient(cfg.Provider)
	if err := client.Login(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	log.Info("logged in to provider account")

	entries, err := stream.ScheduleEntries(cfg.Streams)
	if err != nil {
		return err
	}
	scheduler := stream.NewScheduler(cfg, client, entries)

	if !force && !confirmSchedule(ctx, scheduler, log) {
		if err := client.Logout(ctx); err != nil {
			log.WithError(err).Warn("logout failed")
		}
		log.Info("logged out of provider account, exiting")
		return nil
	}

	var events []storage.Event
	for _, entry := range scheduler.Entries() {
		found, err := provider.FetchEvents(ctx, client, entry.CatalogFilter)
		if err != nil {
			return fmt.Errorf("fetch events for %s: %w", entry.Name, err)
		}
		events = append(events, found...)
	}
	location := storage.NewDataLocation(cfg.Storage.DataDir, events)
	if err := location.Create(); err != nil {
		return err
	}

	registry := writer.NewRegistry()
	registry.Register("file", writer.NewFileBuffer)
	switch cfg.Writer.Backend {
	case "s3":
		backend, err := writer.NewS3Backend(ctx, cfg)
		if err != nil {
			return err
		}
		registry.Register("s3", backend.Constructor())
	case "kafka":
		backend, err := writer.NewKafkaBackend(cfg)
		if err != nil {
			return err
		}
		defer backend.Close()
		registry.Register("kafka", backend.Constructor())
	}
	manager := writer.NewManager(cfg, scheduler.Out, registry, writer.BufferParams{Location: location})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(runCtx)
	}()

	managerErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		managerErr <- manager.Run(runCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-managerErr:
		// Fatal pipeline error: stop everything and surface it.
		scheduler.Stop()
		stop()
		wg.Wait()
		if logoutErr := client.Logout(context.Background()); logoutErr != nil {
			log.WithError(logoutErr).Warn("logout failed")
		}
		if err == nil {
			return nil
		}
		return fmt.Errorf("buffer manager: %w", err)
	}

	log.Info("stopping stream scheduler")
	scheduler.Stop()
	stop()
	wg.Wait()

	writeErr := manager.WriteAll()
	if writeErr != nil {
		log.WithError(writeErr).Error("final buffer flush failed")
	} else {
		log.Info("wrote remaining buffers")
	}

	if err := client.Logout(context.Background()); err != nil {
		log.WithError(err).Warn("logout failed")
	}
	log.Info("logged out of provider account")
	return writeErr
}

// confirmSchedule shows the schedule with its matching events and asks for
// an interactive go-ahead.
func confirmSchedule(ctx context.Context, scheduler *stream.Scheduler, log *logger.Log) bool {
	if err := scheduler.Display(ctx); err != nil {
		log.WithError(err).Error("failed to display schedule")
		return false
	}
	fmt.Print("Is this correct? [y/n] ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}
