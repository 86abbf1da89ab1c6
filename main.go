package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"liqflow/config"
	"liqflow/internal/api"
	"liqflow/internal/channel"
	"liqflow/internal/metrics"
	"liqflow/internal/processor"
	"liqflow/internal/reader"
	"liqflow/internal/scheduler"
	"liqflow/internal/store"
	"liqflow/internal/writer"
	"liqflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
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

	log.WithEnv("APP_ENV").WithFields(logger.Fields{
		"service": cfg.Liqflow.Name,
		"version": cfg.Liqflow.Version,
		"env":     config.AppEnvironment(),
	}).Info("starting liqflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	channels := channel.NewChannels(cfg.Channels.RawBuffer)
	defer channels.Close()

	if cfg.Metrics.ChannelSize {
		go metrics.StartChannelSizeMetrics(ctx, channels, 30*time.Second)
	}

	windowStore := store.NewWindowStore()

	var archiver *writer.S3Archiver
	if cfg.Storage.S3.Enabled {
		archiver, err = writer.NewS3Archiver(cfg.Storage.S3)
		if err != nil {
			log.WithError(err).Error("failed to create s3 archiver")
			os.Exit(1)
		}
	}

	snapshotWriter, err := writer.NewSnapshotWriter(cfg.Storage.File.WindowPath, cfg.Storage.File.RollupPath, archiver)
	if err != nil {
		log.WithError(err).Error("failed to create snapshot writer")
		os.Exit(1)
	}

	// Restore the persisted window, dropping anything past the retention
	// horizon. A missing or corrupt file starts with an empty window.
	persisted, err := snapshotWriter.LoadWindow()
	if err != nil {
		log.WithError(err).Warn("could not restore persisted window, starting empty")
	} else if len(persisted) > 0 {
		cutoff := time.Now().Add(-cfg.Window.Retention)
		restored := windowStore.Restore(persisted, cutoff)
		log.WithComponent("main").WithFields(logger.Fields{
			"persisted": len(persisted),
			"restored":  restored,
		}).Info("restored liquidation window")
	}

	var publisher processor.EventPublisher
	var kafkaPublisher *writer.KafkaPublisher
	if cfg.Storage.Kafka.Enabled {
		kafkaPublisher, err = writer.NewKafkaPublisher(cfg.Storage.Kafka)
		if err != nil {
			log.WithError(err).Error("failed to create kafka publisher")
			os.Exit(1)
		}
		publisher = kafkaPublisher
	}

	liqProcessor := processor.NewLiquidationProcessor(cfg, channels, windowStore, publisher)
	sched := scheduler.NewScheduler(cfg, windowStore, snapshotWriter)

	var binanceReader *reader.Binance_LIQ_Reader
	if cfg.Source.Binance.Liquidation.Enabled {
		binanceReader = reader.Binance_LIQ_NewReader(cfg, channels)
	}
	var bybitReader *reader.Bybit_LIQ_Reader
	if cfg.Source.Bybit.Liquidation.Enabled {
		bybitReader = reader.Bybit_LIQ_NewReader(cfg, channels)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := liqProcessor.Start(ctx); err != nil {
			log.WithError(err).Warn("liquidation processor failed to start")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Start(ctx); err != nil {
			log.WithError(err).Warn("scheduler failed to start")
		}
	}()

	if binanceReader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := binanceReader.Binance_LIQ_Start(ctx); err != nil {
				log.WithError(err).Warn("binance reader failed to start")
			}
		}()
	}
	if bybitReader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bybitReader.Bybit_LIQ_Start(ctx); err != nil {
				log.WithError(err).Warn("bybit reader failed to start")
			}
		}()
	}

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg, windowStore, sched)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Run(ctx); err != nil {
				log.WithError(err).Error("api server failed")
			}
		}()
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if binanceReader != nil {
		log.Info("stopping binance reader")
		binanceReader.Binance_LIQ_Stop()
	}
	if bybitReader != nil {
		log.Info("stopping bybit reader")
		bybitReader.Bybit_LIQ_Stop()
	}

	log.Info("stopping liquidation processor")
	liqProcessor.Stop()

	log.Info("stopping scheduler")
	sched.Stop()

	if kafkaPublisher != nil {
		log.Info("closing kafka publisher")
		if err := kafkaPublisher.Close(); err != nil {
			log.WithError(err).Warn("kafka publisher close failed")
		}
	}

	// Final window persist so a restart resumes close to where we stopped.
	snapshotWriter.WriteWindow(windowStore.Snapshot())

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("shutdown timed out, forcing exit")
	}
}
