package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"payeerflow/config"
	"payeerflow/internal/auth"
	"payeerflow/internal/channel"
	"payeerflow/internal/metrics"
	"payeerflow/internal/payeer"
	"payeerflow/internal/pipeline"
	"payeerflow/internal/rest"
	"payeerflow/internal/symbols"
	"payeerflow/internal/throttler"
	"payeerflow/internal/timesync"
	"payeerflow/internal/trading"
	"payeerflow/logger"
	"payeerflow/processor"
	reader "payeerflow/reader/payeer"
	"payeerflow/writer"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting payeerflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == logger.ReportLevel {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	metrics.Configure(cfg.Metrics)
	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Address)
	}
	if cfg.Metrics.CloudWatch.Enabled {
		cw := cfg.Metrics.CloudWatch
		logger.InitCloudWatch(ctx, cw.Region, cw.Namespace, cw.Dashboard)
	}

	limiter, err := throttler.New(
		throttler.MergeLimits(payeer.RateLimits(), cfg.Exchange.RateLimits),
		throttler.WithWaitObserver(metrics.ObserveThrottleWait),
	)
	if err != nil {
		log.WithError(err).Error("failed to build rate limiter")
		os.Exit(1)
	}

	transport := rest.NewHTTPTransport(cfg.Exchange, cfg.Exchange.UserAgent)
	restOpts := []rest.Option{
		rest.WithBaseURLs(cfg.Exchange.PublicURL, cfg.Exchange.PrivateURL),
		rest.WithObserver(metrics.ObserveRequest),
	}

	mapper := symbols.NewStaticMapper(cfg.Pairs)

	// Public calls need no signer, so the time source can exist before the
	// signer that depends on it.
	publicTrading := trading.NewClient(rest.NewClient(transport, limiter, nil, restOpts...), mapper)

	var synchronizer *timesync.Synchronizer
	var signClock auth.Clock
	if cfg.TimeSync.Enabled {
		synchronizer = timesync.New(publicTrading, cfg.TimeSync.Interval)
		if err := synchronizer.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start time sync")
			os.Exit(1)
		}
		signClock = synchronizer
	}

	var signer auth.Signer
	if cfg.Exchange.HasCredentials() {
		signer, err = auth.NewSigner(auth.Scheme(cfg.Exchange.AuthScheme), cfg.Exchange.APIKey, cfg.Exchange.SecretKey, signClock)
		if err != nil {
			log.WithError(err).WithEnv("PAYEER_API_KEY", "PAYEER_SECRET_KEY").Error("invalid exchange credentials")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("no exchange credentials; private endpoints disabled")
	}

	client := rest.NewClient(transport, limiter, signer, restOpts...)
	tradingClient := trading.NewClient(client, mapper)

	pairs := cfg.Pairs
	if len(pairs) == 0 {
		pairs, err = tradingClient.TradingPairs(ctx)
		if err != nil {
			log.WithError(err).Error("failed to list trading pairs")
			os.Exit(1)
		}
		mapper.Update(pairs)
	}
	log.WithFields(logger.Fields{"pairs": pairs}).Info("tracking trading pairs")

	channels := channel.NewChannels()

	var archive *writer.SnapshotWriter
	if cfg.Storage.S3.Enabled {
		archive, err = writer.NewSnapshotWriter(ctx, cfg)
		if err != nil {
			log.WithError(err).Error("failed to create S3 writer")
			os.Exit(1)
		}
		if err := archive.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start S3 writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; snapshots are not archived")
	}

	var publisher *writer.KafkaWriter
	if cfg.Storage.Kafka.Enabled {
		publisher, err = writer.NewKafkaWriter(cfg.Storage.Kafka)
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
	}

	var dispatchOpts []pipeline.Option
	if archive != nil {
		dispatchOpts = append(dispatchOpts, pipeline.WithSnapshotSink(archive))
	}
	if publisher != nil {
		dispatchOpts = append(dispatchOpts, pipeline.WithMarketSink(publisher))
	}
	dispatcher := pipeline.NewDispatcher(channels, dispatchOpts...)

	var wg sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithComponent("main").WithError(err).Warn(name + " exited")
			}
		}()
	}

	goRun("dispatcher", dispatcher.Run)

	if cfg.Metrics.Enabled {
		metrics.StartQueueSizeMetrics(ctx, channels, cfg.Metrics.ReportInterval)
	}

	var bookReader *reader.OrderBookReader
	if cfg.OrderBook.Enabled {
		bookReader = reader.NewOrderBookReader(client, mapper, pairs, channels, tradingClient, cfg.OrderBook)
		if err := bookReader.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start order book reader")
			os.Exit(1)
		}
	}

	if cfg.OrderBook.Stream.Enabled {
		parser := reader.NewStreamParser(mapper, channels)
		stream := reader.NewStreamClient(cfg.OrderBook.Stream, cfg.Exchange.LocalIP, pairs, mapper, parser.HandleStreamMessage)
		goRun("market stream", stream.Run)
	}

	if cfg.UserStream.Enabled {
		orders := processor.NewOrderStatusProcessor(channels.OrderUpdates)
		balances := processor.NewBalanceProcessor(channels.Balances)
		userStream := reader.NewUserStreamReader(client, mapper, pairs, orders, balances, cfg.UserStream)
		goRun("user stream", userStream.Run)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	if bookReader != nil {
		log.Info("stopping order book reader")
		bookReader.Stop()
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	if archive != nil {
		log.Info("stopping S3 writer")
		archive.Stop()
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.WithError(err).Warn("failed to close kafka writer")
		}
	}
	if synchronizer != nil {
		if err := synchronizer.Stop(); err != nil {
			log.WithError(err).Warn("failed to stop time sync")
		}
	}
	channels.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("failed to stop metrics server")
	}

	log.Info("payeerflow stopped")
}
