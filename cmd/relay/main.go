package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/dispatch-alert-relay/internal/adapter/httpadapter"
	imapadapter "github.com/couchcryptid/dispatch-alert-relay/internal/adapter/imap"
	kafkaadapter "github.com/couchcryptid/dispatch-alert-relay/internal/adapter/kafka"
	"github.com/couchcryptid/dispatch-alert-relay/internal/adapter/telegram"
	"github.com/couchcryptid/dispatch-alert-relay/internal/config"
	"github.com/couchcryptid/dispatch-alert-relay/internal/mailbox"
	"github.com/couchcryptid/dispatch-alert-relay/internal/observability"
	"github.com/couchcryptid/dispatch-alert-relay/internal/pipeline"
)

const logQueueSize = 64

func main() {
	// A .env file is optional; the process environment wins.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	baseLogger := observability.NewLogger(cfg)
	bus := observability.NewEventBus()
	logger := observability.Bridge(baseLogger, bus, observability.ParseLevel(cfg.LogNotifyLevel))
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()

	client := telegram.NewClient(cfg, metrics, logger)

	// The forwarder's client logs without the bridge so its own failures
	// never loop back into the operations chat.
	var forwarder *telegram.Forwarder
	if cfg.TelegramLogChatID != "" {
		forwarder = telegram.NewForwarder(client.WithLogger(baseLogger), cfg.TelegramLogChatID, logQueueSize, metrics, baseLogger)
		bus.Subscribe(forwarder)
		logger.Info("log forwarding enabled", "chat_id", cfg.TelegramLogChatID, "min_level", cfg.LogNotifyLevel)
	}

	var publisher pipeline.IncidentPublisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled() {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("incident feed enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaIncidentTopic)
	} else {
		logger.Info("incident feed disabled")
	}

	dispatcher := pipeline.NewDispatcher(cfg.Stations, client, publisher, cfg.DeliveryWorkers, metrics, logger)
	dialer := imapadapter.NewDialer(cfg, logger)
	watcher := mailbox.NewWatcher(dialer, dispatcher, mailbox.OptionsFromConfig(cfg), clockwork.NewRealClock(), metrics, logger)
	supervisor := pipeline.NewSupervisor(watcher, cfg.PollInterval, cfg.IMAPReconnectDelay, clockwork.NewRealClock(), metrics, logger)

	status := func() httpadapter.Status {
		return httpadapter.Status{
			Mailbox:      watcher.State().String(),
			Stations:     cfg.Stations.Stations(),
			IncidentFeed: writer != nil,
			LogForwarder: forwarder != nil,
		}
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, supervisor, status, logger)

	logger.Info("relay configured",
		"imap_server", cfg.IMAPAddr(),
		"folder", cfg.IMAPFolder,
		"stations", cfg.Stations.Stations(),
		"delivery_workers", cfg.DeliveryWorkers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if forwarder != nil {
		go forwarder.Run(ctx)
	}

	// The watcher owns the mailbox session; Close runs on the same goroutine.
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := supervisor.Run(ctx); err != nil {
			logger.Error("supervisor error", "error", err)
		}
		watcher.Close()
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	select {
	case <-watchDone:
	case <-shutdownCtx.Done():
		logger.Warn("watcher did not stop before shutdown timeout")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if forwarder != nil {
		forwarder.Drain(shutdownCtx)
	}

	baseLogger.Info("shutdown complete")
}
