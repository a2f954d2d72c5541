package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"adt-bridge/internal/api"
	"adt-bridge/internal/config"
	"adt-bridge/internal/digest"
	"adt-bridge/internal/fhir"
	"adt-bridge/internal/hl7"
	"adt-bridge/internal/notify"
	"adt-bridge/internal/observability"
	"adt-bridge/internal/pipeline"
	"adt-bridge/internal/queue"
	"adt-bridge/internal/retry"
	"adt-bridge/internal/store"
	"adt-bridge/internal/transmit"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.Load()
	observability.InitLogger(cfg.Logging.Level)
	logger := observability.GetLogger()

	registry := prometheus.NewRegistry()
	metrics := observability.NewPrometheusMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker := queue.NewKafkaBroker(queue.KafkaConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
	})
	defer broker.Close()

	var messageStore store.MessageStore
	var attemptStore store.AttemptStore
	if cfg.Store.PostgresURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Store.PostgresURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open postgres store")
		}
		defer pg.Close()
		messageStore, attemptStore = pg, pg
	} else {
		logger.Warn("POSTGRES_URL not set, using in-memory store")
		mem := store.NewMemoryStore()
		messageStore, attemptStore = mem, mem
	}

	var resolver fhir.FallbackResolver = fhir.StrictResolver{}
	if cfg.Classifier.DefaultClinicID != "" {
		resolver = fhir.StaticResolver{Clinic: cfg.Classifier.DefaultClinicID}
	}
	classifier := fhir.NewClassifier(resolver)

	hl7Opts := hl7.Options{
		SendingApp:        cfg.Transmission.SendingApp,
		SendingFacility:   cfg.Transmission.SendingFacility,
		ReceivingApp:      cfg.Transmission.ReceivingApp,
		ReceivingFacility: cfg.Transmission.ReceivingFacility,
	}

	transmitter := transmit.NewTransmitter(transmit.Config{
		EndpointURL: cfg.Transmission.EndpointURL,
		Timeout:     cfg.Transmission.Timeout,
		Metrics:     metrics,
	})

	conversion := pipeline.NewConversionStage(broker, messageStore, cfg.Transmission.Topic, hl7Opts, metrics)
	transmission := pipeline.NewTransmissionStage(broker, transmitter, messageStore, attemptStore, cfg.Retry.Topic, metrics)

	conversionConsumer := pipeline.NewConsumer(broker, pipeline.ConsumerConfig{
		Queue:   cfg.Transmission.ConversionTopic,
		Workers: cfg.Transmission.Workers,
		Wait:    cfg.Transmission.ReceiveWait,
	}, conversion.Handle)
	transmissionConsumer := pipeline.NewConsumer(broker, pipeline.ConsumerConfig{
		Queue:   cfg.Transmission.Topic,
		Workers: cfg.Transmission.Workers,
		Wait:    cfg.Transmission.ReceiveWait,
	}, transmission.Handle)

	coordinator := retry.NewCoordinator(broker, transmitter, messageStore, attemptStore, retry.Config{
		Queue:         cfg.Retry.Topic,
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		SweepInterval: cfg.Retry.SweepInterval,
		BatchSize:     cfg.Retry.BatchSize,
		ReceiveWait:   cfg.Transmission.ReceiveWait,
		Metrics:       metrics,
	})

	server := api.NewServer(classifier, broker, messageStore, api.Config{
		IntakeQueue:   cfg.Transmission.ConversionTopic,
		TransmitQueue: cfg.Transmission.Topic,
		Metrics:       metrics,
		Registry:      registry,
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		conversionConsumer.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		transmissionConsumer.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		coordinator.Run(ctx)
	}()

	if cfg.Digest.Enabled {
		notifier := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Sender:   cfg.SMTP.Sender,
		})
		generator := digest.NewGenerator(messageStore, attemptStore, notifier, cfg.Digest.Recipients)
		scheduler := digest.NewScheduler(generator, cfg.Digest.Hour)

		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()
	}

	go func() {
		if err := server.Start(cfg.HTTP.Addr); err != nil {
			logger.WithError(err).Error("HTTP server stopped")
			stop()
		}
	}()

	logger.WithField("addr", cfg.HTTP.Addr).Info("Bridge started")

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP shutdown failed")
	}

	wg.Wait()
	logger.Info("Bridge stopped")
}
