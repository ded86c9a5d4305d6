// Package service wires the full pipeline together: HTTP ingest feeding the
// worker pool and bus on the producing side, the processing engine with
// dispatch and the dead-letter path on the consuming side.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"conveyor/internal/bus"
	"conveyor/internal/codec"
	"conveyor/internal/config"
	"conveyor/internal/deadletter"
	"conveyor/internal/dispatch"
	"conveyor/internal/engine"
	"conveyor/internal/envelope"
	"conveyor/internal/handlers"
	"conveyor/internal/inbox"
	"conveyor/internal/ingest"
	"conveyor/internal/logger"
	"conveyor/internal/messages"
	"conveyor/internal/metrics"
	"conveyor/internal/middleware"
	"conveyor/internal/retry"
	"conveyor/internal/worker"
)

// Service is the high-level coordinator for producing, consuming, and
// dead-lettering.
type Service struct {
	cfg          *config.Config
	eventCodec   *codec.JSON
	dlqCodec     *codec.JSON
	taskHandlers *handlers.TaskHandlers
	eventBus     *bus.Bus
	dlqBus       *bus.Bus
	proc         *engine.Engine
	workerPool   *worker.Pool
	httpServer   *http.Server
	redisClient  *redis.Client
	envelopeChan chan *envelope.Envelope
	wg           sync.WaitGroup
}

// New constructs a Service with given config.
func New(cfg *config.Config) *Service {
	return &Service{
		cfg:          cfg,
		envelopeChan: make(chan *envelope.Envelope, 1000),
	}
}

// Run starts background goroutines and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	log := logger.WithComponent("service")
	log.Info().Str("app", s.cfg.App.Name).Msg("service starting")

	if err := s.initCodecs(); err != nil {
		return fmt.Errorf("failed to initialize codecs: %w", err)
	}

	if err := s.initBuses(); err != nil {
		return fmt.Errorf("failed to initialize buses: %w", err)
	}
	defer s.eventBus.Close()
	defer s.dlqBus.Close()

	if err := s.initEngine(ctx); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	s.initWorkerPool()
	s.workerPool.Start()

	s.initHTTPServer()

	// Start HTTP server in background
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("addr", s.cfg.HTTP.Addr).Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Run the processing engine in background
	engineErr := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		engineErr <- s.proc.Run(ctx)
	}()

	// Stats reporting goroutine
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reportStats(ctx)
	}()

	// Wait for shutdown signal or engine failure
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-engineErr:
		if err != nil {
			log.Error().Err(err).Msg("engine exited with error")
			s.shutdown()
			return err
		}
		log.Info().Msg("engine exited")
	}

	return s.shutdown()
}

// initCodecs registers message types on the wire codecs. The dead-letter
// topic carries its own message set, so it gets its own registry.
func (s *Service) initCodecs() error {
	s.eventCodec = codec.NewJSON()
	if err := messages.RegisterAll(s.eventCodec); err != nil {
		return err
	}

	s.dlqCodec = codec.NewJSON()
	return codec.Register[deadletter.Notice](s.dlqCodec, "deadletter.notice")
}

// initBuses initializes the event and dead-letter buses
func (s *Service) initBuses() error {
	log := logger.WithComponent("service")

	busCfg := bus.Config{
		PoolSize:     s.cfg.Kafka.Producer.PoolSize,
		BatchSize:    s.cfg.Kafka.Producer.BatchSize,
		BatchTimeout: s.cfg.Kafka.Producer.BatchTimeout,
		WriteTimeout: s.cfg.Kafka.Producer.WriteTimeout,
		RequiredAcks: s.cfg.Kafka.Producer.RequiredAcks,
	}

	eventBus, err := bus.New(s.cfg.Kafka.Brokers, s.cfg.Kafka.Topic, s.eventCodec, busCfg)
	if err != nil {
		return err
	}
	s.eventBus = eventBus

	dlqBus, err := bus.New(s.cfg.Kafka.Brokers, s.cfg.Kafka.DeadLetterTopic, s.dlqCodec, busCfg)
	if err != nil {
		return err
	}
	s.dlqBus = dlqBus

	log.Info().
		Strs("brokers", s.cfg.Kafka.Brokers).
		Str("topic", s.cfg.Kafka.Topic).
		Str("dead_letter_topic", s.cfg.Kafka.DeadLetterTopic).
		Msg("buses initialized")
	return nil
}

// initEngine initializes the processing engine with dispatch, the
// dead-letter exception handler, and optional duplicate suppression
func (s *Service) initEngine(ctx context.Context) error {
	log := logger.WithComponent("service")

	dispatcher := dispatch.New()
	s.taskHandlers = handlers.NewTaskHandlers()
	if err := s.taskHandlers.Register(dispatcher); err != nil {
		return err
	}

	policy := retry.Policy{
		MaxAttempts: s.cfg.Retry.MaxAttempts,
		Backoff:     retry.Exponential(s.cfg.Retry.Backoff, 30*time.Second),
		Classify:    func(error) bool { return true },
	}

	var dedup engine.Deduplicator
	if s.cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		s.redisClient = client
		dedup = inbox.New(client, inbox.WithTTL(s.cfg.Redis.InboxTTL))
		log.Info().Str("addr", s.cfg.Redis.Addr).Msg("duplicate suppression enabled")
	}

	proc, err := engine.New(engine.Config{
		Brokers:         s.cfg.Kafka.Brokers,
		Topic:           s.cfg.Kafka.Topic,
		GroupID:         s.cfg.Kafka.GroupID,
		Deserializer:    s.eventCodec,
		Handler:         dispatcher,
		Exceptions:      deadletter.NewPublisher(s.dlqBus, policy, s.cfg.App.Name),
		Dedup:           dedup,
		CheckpointRetry: policy,
	})
	if err != nil {
		return err
	}
	s.proc = proc

	log.Info().
		Str("group_id", s.cfg.Kafka.GroupID).
		Int("message_types", dispatcher.Len()).
		Msg("engine initialized")
	return nil
}

// initWorkerPool initializes the worker pool
func (s *Service) initWorkerPool() {
	log := logger.WithComponent("service")
	s.workerPool = worker.NewPool(worker.Config{
		Sender:       s.eventBus,
		EnvelopeChan: s.envelopeChan,
		Workers:      s.cfg.Kafka.Producer.PoolSize,
		BatchSize:    s.cfg.Kafka.Producer.BatchSize,
		BatchTimeout: s.cfg.Kafka.Producer.BatchTimeout,
	})
	log.Info().Int("workers", s.cfg.Kafka.Producer.PoolSize).Msg("worker pool initialized")
}

// initHTTPServer initializes the HTTP server with handlers
func (s *Service) initHTTPServer() {
	mux := http.NewServeMux()

	// Ingest handler (with middleware)
	ingestHandler := ingest.NewHandler(ingest.Config{
		EnvelopeChan: s.envelopeChan,
		Codec:        s.eventCodec,
		Contributor:  s.cfg.App.Name,
	})
	mux.Handle("/ingest", middleware.Chain(
		ingestHandler,
		middleware.Recovery,
		middleware.Logging,
		middleware.Auth(s.cfg.HTTP.AuthToken),
	))

	// Health check
	mux.HandleFunc("/health", s.healthHandler)

	// Stats endpoint
	mux.HandleFunc("/stats", s.statsHandler)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Initialize queue capacity metric
	metrics.WorkerQueueCapacity.Set(float64(cap(s.envelopeChan)))

	s.httpServer = &http.Server{
		Addr:         s.cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// shutdown performs graceful shutdown
func (s *Service) shutdown() error {
	log := logger.WithComponent("service")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new HTTP requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Close envelope channel to signal no more incoming envelopes
	log.Info().Msg("closing envelope channel")
	close(s.envelopeChan)

	// 3. Wait for workers to flush outstanding batches (with timeout)
	done := make(chan struct{})
	go func() {
		s.workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("workers stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("worker shutdown timeout - forcing exit")
	}

	// 4. Close buses and redis
	log.Info().Msg("closing buses")
	if err := s.eventBus.Close(); err != nil {
		log.Error().Err(err).Msg("event bus close error")
	}
	if err := s.dlqBus.Close(); err != nil {
		log.Error().Err(err).Msg("dead-letter bus close error")
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("redis close error")
		}
	}

	// 5. Wait for all goroutines
	s.wg.Wait()

	log.Info().Msg("service stopped gracefully")
	return nil
}

// reportStats periodically logs statistics
func (s *Service) reportStats(ctx context.Context) {
	log := logger.WithComponent("service")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			workerStats := s.workerPool.Stats()
			busStats := s.eventBus.Stats()
			taskStats := s.taskHandlers.Stats()

			// Update metrics
			metrics.WorkerQueueSize.Set(float64(len(s.envelopeChan)))

			log.Info().
				Uint64("worker_processed", workerStats.Processed).
				Uint64("worker_failed", workerStats.Failed).
				Uint64("bus_sent", busStats.Sent).
				Uint64("bus_failed", busStats.Failed).
				Uint64("bus_bytes", busStats.BytesWritten).
				Uint64("tasks_submitted", taskStats.Submitted).
				Uint64("tasks_completed", taskStats.Completed).
				Uint64("tasks_failed", taskStats.Failed).
				Int("queue_size", len(s.envelopeChan)).
				Msg("stats")
		}
	}
}

// healthHandler handles health check requests
func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// statsHandler returns current statistics
func (s *Service) statsHandler(w http.ResponseWriter, r *http.Request) {
	workerStats := s.workerPool.Stats()
	busStats := s.eventBus.Stats()
	taskStats := s.taskHandlers.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"worker": {
			"processed": %d,
			"failed": %d
		},
		"bus": {
			"sent": %d,
			"failed": %d,
			"bytes_written": %d
		},
		"tasks": {
			"submitted": %d,
			"completed": %d,
			"failed": %d
		},
		"queue": {
			"buffered": %d,
			"capacity": %d
		}
	}`,
		workerStats.Processed,
		workerStats.Failed,
		busStats.Sent,
		busStats.Failed,
		busStats.BytesWritten,
		taskStats.Submitted,
		taskStats.Completed,
		taskStats.Failed,
		len(s.envelopeChan),
		cap(s.envelopeChan),
	)
}
