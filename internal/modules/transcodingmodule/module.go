// Package transcodingmodule wires the job ledger, the codec engine and their
// collaborators into one unit the server and worker binaries run.
//
// Architecture:
//
//	upload → Ledger (pending) → Invoker → Queue → Processor → Engine
//	                                                  ↓
//	                          ObjectStore ← artifacts, Ledger (completed|failed)
//
// Ledger mutations fan out through a Notifier to websocket watchers. With the
// Redis backend every process relays the shared stream into its local bus.
package transcodingmodule

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/vodforge/vodforge/internal/config"
	"github.com/vodforge/vodforge/internal/events"
	"github.com/vodforge/vodforge/internal/middleware"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/api"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/dispatch"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/engine"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/ffmpeg"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/ledger"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/notify"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/pipeline"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/source"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/storage"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/types"
	"gorm.io/gorm"
)

const (
	// ModuleID is the unique identifier for the transcoding module
	ModuleID = "system.transcoding"

	// ModuleName is the display name for the transcoding module
	ModuleName = "Transcoding"
)

// Options select how the module is assembled
type Options struct {
	// Version is reported by the health endpoint
	Version string

	// Worker builds the in-process queue even when the trigger backend is
	// Kafka, so the process can consume invocations.
	Worker bool

	// Runner overrides the codec command runner, for tests
	Runner ffmpeg.CommandRunner
}

// Module owns every long-lived component of the transcoding system.
type Module struct {
	cfg    *config.Config
	tc     *types.Config
	opts   Options
	logger hclog.Logger

	bus       *events.Bus
	local     *notify.LocalNotifier
	redis     *notify.RedisNotifier
	store     storage.ObjectStore
	ledger    *ledger.Ledger
	runtimes  *ffmpeg.RuntimeProvider
	processor *pipeline.Processor
	queue     *dispatch.Queue
	kafka     *dispatch.KafkaInvoker
	invoker   dispatch.Invoker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewModule connects the configured backends and builds the module. Nothing
// runs until Start.
func NewModule(ctx context.Context, cfg *config.Config, db *gorm.DB, opts Options, logger hclog.Logger) (*Module, error) {
	if cfg == nil {
		return nil, errors.New("transcoding module requires a config")
	}
	if db == nil {
		return nil, errors.New("transcoding module requires a database")
	}

	m := &Module{
		cfg:    cfg,
		tc:     moduleConfig(cfg.Transcoding),
		opts:   opts,
		logger: logger.Named("transcoding"),
	}

	store, err := m.openStore(ctx)
	if err != nil {
		return nil, err
	}
	m.store = store

	m.bus = events.NewBus(m.logger)
	m.local = notify.NewLocalNotifier(m.bus, "ledger")

	var notifier notify.Notifier = m.local
	if cfg.Notifications.Backend == "redis" {
		m.redis, err = notify.NewRedisNotifier(ctx, notify.RedisOptions{
			Addr:     cfg.Notifications.RedisAddr,
			Password: cfg.Notifications.RedisPassword,
			DB:       cfg.Notifications.RedisDB,
			Prefix:   cfg.Notifications.ChannelPrefix,
		}, m.logger)
		if err != nil {
			m.bus.Stop()
			return nil, err
		}
		// Watchers on this process hear ledger changes through the relay
		notifier = m.redis
	}

	m.ledger = ledger.New(db, notifier, m.logger)

	m.runtimes = ffmpeg.NewRuntimeProvider(ffmpeg.RuntimeConfig{
		FFmpegPath:  m.tc.FFmpegPath,
		FFprobePath: m.tc.FFprobePath,
		ScratchDir:  m.tc.ScratchDir,
	}, opts.Runner, m.logger)

	m.processor = pipeline.NewProcessor(
		m.ledger,
		engine.NewEngine(m.runtimes, m.logger),
		source.NewFetcher(m.store, m.tc.MaxSourceBytes, m.logger),
		m.store,
		m.logger,
	)

	if cfg.Trigger.Backend != "kafka" || opts.Worker {
		m.queue = dispatch.NewQueue(dispatch.QueueConfig{
			Workers:    m.tc.Workers,
			QueueSize:  m.tc.QueueSize,
			JobTimeout: m.tc.JobTimeout,
		}, m.processor.Process, nil, m.logger)
	}

	if cfg.Trigger.Backend == "kafka" && !opts.Worker {
		m.kafka = dispatch.NewKafkaInvoker(m.kafkaConfig(), m.logger)
		m.invoker = m.kafka
	} else {
		m.invoker = m.queue
	}

	m.logger.Info("transcoding module created",
		"storage", cfg.Storage.Backend,
		"notifications", cfg.Notifications.Backend,
		"trigger", cfg.Trigger.Backend,
		"worker", opts.Worker)
	return m, nil
}

func (m *Module) openStore(ctx context.Context) (storage.ObjectStore, error) {
	sc := m.cfg.Storage
	switch sc.Backend {
	case "minio":
		store, err := storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:      sc.MinioEndpoint,
			AccessKey:     sc.MinioAccessKey,
			SecretKey:     sc.MinioSecretKey,
			Bucket:        sc.MinioBucket,
			Region:        sc.MinioRegion,
			UseSSL:        sc.MinioUseSSL,
			PublicBaseURL: sc.MinioPublicURL,
		}, m.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open minio store: %w", err)
		}
		return store, nil
	case "local", "":
		store, err := storage.NewLocalStore(sc.LocalDir, sc.PublicBaseURL, m.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open local store: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unsupported storage backend: %s", sc.Backend)
}

func (m *Module) kafkaConfig() dispatch.KafkaConfig {
	return dispatch.KafkaConfig{
		Brokers: m.cfg.Trigger.Brokers,
		Topic:   m.cfg.Trigger.Topic,
		GroupID: m.cfg.Trigger.GroupID,
	}
}

// moduleConfig derives the module tuning from the file configuration
func moduleConfig(tc config.TranscodingConfig) *types.Config {
	c := types.DefaultConfig()
	if tc.FFmpegPath != "" {
		c.FFmpegPath = tc.FFmpegPath
	}
	if tc.FFprobePath != "" {
		c.FFprobePath = tc.FFprobePath
	}
	if tc.ScratchDir != "" {
		c.ScratchDir = tc.ScratchDir
	}
	if tc.Workers > 0 {
		c.Workers = tc.Workers
	}
	if tc.QueueSize > 0 {
		c.QueueSize = tc.QueueSize
	}
	if tc.JobTimeout > 0 {
		c.JobTimeout = tc.JobTimeout
	}
	if tc.MaxSourceBytes > 0 {
		c.MaxSourceBytes = tc.MaxSourceBytes
	}
	return c
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// Start launches the dispatch workers and, with Redis, the change relay.
func (m *Module) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel

	if m.queue != nil {
		m.queue.Start()
	}

	if m.redis != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.redis.Relay(runCtx, m.local); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("job change relay stopped", "error", err)
			}
		}()
	}
}

// RunConsumer feeds invocations from the trigger topic into the local queue
// until ctx is done. It is what the worker binary runs.
func (m *Module) RunConsumer(ctx context.Context) error {
	if m.queue == nil {
		return errors.New("consumer requires the in-process queue; build the module with Worker set")
	}
	consumer := dispatch.NewKafkaConsumer(m.kafkaConfig(), m.logger)
	defer consumer.Close()

	m.logger.Info("consuming invocations", "topic", m.cfg.Trigger.Topic, "group", m.cfg.Trigger.GroupID)
	err := consumer.Run(ctx, m.queue.Trigger)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RegisterRoutes registers all transcoding module HTTP routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	auth := middleware.Auth(middleware.AuthOptions{
		Enabled:      m.cfg.Auth.Enabled,
		Secret:       []byte(m.cfg.Auth.JWTSecret),
		DevPrincipal: m.cfg.Auth.DevPrincipalID,
	})

	jobs := api.NewJobHandler(m.ledger, m.store, m.invoker, m.local, api.Options{
		MaxUploadBytes: m.cfg.Server.MaxUploadBytes,
		PresignExpiry:  m.cfg.Storage.PresignExpiry,
	}, m.logger)

	var queue api.QueueStats
	if m.queue != nil {
		queue = m.queue
	}
	health := api.NewHealthHandler(m.opts.Version, m.runtimes, queue, m.tc.ScratchDir)

	var media *api.MediaHandler
	if local, ok := m.store.(*storage.LocalStore); ok {
		media = api.NewMediaHandler(local, m.logger)
	}

	api.RegisterRoutes(router, auth, jobs, health, media)
	m.logger.Info("transcoding routes registered", "media", media != nil)
}

// Shutdown stops accepting work, waits for running jobs and closes the
// backends. Jobs still queued stay pending.
func (m *Module) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down transcoding module")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if m.queue != nil {
			m.queue.Stop()
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown deadline reached with jobs still running")
	}

	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	var errs []error
	if m.kafka != nil {
		errs = append(errs, m.kafka.Close())
	}
	if m.redis != nil {
		errs = append(errs, m.redis.Close())
	}
	m.bus.Stop()

	return errors.Join(errs...)
}

// Ledger returns the job ledger
func (m *Module) Ledger() *ledger.Ledger { return m.ledger }

// Processor returns the job pipeline
func (m *Module) Processor() *pipeline.Processor { return m.processor }

// Queue returns the in-process queue, or nil when jobs go to Kafka
func (m *Module) Queue() *dispatch.Queue { return m.queue }

// Invoker returns where new jobs are triggered
func (m *Module) Invoker() dispatch.Invoker { return m.invoker }

// Store returns the object store
func (m *Module) Store() storage.ObjectStore { return m.store }
