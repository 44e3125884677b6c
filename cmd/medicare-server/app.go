package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/medicare/medicare/internal/config"
	"github.com/medicare/medicare/internal/domain/medication"
	"github.com/medicare/medicare/internal/domain/notification"
	"github.com/medicare/medicare/internal/domain/patient"
	"github.com/medicare/medicare/internal/domain/vitals"
	"github.com/medicare/medicare/internal/platform/db"
	"github.com/medicare/medicare/internal/platform/delivery"
	"github.com/medicare/medicare/internal/platform/events"
	"github.com/medicare/medicare/internal/platform/lease"
	"github.com/medicare/medicare/internal/platform/middleware"
	"github.com/medicare/medicare/internal/platform/orchestrator"
	"github.com/medicare/medicare/internal/platform/scheduler"
	"github.com/medicare/medicare/internal/platform/telemetry"
	"github.com/medicare/medicare/internal/platform/validation"
	"github.com/medicare/medicare/internal/platform/websocket"
)

const instrumentation = "github.com/medicare/medicare"

// stores are the persistence dependencies, Postgres in production and the
// in-memory repositories in tests.
type stores struct {
	patients      patient.Repository
	medications   medication.Repository
	vitals        vitals.Repository
	notifications notification.Repository
	tx            db.Transactor
	pinger        db.Pinger
}

// infra are the outbound dependencies.
type infra struct {
	events   events.Publisher
	locker   lease.Locker
	channels []delivery.Option
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
}

type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	patients     *patient.Service
	medications  *medication.Service
	vitals       *vitals.Service
	engine       *notification.Engine
	orchestrator *orchestrator.Orchestrator
	scheduler    *scheduler.Scheduler
	hub          *websocket.Hub

	pinger  db.Pinger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
	closers []func()
}

// newApp connects to every configured backend and wires the services.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (a *app, err error) {
	var closers []func()
	defer func() {
		if err != nil {
			runClosers(closers)
		}
	}()

	provider, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, err
	}
	closers = append(closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	})
	metrics, err := telemetry.NewMetrics(provider.Meter(instrumentation))
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	closers = append(closers, pool.Close)
	logger.Info().Msg("connected to database")

	in := infra{
		events:  events.NopPublisher{},
		locker:  lease.NewLocalLocker(),
		metrics: metrics,
		tracer:  provider.Tracer(instrumentation),
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		in.events = kp
		closers = append(closers, func() { kp.Close() })
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
	}
	if cfg.RedisURL != "" {
		client, err := lease.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() { client.Close() })
		in.locker = lease.NewRedisLocker(client, "")
		logger.Info().Msg("job leases held in redis")
	}
	channels, closeChannels, err := buildChannels(cfg, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, closeChannels)
	in.channels = channels

	a, err = wire(cfg, logger, stores{
		patients:      patient.NewRepoPG(pool),
		medications:   medication.NewRepoPG(pool),
		vitals:        vitals.NewRepoPG(pool),
		notifications: notification.NewRepoPG(pool),
		tx:            db.NewTransactor(pool),
		pinger:        pool,
	}, in)
	if err != nil {
		return nil, err
	}
	a.closers = closers
	return a, nil
}

func runClosers(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func (a *app) close() {
	runClosers(a.closers)
}

func dosingPolicy(cfg *config.Config) medication.DosingPolicy {
	return medication.DosingPolicy{
		AsNeededInterval:   cfg.AsNeededInterval,
		AsNeededDailyDoses: cfg.AsNeededDailyDoses,
		CustomInterval:     cfg.CustomInterval,
		CustomDailyDoses:   cfg.CustomDailyDoses,
	}
}

func schedule(cfg *config.Config) orchestrator.Schedule {
	return orchestrator.Schedule{
		orchestrator.StepDoseReminders:    cfg.DoseReminderInterval,
		orchestrator.StepRefillReminders:  cfg.RefillInterval,
		orchestrator.StepHealthAlerts:     cfg.HealthAlertInterval,
		orchestrator.StepDispatchPending:  cfg.DispatchInterval,
		orchestrator.StepRetryFailed:      cfg.RetryInterval,
		orchestrator.StepExpirePending:    cfg.ExpiryInterval,
		orchestrator.StepRefreshAdherence: cfg.AdherenceInterval,
		orchestrator.StepCompleteEnded:    cfg.AdherenceInterval,
		orchestrator.StepCleanup:          cfg.CleanupInterval,
	}
}

// wire builds the services on top of the given stores and infrastructure.
func wire(cfg *config.Config, logger zerolog.Logger, s stores, in infra) (*app, error) {
	if in.events == nil {
		in.events = events.NopPublisher{}
	}
	if in.locker == nil {
		in.locker = lease.NewLocalLocker()
	}
	if in.tracer == nil {
		in.tracer = noop.NewTracerProvider().Tracer(instrumentation)
	}
	if s.tx == nil {
		s.tx = db.NopTransactor{}
	}

	// Lifecycle events go to the configured publisher and to open streams.
	hub := websocket.NewHub(logger)
	in.events = events.Fanout{in.events, hub}

	v := validation.New()
	policy := dosingPolicy(cfg)
	patients := patient.NewService(s.patients, v)

	opts := append([]delivery.Option{
		delivery.WithChannel(delivery.ChannelInApp, delivery.InAppChannel{}),
		delivery.WithDirectory(patients),
		delivery.WithConcurrency(cfg.DispatchWorkers),
		delivery.WithTimeout(cfg.DispatchTimeout),
		delivery.WithMetrics(in.metrics),
	}, in.channels...)
	dispatcher := delivery.NewDispatcher(logger, opts...)

	engine := notification.NewEngine(s.notifications, dispatcher, v, logger,
		notification.WithEvents(in.events),
		notification.WithMetrics(in.metrics),
		notification.WithDispatchLease(cfg.DispatchLease),
	)

	orch := orchestrator.New(s.medications, policy, s.vitals, patients, engine, s.notifications,
		orchestrator.Config{
			BatchSize:        cfg.JobBatchSize,
			HealthScanWindow: cfg.HealthScanWindow,
			Workers:          cfg.DispatchWorkers,
			ReadRetention:    time.Duration(cfg.ReadRetentionDays) * 24 * time.Hour,
			Retention:        time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		},
		logger,
		orchestrator.WithTransactor(s.tx),
		orchestrator.WithEvents(in.events),
		orchestrator.WithMetrics(in.metrics),
		orchestrator.WithTracer(in.tracer),
	)

	sched := scheduler.New(logger,
		scheduler.WithLocker(in.locker),
		scheduler.WithMetrics(in.metrics),
		scheduler.WithTracer(in.tracer),
	)
	if err := orch.Register(sched, schedule(cfg)); err != nil {
		return nil, fmt.Errorf("register jobs: %w", err)
	}

	return &app{
		cfg:          cfg,
		logger:       logger,
		patients:     patients,
		medications:  medication.NewService(s.medications, v, policy),
		vitals:       vitals.NewService(s.vitals, v),
		engine:       engine,
		orchestrator: orch,
		scheduler:    sched,
		hub:          hub,
		pinger:       s.pinger,
		tracer:       in.tracer,
		metrics:      in.metrics,
	}, nil
}

func (a *app) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(telemetry.Middleware(a.tracer, a.metrics))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if a.pinger != nil {
		e.GET("/health/db", db.HealthHandler(a.pinger))
	}

	api := e.Group("/api/v1")
	api.Use(middleware.RequestTimeout(30*time.Second, "/api/v1/jobs"))
	api.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	patient.NewHandler(a.patients).RegisterRoutes(api)
	medication.NewHandler(a.medications).RegisterRoutes(api)
	vitals.NewHandler(a.vitals).RegisterRoutes(api)
	notification.NewHandler(a.engine, a.patients).RegisterRoutes(api)
	orchestrator.NewHandler(a.orchestrator).RegisterRoutes(api)
	websocket.NewHandler(a.hub).RegisterRoutes(api)

	return e
}
