// Package orchestrator implements the periodic batch steps that turn
// medication and vitals state into notifications and drive those
// notifications through delivery.
//
// Every step is re-entrant: it reads its batch fresh from the repositories,
// keeps no state between runs, and isolates failures per item.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/medicare/medicare/internal/domain/medication"
	"github.com/medicare/medicare/internal/domain/notification"
	"github.com/medicare/medicare/internal/domain/patient"
	"github.com/medicare/medicare/internal/domain/vitals"
	"github.com/medicare/medicare/internal/platform/db"
	"github.com/medicare/medicare/internal/platform/events"
	"github.com/medicare/medicare/internal/platform/telemetry"
)

// Step names, also used as scheduler job names.
const (
	StepDoseReminders    = "dose_reminders"
	StepRefillReminders  = "refill_reminders"
	StepHealthAlerts     = "health_alerts"
	StepDispatchPending  = "dispatch_pending"
	StepRetryFailed      = "retry_failed"
	StepExpirePending    = "expire_pending"
	StepRefreshAdherence = "refresh_adherence"
	StepCompleteEnded    = "complete_ended"
	StepCleanup          = "cleanup"
)

// CareTeams resolves the users that hear about a patient.
type CareTeams interface {
	CareTeam(ctx context.Context, patientID uuid.UUID) (*patient.CareTeam, error)
}

type Config struct {
	BatchSize        int
	HealthScanWindow time.Duration
	Workers          int
	ReadRetention    time.Duration
	Retention        time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.HealthScanWindow <= 0 {
		c.HealthScanWindow = 2 * time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ReadRetention <= 0 {
		c.ReadRetention = 30 * 24 * time.Hour
	}
	if c.Retention < c.ReadRetention {
		c.Retention = 90 * 24 * time.Hour
	}
}

// StepReport summarizes one step run. Errors counts items that failed and
// were skipped; a step-level failure is returned as an error instead.
type StepReport struct {
	Step      string         `json:"step"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration_ns"`
	Scanned   int            `json:"scanned"`
	Created   int            `json:"created"`
	Updated   int            `json:"updated"`
	Deleted   int64          `json:"deleted,omitempty"`
	Errors    int            `json:"errors"`
	Outcomes  map[string]int `json:"outcomes,omitempty"`
}

type Option func(*Orchestrator)

func WithTransactor(tx db.Transactor) Option {
	return func(o *Orchestrator) { o.tx = tx }
}

func WithEvents(p events.Publisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

type Orchestrator struct {
	meds          medication.Repository
	policy        medication.DosingPolicy
	records       vitals.Repository
	teams         CareTeams
	engine        *notification.Engine
	notifications notification.Repository

	tx      db.Transactor
	events  events.Publisher
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	logger  zerolog.Logger
	cfg     Config
	now     func() time.Time
}

func New(
	meds medication.Repository,
	policy medication.DosingPolicy,
	records vitals.Repository,
	teams CareTeams,
	engine *notification.Engine,
	notifications notification.Repository,
	cfg Config,
	logger zerolog.Logger,
	opts ...Option,
) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		meds:          meds,
		policy:        policy,
		records:       records,
		teams:         teams,
		engine:        engine,
		notifications: notifications,
		tx:            db.NopTransactor{},
		events:        events.NopPublisher{},
		tracer:        otel.Tracer("github.com/medicare/medicare/orchestrator"),
		logger:        logger.With().Str("component", "orchestrator").Logger(),
		cfg:           cfg,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Steps lists every step name in execution order.
func Steps() []string {
	return []string{
		StepDoseReminders, StepRefillReminders, StepHealthAlerts,
		StepDispatchPending, StepRetryFailed, StepExpirePending,
		StepRefreshAdherence, StepCompleteEnded, StepCleanup,
	}
}

func (o *Orchestrator) step(name string) (func(context.Context) (*StepReport, error), bool) {
	steps := map[string]func(context.Context) (*StepReport, error){
		StepDoseReminders:    o.DoseReminders,
		StepRefillReminders:  o.RefillReminders,
		StepHealthAlerts:     o.HealthAlerts,
		StepDispatchPending:  o.DispatchPending,
		StepRetryFailed:      o.RetryFailed,
		StepExpirePending:    o.ExpirePending,
		StepRefreshAdherence: o.RefreshAdherence,
		StepCompleteEnded:    o.CompleteEnded,
		StepCleanup:          o.Cleanup,
	}
	fn, ok := steps[name]
	return fn, ok
}

// Run executes one step by name.
func (o *Orchestrator) Run(ctx context.Context, name string) (*StepReport, error) {
	fn, ok := o.step(name)
	if !ok {
		return nil, fmt.Errorf("unknown step %q", name)
	}
	return fn(ctx)
}

// RunAll runs the notification-creating steps concurrently, then the
// dispatch steps. A failing step does not stop the others; its error is
// logged and its report is still returned.
func (o *Orchestrator) RunAll(ctx context.Context) []*StepReport {
	var reports []*StepReport
	for _, phase := range [][]string{
		{StepDoseReminders, StepRefillReminders, StepHealthAlerts},
		{StepDispatchPending, StepRetryFailed, StepExpirePending},
	} {
		reports = append(reports, o.runParallel(ctx, phase)...)
	}
	return reports
}

func (o *Orchestrator) runParallel(ctx context.Context, names []string) []*StepReport {
	out := make([]*StepReport, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			rep, err := o.Run(ctx, name)
			if err != nil {
				o.logger.Error().Err(err).Str("step", name).Msg("step failed")
			}
			out[i] = rep
			return nil
		})
	}
	g.Wait()
	return out
}

// begin opens a span and a report; the returned func closes both.
func (o *Orchestrator) begin(ctx context.Context, name string) (context.Context, *StepReport, func(*error)) {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+name)
	rep := &StepReport{Step: name, StartedAt: o.now(), Outcomes: map[string]int{}}
	start := time.Now()
	return ctx, rep, func(errp *error) {
		rep.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Int("scanned", rep.Scanned),
			attribute.Int("created", rep.Created),
			attribute.Int("errors", rep.Errors),
		)
		if *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
		o.logger.Info().Str("step", name).Int("scanned", rep.Scanned).Int("created", rep.Created).
			Int("updated", rep.Updated).Int("errors", rep.Errors).Dur("duration", rep.Duration).
			Msg("step finished")
	}
}

// teamCache memoizes care team lookups for the length of one step run.
type teamCache struct {
	teams CareTeams
	mu    sync.Mutex
	seen  map[uuid.UUID]*patient.CareTeam
}

func (o *Orchestrator) newTeamCache() *teamCache {
	return &teamCache{teams: o.teams, seen: make(map[uuid.UUID]*patient.CareTeam)}
}

func (c *teamCache) get(ctx context.Context, patientID uuid.UUID) (*patient.CareTeam, error) {
	c.mu.Lock()
	t, ok := c.seen[patientID]
	c.mu.Unlock()
	if ok {
		return t, nil
	}
	t, err := c.teams.CareTeam(ctx, patientID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.seen[patientID] = t
	c.mu.Unlock()
	return t, nil
}

func recipient(u *patient.User, patientID uuid.UUID) notification.Recipient {
	return notification.Recipient{
		UserID:    u.ID,
		PatientID: &patientID,
		Channel:   notification.Channel(u.PreferredChannel()),
	}
}

// eachMedication pages through medications with keyset pagination.
func (o *Orchestrator) eachMedication(ctx context.Context, list func(after uuid.UUID, limit int) ([]*medication.Medication, error), fn func(*medication.Medication)) error {
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := list(after, o.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, m := range page {
			fn(m)
		}
		if len(page) < o.cfg.BatchSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

func (o *Orchestrator) eachNotification(ctx context.Context, list func(after uuid.UUID, limit int) ([]*notification.Notification, error), fn func(context.Context, *notification.Notification)) error {
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := list(after, o.cfg.BatchSize)
		if err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.Workers)
		for _, n := range page {
			g.Go(func() error {
				fn(gctx, n)
				return nil
			})
		}
		g.Wait()
		if len(page) < o.cfg.BatchSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}
