// Package scheduler runs flows on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/pkg/flow"
	"github.com/rendis/nodeflow/pkg/schema"
)

// FlowRunner runs a named flow to completion. Satisfied by definition.Catalog.
type FlowRunner interface {
	Run(ctx context.Context, name string, input map[string]any) (*flow.Execution, error)
}

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrJobRunning     = errors.New("job is still running")
	ErrUnknownJob     = errors.New("unknown job")
)

// Job statuses reported by Entries.
const (
	StatusPending = "pending"
	StatusSkipped = "skipped"
)

// Parser accepts standard 5-field expressions and descriptors like @hourly
// or @every 5m.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Entry describes one scheduled job.
type Entry struct {
	ID         cron.EntryID
	Flow       string
	Spec       string
	Next       time.Time
	Prev       time.Time
	LastRunID  string
	LastStatus string
	Runs       int
}

type job struct {
	id    cron.EntryID
	flow  string
	spec  string
	input map[string]any

	// guarded by Scheduler.mu
	lastRunID  string
	lastStatus string
	runs       int
}

// Scheduler fires flow runs on cron schedules. A job whose previous run has
// not finished is skipped for that tick.
type Scheduler struct {
	runner FlowRunner
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[cron.EntryID]*job
	base    context.Context
	cancel  context.CancelFunc
	started bool

	inflightMu sync.Mutex
	inflight   map[cron.EntryID]struct{}
}

// New creates a Scheduler. Schedules are evaluated in UTC.
func New(runner FlowRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "scheduler"))
	return &Scheduler{
		runner: runner,
		logger: logger,
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger{logger}),
		),
		jobs:     make(map[cron.EntryID]*job),
		inflight: make(map[cron.EntryID]struct{}),
		base:     context.Background(),
	}
}

// Add schedules flow with the given cron spec. input is layered over the
// flow's default input on every run.
func (s *Scheduler) Add(flowName, spec string, input map[string]any) (cron.EntryID, error) {
	sched, err := Parser.Parse(spec)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q: %s", spec, err).
			WithCause(err).
			WithDetails(map[string]any{"flow": flowName, "schedule": spec})
	}
	j := &job{flow: flowName, spec: spec, input: maps.Clone(input), lastStatus: StatusPending}

	s.mu.Lock()
	defer s.mu.Unlock()
	j.id = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(j) }))
	s.jobs[j.id] = j
	s.logger.Info("flow scheduled", slog.String(logging.AttrFlow, flowName), slog.String("schedule", spec))
	return j.id, nil
}

// AddDefinitions schedules every definition that declares a schedule and
// returns how many were added.
func (s *Scheduler) AddDefinitions(defs ...*schema.FlowDefinition) (int, error) {
	n := 0
	for _, def := range defs {
		if def.Schedule == "" {
			continue
		}
		if _, err := s.Add(def.Name, def.Schedule, nil); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Remove unschedules a job. A run already in flight is not interrupted.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Remove(id)
	delete(s.jobs, id)
}

// Entries lists the scheduled jobs ordered by ID.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.jobs))
	for _, id := range slices.Sorted(maps.Keys(s.jobs)) {
		j := s.jobs[id]
		ce := s.cron.Entry(id)
		out = append(out, Entry{
			ID:         id,
			Flow:       j.flow,
			Spec:       j.spec,
			Next:       ce.Next,
			Prev:       ce.Prev,
			LastRunID:  j.lastRunID,
			LastStatus: j.lastStatus,
			Runs:       j.runs,
		})
	}
	return out
}

// Start begins firing jobs. Runs inherit ctx's values and are cancelled
// with it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.base, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

// Stop stops firing jobs and waits for in-flight runs. If ctx ends first
// the runs are cancelled and ctx's error is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	done := s.cron.Stop()
	defer cancel()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out, cancelling runs")
		return ctx.Err()
	}
}

// Trigger runs a job now, outside its schedule. It fails with ErrJobRunning
// when the job's previous run has not finished.
func (s *Scheduler) Trigger(ctx context.Context, id cron.EntryID) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %d: %w", id, ErrUnknownJob)
	}
	if !s.tryAcquire(id) {
		return ErrJobRunning
	}
	defer s.release(id)
	return s.runJob(ctx, id, j)
}

func (s *Scheduler) fire(j *job) {
	s.mu.Lock()
	id := j.id
	registered := s.jobs[id] == j
	ctx := s.base
	s.mu.Unlock()
	if !registered {
		return
	}
	if !s.tryAcquire(id) {
		s.logger.Warn("previous run still in flight, skipping tick", slog.String(logging.AttrFlow, j.flow))
		s.record(j, "", StatusSkipped)
		return
	}
	defer s.release(id)
	if err := s.runJob(ctx, id, j); err != nil {
		s.logger.Error("scheduled run failed",
			slog.String(logging.AttrFlow, j.flow),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) runJob(ctx context.Context, id cron.EntryID, j *job) error {
	s.logger.Info("running scheduled flow", slog.String(logging.AttrFlow, j.flow), slog.Int("job_id", int(id)))
	ex, err := s.runner.Run(ctx, j.flow, maps.Clone(j.input))
	if err != nil {
		s.record(j, "", string(schema.RunStateFailed))
		return err
	}
	<-ex.Done()
	s.record(j, ex.RunID(), string(ex.State()))
	return ex.Err()
}

func (s *Scheduler) record(j *job, runID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if runID != "" {
		j.lastRunID = runID
		j.runs++
	}
	j.lastStatus = status
}

func (s *Scheduler) tryAcquire(id cron.EntryID) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id cron.EntryID) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// cronLogger routes the cron runner's own logs to slog at debug level.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
