package intel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coastwise/swath/internal/container"
	"github.com/coastwise/swath/internal/metrics"
	"github.com/coastwise/swath/internal/registry"
	"github.com/coastwise/swath/internal/worker"
	"github.com/coastwise/swath/pkg/core"
)

// Executor runs one stage for one container. Implementations live with the
// project; the scheduler only issues actions and collects results.
type Executor interface {
	Execute(ctx context.Context, c *container.Container, a Action) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, c *container.Container, a Action) error

func (f ExecutorFunc) Execute(ctx context.Context, c *container.Container, a Action) error {
	return f(ctx, c, a)
}

// Scheduler turns staleness classifications into an ordered, deduplicated
// action list and executes it on the worker pool. The scheduler is the only
// component that mutates container stage status during a run.
type Scheduler struct {
	evaluator *Evaluator
	reg       *registry.Registry
	pool      *worker.Pool
	executors map[core.Stage]Executor
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Config holds scheduler construction parameters.
type Config struct {
	Registry  *registry.Registry
	Pool      *worker.Pool
	Executors map[core.Stage]Executor
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	return &Scheduler{
		evaluator: NewEvaluator(logger),
		reg:       cfg.Registry,
		pool:      cfg.Pool,
		executors: cfg.Executors,
		metrics:   m,
		logger:    logger,
	}
}

// Evaluator returns the scheduler's staleness evaluator.
func (s *Scheduler) Evaluator() *Evaluator { return s.evaluator }

// PendingActions evaluates every container and returns the ordered,
// deduplicated action list: per container, stages appear in dependency
// order; across containers, order is by container id. Duplicate requests
// for the same (container, stage) collapse to one action.
func (s *Scheduler) PendingActions(containers []*container.Container) []Action {
	seen := make(map[string]bool)
	var out []Action
	for _, c := range containers {
		for _, a := range s.evaluator.StaleStages(c, s.reg) {
			if seen[a.Key()] {
				continue
			}
			seen[a.Key()] = true
			out = append(out, a)
		}
	}
	sortActions(out)
	s.metrics.PendingActions.Set(float64(len(out)))
	return out
}

// Run executes the selected actions. Actions for distinct containers run
// concurrently on the pool; actions for the same container run sequentially
// in dependency order. If an action fails, the container's remaining
// actions are marked skipped and stay stale. After a container's actions
// finish, the stage is re-evaluated against the current registry: a change
// that landed mid-run re-marks it stale rather than being suppressed.
func (s *Scheduler) Run(ctx context.Context, containers []*container.Container, selection []Action) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}
	if len(selection) == 0 {
		report.FinishedAt = time.Now().UTC()
		return report, nil
	}

	byID := make(map[string]*container.Container, len(containers))
	for _, c := range containers {
		byID[c.ID] = c
	}

	perContainer := make(map[string][]Action)
	var order []string
	for _, a := range selection {
		if _, ok := byID[a.Container]; !ok {
			a.Status = ActionFailed
			a.Error = fmt.Sprintf("unknown container %q", a.Container)
			report.Actions = append(report.Actions, a)
			continue
		}
		if len(perContainer[a.Container]) == 0 {
			order = append(order, a.Container)
		}
		perContainer[a.Container] = append(perContainer[a.Container], a)
	}
	sort.Strings(order)

	var mu sync.Mutex
	futures := make([]*worker.Future, 0, len(order))

	for _, id := range order {
		c := byID[id]
		actions := perContainer[id]
		sortActions(actions)

		f, err := s.pool.Submit(func(ctx context.Context) error {
			done := s.runContainer(ctx, c, actions)
			mu.Lock()
			report.Actions = append(report.Actions, done...)
			mu.Unlock()
			return nil
		})
		if err != nil {
			return report, fmt.Errorf("submit actions for %s: %w", id, err)
		}
		futures = append(futures, f)
	}

	// Block only on result collection, never inside a held lock.
	var errs []error
	for _, f := range futures {
		if err := f.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	sortActions(report.Actions)
	for _, a := range report.Actions {
		s.metrics.ActionsTotal.WithLabelValues(string(a.Stage), string(a.Status)).Inc()
	}
	report.FinishedAt = time.Now().UTC()
	return report, errors.Join(errs...)
}

// runContainer executes one container's actions sequentially. Cancellation
// is honored between stage boundaries only.
func (s *Scheduler) runContainer(ctx context.Context, c *container.Container, actions []Action) []Action {
	out := make([]Action, len(actions))
	copy(out, actions)

	failedAt := -1
	for i := range out {
		if failedAt >= 0 {
			out[i].Status = ActionSkipped
			out[i].Error = fmt.Sprintf("predecessor stage %s failed", out[failedAt].Stage)
			c.MarkStale(out[i].Stage)
			continue
		}
		if err := ctx.Err(); err != nil {
			out[i].Status = ActionSkipped
			out[i].Error = "cancelled"
			c.MarkStale(out[i].Stage)
			continue
		}

		exec, ok := s.executors[out[i].Stage]
		if !ok {
			out[i].Status = ActionFailed
			out[i].Error = fmt.Sprintf("no executor for stage %s", out[i].Stage)
			c.FailStage(out[i].Stage, out[i].Error)
			failedAt = i
			continue
		}

		out[i].Status = ActionRunning
		c.SetStageStatus(out[i].Stage, core.StageRunning)
		s.logger.Debug("executing action", "container", c.ID, "stage", out[i].Stage)

		if err := exec.Execute(ctx, c, out[i]); err != nil {
			out[i].Status = ActionFailed
			out[i].Error = err.Error()
			c.FailStage(out[i].Stage, err.Error())
			failedAt = i
			s.logger.Warn("action failed", "container", c.ID, "stage", out[i].Stage, "error", err)
			continue
		}

		// Complete against the fingerprint snapshot taken at scheduling.
		c.CompleteStage(out[i].Stage, out[i].Fingerprint)
		out[i].Status = ActionComplete
		s.logger.Debug("action complete", "container", c.ID, "stage", out[i].Stage)
	}

	// Registry changes that landed during the run surface immediately.
	for stage, class := range s.evaluator.Evaluate(c, s.reg) {
		if class != core.ClassFresh && c.Stage(stage).Status == core.StageComplete {
			c.MarkStale(stage)
			s.logger.Info("stage stale again after run", "container", c.ID, "stage", stage)
		}
	}
	return out
}
