package reconcile

import (
	"context"
	"time"

	"github.com/opp-network/opp/pkg/netconfig"
	"github.com/opp-network/opp/pkg/util"
)

// TickResult summarizes one reconciliation tick. PortsAttached counts the
// ports newly attached this tick, whether freshly created or found
// detached and reused.
type TickResult struct {
	Time          time.Time     `json:"time"`
	Duration      time.Duration `json:"duration"`
	PortsAttached int           `json:"ports_attached"`
	Error         string        `json:"error,omitempty"`
}

// Recorder receives the result of every tick. Implementations must not block.
type Recorder interface {
	Record(TickResult)
}

// Runner drives the reconciliation loop: cleanup, diff, reconcile, generate
// config, apply, sleep. A tick error stops the loop and surfaces to the
// caller; only context cancellation ends it cleanly.
type Runner struct {
	reconciler *Reconciler
	handler    netconfig.Handler
	interval   time.Duration
	cleanup    bool

	destDir      string
	templatesDir string

	recorder Recorder
}

// RunnerConfig wires up a Runner.
type RunnerConfig struct {
	Reconciler   *Reconciler
	Handler      netconfig.Handler
	Interval     time.Duration
	Cleanup      bool
	DestDir      string
	TemplatesDir string
	Recorder     Recorder // optional
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		reconciler:   cfg.Reconciler,
		handler:      cfg.Handler,
		interval:     cfg.Interval,
		cleanup:      cfg.Cleanup,
		destDir:      cfg.DestDir,
		templatesDir: cfg.TemplatesDir,
		recorder:     cfg.Recorder,
	}
}

// Tick runs one full reconciliation pass.
func (r *Runner) Tick(ctx context.Context) error {
	started := time.Now()
	attached, err := r.tick(ctx)

	if r.recorder != nil {
		result := TickResult{
			Time:          started,
			Duration:      time.Since(started),
			PortsAttached: attached,
		}
		if err != nil {
			result.Error = err.Error()
		}
		r.recorder.Record(result)
	}
	return err
}

func (r *Runner) tick(ctx context.Context) (int, error) {
	if r.cleanup {
		// Best effort: a failing cleanup never aborts the tick.
		if err := r.reconciler.Cleanup(ctx); err != nil {
			util.Warnf("Cleanup failed: %v", err)
		}
	}

	actual, err := r.reconciler.ActualPorts(ctx)
	if err != nil {
		return 0, err
	}

	missing := r.reconciler.MissingSubnets(actual)

	ports, err := r.reconciler.Reconcile(ctx, actual, missing)
	if err != nil {
		return 0, err
	}
	attached := len(ports) - len(actual)

	if err := r.handler.Create(ports, r.reconciler.expected, r.destDir, r.templatesDir); err != nil {
		return attached, err
	}

	if err := r.handler.Apply(); err != nil {
		return attached, err
	}

	return attached, nil
}

// Run ticks immediately, then on every interval until the context is
// cancelled. Returns nil on cancellation, the tick error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := r.Tick(ctx); err != nil {
			return err
		}

		util.Debugf("Waiting %s until next reconciliation.", r.interval)
		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
