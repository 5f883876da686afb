// Package daemon runs the background maintenance loop: sync the index
// against the working tree, enrich and embed what changed, snapshot
// health for external readers. One daemon per repository, enforced
// with an advisory file lock.
package daemon

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/vmlinuzx/llmc-sub012/internal/config"
	"github.com/vmlinuzx/llmc-sub012/internal/embed"
	"github.com/vmlinuzx/llmc-sub012/internal/enrich"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/events"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
	"github.com/vmlinuzx/llmc-sub012/internal/syncer"
)

// sleepSlice bounds each uninterruptible sleep so shutdown and file
// hints are honored within seconds.
const sleepSlice = 5 * time.Second

// Daemon is the background loop. Construct with New; Run blocks until
// the context is cancelled.
type Daemon struct {
	root   string
	store  *store.Store
	syncer *syncer.Syncer
	enrich *enrich.Pipeline // nil when enrichment is disabled
	embed  *embed.Service   // nil when no profiles are configured
	bus    *events.Bus

	tick         time.Duration
	idleBase     time.Duration
	idleMax      time.Duration
	phaseTimeout time.Duration
	niceLevel    int

	hints chan struct{}
}

// New wires the daemon. enrichPipeline and embedService may be nil to
// disable those phases.
func New(root string, cfg *config.Config, st *store.Store, sync *syncer.Syncer,
	enrichPipeline *enrich.Pipeline, embedService *embed.Service, bus *events.Bus) *Daemon {
	if bus == nil {
		bus = events.NewBus()
	}
	d := &Daemon{
		root:         root,
		store:        st,
		syncer:       sync,
		enrich:       enrichPipeline,
		embed:        embedService,
		bus:          bus,
		tick:         time.Duration(cfg.Daemon.TickSeconds) * time.Second,
		idleBase:     time.Duration(cfg.Daemon.IdleBackoffBase) * time.Second,
		idleMax:      time.Duration(cfg.Daemon.IdleBackoffMax) * time.Second,
		phaseTimeout: time.Duration(cfg.Daemon.PhaseTimeoutMin) * time.Minute,
		niceLevel:    cfg.Daemon.NiceLevel,
		hints:        make(chan struct{}, 1),
	}
	if d.tick <= 0 {
		d.tick = 3 * time.Minute
	}
	if d.idleBase < d.tick {
		d.idleBase = d.tick
	}
	if d.idleMax < d.idleBase {
		d.idleMax = 10 * d.idleBase
	}
	if d.phaseTimeout <= 0 {
		d.phaseTimeout = 10 * time.Minute
	}
	return d
}

// Bus returns the event bus, for observers attached after New.
func (d *Daemon) Bus() *events.Bus { return d.bus }

// Run acquires the per-repo lock and loops until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	lockPath := config.LockPath(d.root)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return llmcerr.Wrap(llmcerr.KindInternal, "create lock directory", err)
	}
	lock := flock.New(lockPath)
	held, err := lock.TryLock()
	if err != nil {
		return llmcerr.Wrap(llmcerr.KindInternal, "acquire daemon lock", err)
	}
	if !held {
		return llmcerr.Newf(llmcerr.KindStoreBusy,
			"another daemon already runs for %s", d.root).
			WithRemediation("stop the other daemon or let it keep the repo")
	}
	defer func() { _ = lock.Unlock() }()

	lowerPriority(d.niceLevel)

	stopWatch := d.startWatcher(ctx)
	defer stopWatch()

	slog.Info("daemon_started",
		slog.String("root", d.root),
		slog.Duration("tick", d.tick))

	interval := d.tick
	for {
		changed, err := d.runCycle(ctx)
		switch {
		// A phase deadline also reads as cancellation; only a dead
		// parent context means shutdown.
		case llmcerr.IsCancelled(err) && ctx.Err() != nil:
			slog.Info("daemon_stopped", slog.String("root", d.root))
			return nil
		case err != nil:
			slog.Error("cycle_failed", slog.String("error", err.Error()))
			if serr := d.store.SetState(ctx, store.StateError, err.Error()); serr != nil {
				slog.Error("set_state_failed", slog.String("error", serr.Error()))
			}
			d.bus.Publish(events.Event{Type: events.ErrorRecorded, Payload: err})
			// Errors retry at the base tick; backing off would delay
			// recovery after the operator fixes the cause.
			interval = d.tick
		case changed:
			interval = d.tick
		default:
			if interval < d.idleBase {
				interval = d.idleBase
			} else {
				interval *= 2
			}
			if interval > d.idleMax {
				interval = d.idleMax
			}
		}

		hinted := d.sleep(ctx, interval)
		if ctx.Err() != nil {
			slog.Info("daemon_stopped", slog.String("root", d.root))
			return nil
		}
		if hinted {
			interval = d.tick
		}
	}
}

// runCycle executes the four phases, each under its own deadline.
// Returns whether the index changed.
func (d *Daemon) runCycle(ctx context.Context) (bool, error) {
	report, err := d.phaseSync(ctx)
	if err != nil {
		return false, err
	}
	changed := !report.NoChanges

	if d.enrich != nil {
		if err := d.phaseEnrich(ctx); err != nil {
			return changed, err
		}
	}
	if d.embed != nil {
		if err := d.phaseEmbed(ctx); err != nil {
			return changed, err
		}
	}
	if err := d.phaseSnapshot(ctx); err != nil {
		return changed, err
	}
	return changed, nil
}

func (d *Daemon) phaseSync(ctx context.Context) (*syncer.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, d.phaseTimeout)
	defer cancel()
	report, err := d.syncer.Sync(ctx)
	if err != nil {
		return nil, err
	}
	if !report.NoChanges {
		d.bus.Publish(events.Event{Type: events.IndexUpdated, Payload: report})
	}
	return report, nil
}

func (d *Daemon) phaseEnrich(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.phaseTimeout)
	defer cancel()
	report, err := d.enrich.Run(ctx)
	if err != nil {
		return err
	}
	if report.Selected > 0 {
		d.bus.Publish(events.Event{Type: events.EnrichmentCompleted, Payload: report})
	}
	return nil
}

func (d *Daemon) phaseEmbed(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.phaseTimeout)
	defer cancel()
	reports, err := d.embed.RunAll(ctx)
	if err != nil {
		return err
	}
	for _, r := range reports {
		if r.Embedded > 0 || r.Invalidated > 0 {
			d.bus.Publish(events.Event{Type: events.EmbeddingCompleted, Payload: r})
		}
	}
	return nil
}

func (d *Daemon) phaseSnapshot(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.phaseTimeout)
	defer cancel()
	// A completed cycle means the index is serviceable again; issues
	// found by the health check downgrade to warn, not error.
	state := store.StateReady
	health, err := d.store.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if len(health.Issues) > 0 {
		state = store.StateWarn
	}
	if err := d.store.SetState(ctx, state, ""); err != nil {
		return err
	}
	snap, err := d.writeSnapshot(ctx)
	if err != nil {
		return err
	}
	d.bus.Publish(events.Event{Type: events.HealthSnapshot, Payload: snap})
	return nil
}

// sleep waits up to total, in short slices so cancellation and file
// hints interrupt promptly. Reports whether a hint cut it short.
func (d *Daemon) sleep(ctx context.Context, total time.Duration) bool {
	deadline := time.Now().Add(total)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		slice := remaining
		if slice > sleepSlice {
			slice = sleepSlice
		}
		timer := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-d.hints:
			timer.Stop()
			return true
		case <-timer.C:
		}
	}
}
