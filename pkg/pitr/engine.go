package pitr

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pitrdb/pkg/cluster"
	"pitrdb/pkg/dberrors"
	"pitrdb/pkg/metrics"
	"pitrdb/pkg/oplog"
	"pitrdb/pkg/stream"
	"pitrdb/pkg/types"
)

type iModes interface {
	IsRecovering() bool
	InMaintenanceMode() bool
}

type iSourceSelector interface {
	SelectSyncSource(ctx context.Context) (cluster.Member, error)
	Veto(addr string, d time.Duration)
}

// Stream is an open upstream oplog reader.
type Stream interface {
	Host() string
	StreamFrom(ctx context.Context, pos oplog.Position) error
	More() bool
	Next() (oplog.Entry, error)
	Err() error
	DetectDivergence() (bool, error)
	LoadRefs(ctx context.Context, ref string) ([]oplog.Op, error)
	Close() error
}

// DialFunc connects to a sync source.
type DialFunc func(ctx context.Context, host string) (Stream, error)

// HTTPDialer dials sync sources with d.
func HTTPDialer(d *stream.Dialer) DialFunc {
	return func(ctx context.Context, host string) (Stream, error) {
		c, err := d.Dial(ctx, host)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Config holds the control loop backoffs.
type Config struct {
	// SourceBackoff is slept when no sync source is available.
	SourceBackoff time.Duration
	// ConnectBackoff is slept after a failed connect.
	ConnectBackoff time.Duration
	// RetryBackoff is slept after a transient error or an exhausted stream.
	RetryBackoff time.Duration
	// SourceVeto excludes a source that failed to connect from selection.
	SourceVeto time.Duration
}

func DefaultConfig() Config {
	return Config{
		SourceBackoff:  2 * time.Second,
		ConnectBackoff: 2 * time.Second,
		RetryBackoff:   time.Second,
		SourceVeto:     10 * time.Second,
	}
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Modes    iModes
	Selector iSourceSelector
	Dial     DialFunc
	Progress iProgress
	Txns     iTxnEngine
	Metrics  metrics.Collector
	Logger   *slog.Logger
}

// Result describes a finished run.
type Result struct {
	RunID    uuid.UUID  `json:"run_id"`
	Target   string     `json:"target"`
	Applied  int        `json:"applied"`
	Last     types.GTID `json:"last"`
	Attempts int        `json:"attempts"`
}

var errStreamExhausted = errors.New("stream exhausted before target")

// Engine runs point-in-time recovery. Only one run may be active at a time.
type Engine struct {
	cfg      Config
	modes    iModes
	selector iSourceSelector
	dial     DialFunc
	progress iProgress
	applier  *Applier
	metrics  metrics.Collector
	logger   *slog.Logger

	running atomic.Bool
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		modes:    deps.Modes,
		selector: deps.Selector,
		dial:     deps.Dial,
		progress: deps.Progress,
		applier:  NewApplier(deps.Txns, deps.Progress, deps.Metrics),
		metrics:  deps.Metrics,
		logger:   deps.Logger.With("component", "pitr"),
	}
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run syncs from sync sources and applies entries until the first entry past
// target, which ends the run successfully. Recoverable failures are retried
// with backoff until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, target Target) (Result, error) {
	if target.Kind() == 0 {
		return Result{}, dberrors.Newf(dberrors.ErrInvalidArgument, "no recovery target")
	}
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, dberrors.Newf(dberrors.ErrPreconditionFailed, "recovery already running")
	}
	defer e.running.Store(false)

	res := Result{RunID: uuid.New(), Target: target.String()}
	log := e.logger.With("run_id", res.RunID, "target", res.Target)

	if !(e.modes.IsRecovering() && e.modes.InMaintenanceMode()) {
		return res, dberrors.Newf(dberrors.ErrPreconditionFailed,
			"must be in recovering state (maintenance mode) to run recoverToPoint")
	}

	log.Info("recovery started", "live", e.progress.LiveState())
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return res, e.interrupted(log, &res, err)
		}

		res.Attempts++
		reached, err := e.attempt(ctx, target, &res, log)
		if reached {
			e.metrics.ObserveHistogram("pitr.run_ms", nil, float64(time.Since(start).Milliseconds()))
			log.Info("recovery reached target", "applied", res.Applied, "last", res.Last, "attempts", res.Attempts)
			return res, nil
		}

		kind := dberrors.KindOf(err)
		if kind == dberrors.KindCancelled || ctx.Err() != nil {
			return res, e.interrupted(log, &res, err)
		}
		if kind.Fatal() {
			log.Error("recovery failed", "kind", kind, "error", err, "applied", res.Applied)
			return res, err
		}

		backoff, reason := e.backoffFor(err, kind)
		e.metrics.IncCounter("pitr.retries", map[string]string{"reason": reason}, 1)
		log.Info("recovery backing off", "reason", reason, "error", err, "sleep", backoff)
		if err := sleep(ctx, backoff); err != nil {
			return res, e.interrupted(log, &res, err)
		}
	}
}

func (e *Engine) backoffFor(err error, kind dberrors.Kind) (time.Duration, string) {
	switch {
	case kind == dberrors.KindSourceUnavailable:
		return e.cfg.SourceBackoff, "no_source"
	case kind == dberrors.KindConnectFailed:
		return e.cfg.ConnectBackoff, "connect"
	case errors.Is(err, errStreamExhausted):
		return e.cfg.RetryBackoff, "exhausted"
	}
	return e.cfg.RetryBackoff, "error"
}

func (e *Engine) interrupted(log *slog.Logger, res *Result, cause error) error {
	log.Warn("recovery interrupted", "applied", res.Applied, "last", res.Last)
	if cause == nil {
		cause = context.Canceled
	}
	return dberrors.Wrap(dberrors.ErrCancelled, cause, "recovery interrupted")
}

// attempt runs one select, connect, check, stream cycle. It reports true once
// an entry past the target is seen.
func (e *Engine) attempt(ctx context.Context, target Target, res *Result, log *slog.Logger) (bool, error) {
	caught, err := e.applier.CatchUp()
	if len(caught) > 0 {
		res.Applied += len(caught)
		res.Last = caught[len(caught)-1]
		log.Info("applied local oplog tail", "entries", len(caught), "last", res.Last)
	}
	if err != nil {
		return false, err
	}

	src, err := e.selector.SelectSyncSource(ctx)
	if err != nil {
		return false, err
	}

	st, err := e.dial(ctx, src.Addr)
	if err != nil {
		if dberrors.KindOf(err) == dberrors.KindConnectFailed {
			e.selector.Veto(src.Addr, e.cfg.SourceVeto)
		}
		return false, err
	}
	defer func() {
		_ = st.Close()
	}()

	live, currTS := e.progress.LiveState(), e.progress.CurrTimestamp()
	if target.PassedBy(live, currTS) {
		return false, dberrors.Newf(dberrors.ErrTargetAlreadyPassed,
			"oplog is already past %s, it is at %s (ts %d)", target, live, currTS)
	}

	pos := e.progress.Position()
	if err := st.StreamFrom(ctx, pos); err != nil {
		return false, err
	}
	diverged, err := st.DetectDivergence()
	if err != nil {
		return false, err
	}
	if diverged {
		return false, dberrors.Newf(dberrors.ErrRollbackRequired,
			"rollback is required, cannot continue: %s does not continue local oplog at %s", st.Host(), pos)
	}
	log.Info("streaming", "source", st.Host(), "from", pos)

	for st.More() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		entry, err := st.Next()
		if err != nil {
			return false, err
		}
		if !ShouldApply(entry, target) {
			return true, nil
		}
		if err := e.applier.Apply(ctx, entry, st); err != nil {
			return false, err
		}
		res.Applied++
		res.Last = entry.GTID
	}
	if err := st.Err(); err != nil {
		return false, err
	}
	return false, errStreamExhausted
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
