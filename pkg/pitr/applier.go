package pitr

import (
	"context"
	"fmt"
	"time"

	"pitrdb/pkg/dberrors"
	"pitrdb/pkg/metrics"
	"pitrdb/pkg/oplog"
	"pitrdb/pkg/store"
	"pitrdb/pkg/types"
)

type iTxnEngine interface {
	Begin(iso store.Isolation) (*store.Txn, error)
	Commit(txn *store.Txn, d store.Durability) error
	Check(ops []oplog.Op) error
	Apply(ops []oplog.Op) error
	Last() (oplog.Entry, bool)
	Scan(from types.GTID, fn func(oplog.Entry) error) error
}

type iProgress interface {
	NoteAdded(id types.GTID, ts, hash uint64) error
	NoteApplying(id types.GTID) error
	NoteApplied(id types.GTID) error
	LiveState() types.GTID
	Applied() types.GTID
	InFlight() (types.GTID, bool)
	CurrTimestamp() uint64
	Position() oplog.Position
}

type iRefLoader interface {
	LoadRefs(ctx context.Context, ref string) ([]oplog.Op, error)
}

// Applier replays a single upstream entry into the local node.
type Applier struct {
	txns     iTxnEngine
	progress iProgress
	metrics  metrics.Collector
}

func NewApplier(txns iTxnEngine, progress iProgress, collector metrics.Collector) *Applier {
	if collector == nil {
		collector = metrics.Default()
	}
	return &Applier{txns: txns, progress: progress, metrics: collector}
}

// Apply logs e to the local oplog in a serializable transaction committed
// without fsync, then applies it to queryable state, moving progress through
// added, applying and applied. Ops of a big transaction are fetched from refs.
//
// Failures before the commit leave no trace and may be retried. Once e is in
// the local oplog, any failure is ErrApplyFailed: the local oplog is ahead of
// queryable state until CatchUp applies the rest.
func (a *Applier) Apply(ctx context.Context, e oplog.Entry, refs iRefLoader) error {
	start := time.Now()

	txn, err := a.txns.Begin(store.Serializable)
	if err != nil {
		return fmt.Errorf("begin txn for %s: %w", e.GTID, err)
	}

	full := e
	if e.IsBig() {
		ops, err := refs.LoadRefs(ctx, e.Ref)
		if err != nil {
			txn.Abort()
			return fmt.Errorf("load ops of big txn %s: %w", e.GTID, err)
		}
		full.Ops, full.Ref = ops, ""
		a.metrics.IncCounter("pitr.big_txns", nil, 1)
	}

	if err := a.txns.Check(full.Ops); err != nil {
		txn.Abort()
		return dberrors.Newf(dberrors.ErrApplyFailed, "entry %s cannot be applied: %v", e.GTID, err)
	}
	if err := txn.Log(full); err != nil {
		txn.Abort()
		return fmt.Errorf("log %s: %w", e.GTID, err)
	}
	if err := a.txns.Commit(txn, store.DurabilityNoSync); err != nil {
		return fmt.Errorf("commit %s: %w", e.GTID, err)
	}

	if err := a.progress.NoteAdded(e.GTID, e.TS, e.Hash); err != nil {
		return applyFailed(e.GTID, err)
	}
	if err := a.applyLogged(full, false); err != nil {
		return err
	}

	a.metrics.IncCounter("pitr.entries.applied", nil, 1)
	a.metrics.ObserveHistogram("pitr.apply_us", nil, float64(time.Since(start).Microseconds()))
	a.metrics.SetGauge("pitr.last_applied_ts", nil, float64(e.TS))
	return nil
}

// applyLogged applies an entry that is already in the local oplog and added.
// resumed is set when the entry is the in-flight one of an earlier failure.
func (a *Applier) applyLogged(e oplog.Entry, resumed bool) error {
	if !resumed {
		if err := a.progress.NoteApplying(e.GTID); err != nil {
			return applyFailed(e.GTID, err)
		}
	}
	if err := a.txns.Apply(e.Ops); err != nil {
		return applyFailed(e.GTID, err)
	}
	if err := a.progress.NoteApplied(e.GTID); err != nil {
		return applyFailed(e.GTID, err)
	}
	return nil
}

// CatchUp applies local oplog entries that are past the applied marker, left
// behind by a failure after their commit. It returns the entries applied, the
// last of them being the newest.
func (a *Applier) CatchUp() ([]types.GTID, error) {
	last, ok := a.txns.Last()
	applied := a.progress.Applied()
	if !ok || !applied.Less(last.GTID) {
		return nil, nil
	}

	var done []types.GTID
	inFlight, busy := a.progress.InFlight()
	err := a.txns.Scan(applied, func(e oplog.Entry) error {
		if !applied.Less(e.GTID) {
			return nil
		}
		if a.progress.LiveState().Less(e.GTID) {
			if err := a.progress.NoteAdded(e.GTID, e.TS, e.Hash); err != nil {
				return applyFailed(e.GTID, err)
			}
		}
		resumed := busy && inFlight == e.GTID
		busy = false
		if err := a.applyLogged(e, resumed); err != nil {
			return err
		}
		done = append(done, e.GTID)
		a.metrics.IncCounter("pitr.entries.caught_up", nil, 1)
		return nil
	})
	if err != nil {
		return done, dberrors.Wrap(dberrors.ErrApplyFailed, err, "catch up local oplog")
	}
	return done, nil
}

func applyFailed(id types.GTID, err error) error {
	return dberrors.Newf(dberrors.ErrApplyFailed, "%s is in the local oplog but not applied: %v", id, err)
}
