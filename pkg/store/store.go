package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pitrdb/pkg/clock"
	"pitrdb/pkg/dberrors"
	"pitrdb/pkg/listener"
	"pitrdb/pkg/memtable"
	"pitrdb/pkg/oplog"
	"pitrdb/pkg/types"
	"pitrdb/pkg/wal"
)

type iJournal interface {
	Append(entries []oplog.Entry, sync bool) error
	Sync() error
	Last() (oplog.Entry, bool)
	Replay(from types.GTID, callback func(oplog.Entry) error) error
	Close() error
}

type iTimeProvider interface {
	Now() time.Time
}

var errStopScan = errors.New("stop scan")

type systemTime struct{}

func (systemTime) Now() time.Time { return time.Now() }

// Options configure Open.
type Options struct {
	Dir           string
	SyncInterval  time.Duration
	MaxEntryBytes int
	TimeProvider  iTimeProvider
}

// Store is the local transaction engine: a durable oplog journal plus the
// queryable state rebuilt from it.
type Store struct {
	mu sync.Mutex

	tp    iTimeProvider
	jr    iJournal
	mt    *memtable.Memtable
	txnID *clock.AtomicClock
	seqN  *clock.AtomicClock

	// newest oplog ts, in ms; primary writes never stamp below it
	lastTS *clock.AtomicClock

	closed atomic.Bool
	close  func()
}

func Open(opts Options) (*Store, error) {
	journal, err := wal.New(opts.Dir)
	if err != nil {
		return nil, err
	}

	s, err := New(journal, opts)
	if err != nil {
		_ = journal.Close()
		return nil, err
	}
	return s, nil
}

// New builds a store over an already opened journal and replays it.
func New(journal iJournal, opts Options) (*Store, error) {
	if journal == nil {
		return nil, ErrWALNotInitialized
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = systemTime{}
	}

	s := &Store{
		tp:     tp,
		jr:     journal,
		mt:     memtable.New(opts.MaxEntryBytes),
		txnID:  clock.NewAtomic(0),
		seqN:   clock.NewAtomic(0),
		lastTS: clock.NewAtomic(0),
		close:  func() {},
	}

	if err := s.restoreFromJournal(); err != nil {
		return nil, err
	}

	if opts.SyncInterval > 0 {
		ticker := time.NewTicker(opts.SyncInterval)
		syncer := listener.New(ticker.C, func(time.Time) error {
			return s.jr.Sync()
		}).OnError(func(err error) {
			slog.Warn("background oplog sync failed", "error", err)
		})
		syncer.Start(context.Background())
		s.close = func() {
			ticker.Stop()
			syncer.Stop()
		}
	}

	return s, nil
}

func (s *Store) restoreFromJournal() error {
	count := 0
	err := s.jr.Replay(types.InitialGTID, func(entry oplog.Entry) error {
		count++
		s.lastTS.Advance(entry.TS)
		return s.Apply(entry.Ops)
	})
	if err != nil {
		return fmt.Errorf("restore from journal: %w", err)
	}
	if count > 0 {
		last, _ := s.jr.Last()
		slog.Info("store restored from oplog", "entries", count, "last_gtid", last.GTID)
	}
	return nil
}

// Begin opens a transaction and enters the writer critical section. It blocks
// while another transaction is open.
func (s *Store) Begin(iso Isolation) (*Txn, error) {
	if s.closed.Load() {
		return nil, dberrors.ErrClosed
	}
	s.mu.Lock()
	return &Txn{id: s.txnID.Next(), iso: iso, store: s}, nil
}

// Commit appends the transaction's staged entries to the journal and releases
// the critical section, whether or not the append succeeds.
func (s *Store) Commit(txn *Txn, d Durability) error {
	if txn.done {
		return ErrTxnDone
	}
	defer s.release(txn)
	return s.commitLocked(txn, d)
}

func (s *Store) commitLocked(txn *Txn, d Durability) error {
	if len(txn.entries) == 0 {
		return nil
	}
	if err := s.jr.Append(txn.entries, d == DurabilitySync); err != nil {
		return fmt.Errorf("commit txn %d: %w", txn.id, err)
	}
	for _, e := range txn.entries {
		s.lastTS.Advance(e.TS)
	}
	return nil
}

func (s *Store) release(txn *Txn) {
	txn.done = true
	s.mu.Unlock()
}

// Check reports whether Apply would accept ops, without applying them. Entries
// are checked before they are logged so that the journal never holds an entry
// the queryable state rejects.
func (s *Store) Check(ops []oplog.Op) error {
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("%w: %v", dberrors.ErrInvalidArgument, err)
		}
		if op.Type == oplog.OpDelete {
			continue
		}
		if err := s.mt.Fits(op.NS, op.Key, op.Value); err != nil {
			return fmt.Errorf("%w: %s %s/%s: %v", dberrors.ErrInvalidArgument, op.Type, op.NS, op.Key, err)
		}
	}
	return nil
}

// Apply applies ops to the queryable state in order.
func (s *Store) Apply(ops []oplog.Op) error {
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("apply: %w", err)
		}
		seq := s.seqN.Next()
		switch op.Type {
		case oplog.OpInsert, oplog.OpUpdate:
			if err := s.mt.Upsert(op.NS, op.Key, op.Value, seq); err != nil {
				return fmt.Errorf("apply %s %s/%s: %w", op.Type, op.NS, op.Key, err)
			}
		case oplog.OpDelete:
			s.mt.Delete(op.NS, op.Key, seq)
		}
	}
	return nil
}

// Write is the primary write path: it assigns the next GTID in term, chains
// the entry hash, commits durably and applies the ops.
func (s *Store) Write(term types.Term, ops []oplog.Op) (oplog.Entry, error) {
	if len(ops) == 0 {
		return oplog.Entry{}, ErrEmptyTxn
	}
	if err := s.Check(ops); err != nil {
		return oplog.Entry{}, err
	}

	txn, err := s.Begin(Serializable)
	if err != nil {
		return oplog.Entry{}, err
	}
	defer txn.Abort()

	last, _ := s.jr.Last()
	var id types.GTID
	switch {
	case term < last.GTID.Primary:
		return oplog.Entry{}, fmt.Errorf("%w: term %d, oplog at %s", ErrStaleTerm, term, last.GTID)
	case term == last.GTID.Primary:
		id = last.GTID.Inc()
	default:
		id = types.NewGTID(term, 1)
	}

	ts := uint64(s.tp.Now().UnixMilli())
	if prev := s.lastTS.Val(); ts < prev {
		ts = prev
	}
	entry := oplog.Entry{
		GTID: id,
		TS:   ts,
		Ops:  ops,
	}
	entry.Hash = oplog.ChainHash(last.Hash, entry)

	if err := txn.Log(entry); err != nil {
		return oplog.Entry{}, err
	}
	if err := s.commitLocked(txn, DurabilitySync); err != nil {
		return oplog.Entry{}, err
	}
	if err := s.Apply(entry.Ops); err != nil {
		return oplog.Entry{}, err
	}

	return entry, nil
}

// Last returns the newest entry of the local oplog.
func (s *Store) Last() (oplog.Entry, bool) {
	return s.jr.Last()
}

// Scan calls fn for each local oplog entry with GTID >= from.
func (s *Store) Scan(from types.GTID, fn func(oplog.Entry) error) error {
	return s.jr.Replay(from, fn)
}

// Lookup returns the oplog entry with exactly the given GTID.
func (s *Store) Lookup(id types.GTID) (oplog.Entry, error) {
	var (
		found oplog.Entry
		ok    bool
	)
	err := s.jr.Replay(id, func(e oplog.Entry) error {
		found, ok = e, e.GTID == id
		return errStopScan
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return oplog.Entry{}, err
	}
	if !ok {
		return oplog.Entry{}, fmt.Errorf("%w: oplog entry %s", dberrors.ErrNotFound, id)
	}
	return found, nil
}

func (s *Store) Get(ns, key string) ([]byte, bool) {
	it, ok := s.mt.Get(ns, key)
	if !ok {
		return nil, false
	}
	return it.Value, true
}

// Count returns the number of live keys in namespace ns.
func (s *Store) Count(ns string) int {
	return s.mt.Count(ns)
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.close()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jr.Close()
}
