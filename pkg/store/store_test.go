package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"pitrdb/pkg/dberrors"
	"pitrdb/pkg/oplog"
	"pitrdb/pkg/types"
)

// mockTimeProvider implements iTimeProvider for testing
type mockTimeProvider struct {
	now time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	return m.now
}

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(Options{Dir: dir, TimeProvider: &mockTimeProvider{now: time.UnixMilli(5000)}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func insert(ns, key, value string) oplog.Op {
	return oplog.Op{Type: oplog.OpInsert, NS: ns, Key: key, Value: []byte(value)}
}

func TestStore_WriteAssignsGTIDsAndChainsHashes(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	e1, err := s.Write(3, []oplog.Op{insert("users", "a", "1")})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	e2, err := s.Write(3, []oplog.Op{insert("users", "b", "2")})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	e3, err := s.Write(4, []oplog.Op{{Type: oplog.OpDelete, NS: "users", Key: "a"}})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if e1.GTID != types.NewGTID(3, 1) || e2.GTID != types.NewGTID(3, 2) || e3.GTID != types.NewGTID(4, 1) {
		t.Fatalf("unexpected gtids %s %s %s", e1.GTID, e2.GTID, e3.GTID)
	}
	if e1.TS != 5000 {
		t.Fatalf("expected ts from time provider, got %d", e1.TS)
	}
	if e2.Hash != oplog.ChainHash(e1.Hash, oplog.Entry{GTID: e2.GTID, TS: e2.TS, Ops: e2.Ops}) {
		t.Fatal("hash of e2 is not chained to e1")
	}

	if _, ok := s.Get("users", "a"); ok {
		t.Fatal("users/a must be deleted")
	}
	if v, ok := s.Get("users", "b"); !ok || string(v) != "2" {
		t.Fatalf("expected users/b=2, got %q ok=%v", v, ok)
	}

	if _, err := s.Write(2, []oplog.Op{insert("users", "c", "3")}); !errors.Is(err, ErrStaleTerm) {
		t.Fatalf("expected ErrStaleTerm, got %v", err)
	}
	if _, err := s.Write(4, nil); !errors.Is(err, ErrEmptyTxn) {
		t.Fatalf("expected ErrEmptyTxn, got %v", err)
	}
	if _, err := s.Write(4, []oplog.Op{{Type: "x", NS: "n", Key: "k"}}); !errors.Is(err, dberrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestStore_TxnCommitNoSyncThenApply(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	txn, err := s.Begin(Serializable)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if txn.Isolation() != Serializable {
		t.Fatalf("unexpected isolation %s", txn.Isolation())
	}
	entry := oplog.Entry{GTID: types.NewGTID(1, 1), TS: 10, Hash: 99, Ops: []oplog.Op{insert("n", "k", "v")}}
	if err := txn.Log(entry); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := s.Commit(txn, DurabilityNoSync); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := s.Commit(txn, DurabilityNoSync); !errors.Is(err, ErrTxnDone) {
		t.Fatalf("expected ErrTxnDone on double commit, got %v", err)
	}
	if err := txn.Log(entry); !errors.Is(err, ErrTxnDone) {
		t.Fatalf("expected ErrTxnDone on log after commit, got %v", err)
	}

	last, ok := s.Last()
	if !ok || last.GTID != entry.GTID || last.Hash != 99 {
		t.Fatalf("unexpected last entry %+v", last)
	}
	if _, ok := s.Get("n", "k"); ok {
		t.Fatal("commit must not apply ops to queryable state")
	}
	if err := s.Apply(entry.Ops); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if v, ok := s.Get("n", "k"); !ok || string(v) != "v" {
		t.Fatalf("expected n/k=v, got %q", v)
	}
}

func TestStore_TxnIsCriticalSection(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	txn, err := s.Begin(Serializable)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	entered := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		other, err := s.Begin(ReadCommitted)
		if err != nil {
			t.Errorf("Begin failed: %v", err)
			return
		}
		close(entered)
		other.Abort()
	}()

	select {
	case <-entered:
		t.Fatal("second transaction entered while first was open")
	case <-time.After(50 * time.Millisecond):
	}

	txn.Abort()
	wg.Wait()
	<-entered
}

func TestStore_RestoreFromJournal(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	if _, err := s.Write(1, []oplog.Op{insert("a", "k1", "v1"), insert("a", "k2", "v2")}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := s.Write(1, []oplog.Op{{Type: oplog.OpDelete, NS: "a", Key: "k1"}}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2 := openStore(t, dir)
	defer s2.Close()

	if got := s2.Count("a"); got != 1 {
		t.Fatalf("expected 1 live key after restore, got %d", got)
	}
	last, ok := s2.Last()
	if !ok || last.GTID != types.NewGTID(1, 2) {
		t.Fatalf("unexpected last after restore %+v", last)
	}

	e, err := s2.Lookup(types.NewGTID(1, 1))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(e.Ops) != 2 {
		t.Fatalf("expected 2 ops, got %d", len(e.Ops))
	}
	if _, err := s2.Lookup(types.NewGTID(1, 9)); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var seen []types.GTID
	if err := s2.Scan(types.NewGTID(1, 2), func(e oplog.Entry) error {
		seen = append(seen, e.GTID)
		return nil
	}); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(seen) != 1 || seen[0] != types.NewGTID(1, 2) {
		t.Fatalf("unexpected scan result %v", seen)
	}
}

func TestStore_WriteTimestampsNeverGoBack(t *testing.T) {
	dir := t.TempDir()
	tp := &mockTimeProvider{now: time.UnixMilli(5000)}
	s, err := Open(Options{Dir: dir, TimeProvider: tp})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	e1, err := s.Write(1, []oplog.Op{insert("a", "k1", "v")})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	tp.now = time.UnixMilli(4000)
	e2, err := s.Write(1, []oplog.Op{insert("a", "k2", "v")})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if e1.TS != 5000 || e2.TS != 5000 {
		t.Fatalf("expected both entries at 5000, got %d and %d", e1.TS, e2.TS)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// the floor survives a restart
	s2, err := Open(Options{Dir: dir, TimeProvider: tp})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	e3, err := s2.Write(1, []oplog.Op{insert("a", "k3", "v")})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if e3.TS != 5000 {
		t.Fatalf("expected 5000 after reopen, got %d", e3.TS)
	}
}

func TestStore_OversizedWriteIsNotLogged(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Dir: dir, MaxEntryBytes: 64})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	big := oplog.Op{Type: oplog.OpInsert, NS: "a", Key: "k", Value: make([]byte, 200)}
	if err := s.Check([]oplog.Op{big}); !errors.Is(err, dberrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument from Check, got %v", err)
	}
	del := oplog.Op{Type: oplog.OpDelete, NS: "a", Key: "k"}
	if err := s.Check([]oplog.Op{del}); err != nil {
		t.Fatalf("Check of a delete: %v", err)
	}

	if _, err := s.Write(1, []oplog.Op{insert("a", "small", "v"), big}); !errors.Is(err, dberrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument from Write, got %v", err)
	}
	if _, ok := s.Last(); ok {
		t.Fatal("rejected write reached the oplog")
	}
	if _, ok := s.Get("a", "small"); ok {
		t.Fatal("rejected write was partially applied")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := Open(Options{Dir: dir, MaxEntryBytes: 64})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	if _, ok := s2.Last(); ok {
		t.Fatal("journal not empty after reopen")
	}
}

func TestStore_ClosedRejectsBegin(t *testing.T) {
	s := openStore(t, t.TempDir())
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := s.Begin(Serializable); !errors.Is(err, dberrors.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestStore_BackgroundSync(t *testing.T) {
	s, err := Open(Options{Dir: t.TempDir(), SyncInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := s.Write(1, []oplog.Op{insert("a", "k", "v")}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
