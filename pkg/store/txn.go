package store

import (
	"fmt"

	"pitrdb/pkg/oplog"
)

// Isolation is the isolation level a transaction is opened with.
type Isolation uint8

const (
	ReadUncommitted Isolation = iota
	ReadCommitted
	Serializable
)

func (i Isolation) String() string {
	switch i {
	case ReadUncommitted:
		return "read-uncommitted"
	case ReadCommitted:
		return "read-committed"
	case Serializable:
		return "serializable"
	}
	return fmt.Sprintf("isolation(%d)", uint8(i))
}

// Durability selects whether a commit forces the journal to stable storage.
type Durability uint8

const (
	// DurabilitySync fsyncs the journal before Commit returns.
	DurabilitySync Durability = iota
	// DurabilityNoSync leaves the fsync to the background syncer.
	DurabilityNoSync
)

func (d Durability) String() string {
	if d == DurabilityNoSync {
		return "nosync"
	}
	return "sync"
}

// Txn is an open local transaction. While open it holds the store's writer
// critical section, so oplog appends from different transactions never interleave.
type Txn struct {
	id      uint64
	iso     Isolation
	store   *Store
	entries []oplog.Entry
	done    bool
}

func (t *Txn) ID() uint64 {
	return t.id
}

func (t *Txn) Isolation() Isolation {
	return t.iso
}

// Log stages entry for the local oplog; it becomes durable on commit.
func (t *Txn) Log(entry oplog.Entry) error {
	if t.done {
		return ErrTxnDone
	}
	t.entries = append(t.entries, entry)
	return nil
}

// Entries returns the entries staged so far.
func (t *Txn) Entries() []oplog.Entry {
	return t.entries
}

// Abort discards staged entries and releases the critical section.
// Aborting a finished transaction is a no-op.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.entries = nil
	t.store.release(t)
}
