// Package progress tracks how far local replication has got: which GTIDs have
// been durably added to the oplog, which one is being applied, and which ones
// have been applied to queryable state.
package progress

import (
	"errors"
	"fmt"
	"sync"

	"pitrdb/pkg/oplog"
	"pitrdb/pkg/types"
)

var ErrOutOfOrder = errors.New("progress: out of order")

// Manager holds the process-wide replication markers. Markers only move
// forward, except through ResetTo.
type Manager struct {
	mu sync.RWMutex

	added    types.GTID
	applying types.GTID
	applied  types.GTID
	inFlight bool

	lastTS   uint64
	lastHash uint64
}

// New seeds the markers from the last entry of the local oplog. Everything up
// to it is considered applied.
func New(last oplog.Entry) *Manager {
	return &Manager{
		added:    last.GTID,
		applying: last.GTID,
		applied:  last.GTID,
		lastTS:   last.TS,
		lastHash: last.Hash,
	}
}

// NoteAdded records that id is durably in the local oplog.
func (m *Manager) NoteAdded(id types.GTID, ts, hash uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.added.Less(id) {
		return fmt.Errorf("%w: add %s, already added %s", ErrOutOfOrder, id, m.added)
	}
	m.added = id
	m.lastTS = ts
	m.lastHash = hash
	return nil
}

// NoteApplying records that id is being applied. Only the last added GTID may
// start applying, and only once.
func (m *Manager) NoteApplying(id types.GTID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight {
		return fmt.Errorf("%w: applying %s while %s is in flight", ErrOutOfOrder, id, m.applying)
	}
	if id != m.added {
		return fmt.Errorf("%w: applying %s, last added %s", ErrOutOfOrder, id, m.added)
	}
	if !m.applying.Less(id) {
		return fmt.Errorf("%w: applying %s, already applying %s", ErrOutOfOrder, id, m.applying)
	}
	m.applying = id
	m.inFlight = true
	return nil
}

// NoteApplied records that the in-flight GTID is applied.
func (m *Manager) NoteApplied(id types.GTID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.inFlight || id != m.applying {
		return fmt.Errorf("%w: applied %s, applying %s (in flight %v)", ErrOutOfOrder, id, m.applying, m.inFlight)
	}
	m.applied = id
	m.inFlight = false
	return nil
}

// LiveState is the last GTID added to the local oplog.
func (m *Manager) LiveState() types.GTID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.added
}

// Applied is the last GTID applied to queryable state.
func (m *Manager) Applied() types.GTID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.applied
}

// InFlight returns the GTID that started applying but has not been applied yet.
func (m *Manager) InFlight() (types.GTID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.applying, m.inFlight
}

// CurrTimestamp is the timestamp of the last added entry.
func (m *Manager) CurrTimestamp() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastTS
}

func (m *Manager) LastHash() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHash
}

// Position anchors an upstream stream at the local oplog tail.
func (m *Manager) Position() oplog.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return oplog.Position{GTID: m.added, Hash: m.lastHash}
}

// Snapshot is a consistent copy of all markers.
type Snapshot struct {
	Added    types.GTID `json:"added"`
	Applying types.GTID `json:"applying"`
	Applied  types.GTID `json:"applied"`
	TS       uint64     `json:"ts"`
	Hash     uint64     `json:"hash"`
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Added:    m.added,
		Applying: m.applying,
		Applied:  m.applied,
		TS:       m.lastTS,
		Hash:     m.lastHash,
	}
}

// ResetTo rewinds every marker to last. Only the rollback procedure may call it.
func (m *Manager) ResetTo(last oplog.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.added, m.applying, m.applied = last.GTID, last.GTID, last.GTID
	m.inFlight = false
	m.lastTS = last.TS
	m.lastHash = last.Hash
}
