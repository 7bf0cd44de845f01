package memtable

import (
	"bytes"
	"errors"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

var (
	ErrTooLargeEntry = errors.New("entry is too large")
)

type concurrentSet = skipmap.FuncMap[[]byte, Item]

// Memtable is the queryable state: an ordered concurrent map of namespaced keys.
// Deletes leave tombstones so that a late, older write cannot resurrect a key.
type Memtable struct {
	maxEntryBytes uint64
	size          atomic.Uint64
	live          atomic.Int64

	underlying *concurrentSet
}

func New(maxEntryBytes int) *Memtable {
	return &Memtable{
		maxEntryBytes: uint64(maxEntryBytes),
		underlying: skipmap.NewFunc[[]byte, Item](func(a, b []byte) bool {
			return bytes.Compare(a, b) < 0
		}),
	}
}

func (mt *Memtable) Get(ns, key string) (Item, bool) {
	it, ok := mt.underlying.Load(nsKey(ns, key))
	if !ok || it.Tombstone {
		return Item{}, false
	}
	return it, true
}

// Fits reports whether an upsert of key in ns with value would be accepted.
func (mt *Memtable) Fits(ns, key string, value []byte) error {
	if mt.maxEntryBytes > 0 && entrySize(ns, key, value) > mt.maxEntryBytes {
		return ErrTooLargeEntry
	}
	return nil
}

func (mt *Memtable) Upsert(ns, key string, value []byte, seqN uint64) error {
	if err := mt.Fits(ns, key, value); err != nil {
		return err
	}
	k := nsKey(ns, key)
	entSize := entrySize(ns, key, value)

	mt.store(k, Item{Key: k, Value: value, SeqN: seqN})
	mt.size.Add(entSize)
	return nil
}

func (mt *Memtable) Delete(ns, key string, seqN uint64) {
	k := nsKey(ns, key)
	mt.store(k, Item{Key: k, SeqN: seqN, Tombstone: true})
}

func (mt *Memtable) store(k []byte, it Item) {
	prev, existed := mt.underlying.Load(k)
	if existed && prev.SeqN > it.SeqN {
		return
	}
	mt.underlying.Store(k, it)

	wasLive := existed && !prev.Tombstone
	switch {
	case !wasLive && !it.Tombstone:
		mt.live.Add(1)
	case wasLive && it.Tombstone:
		mt.live.Add(-1)
	}
}

// Count returns the number of live keys in ns.
func (mt *Memtable) Count(ns string) int {
	n := 0
	mt.Range(ns, func(string, []byte) bool {
		n++
		return true
	})
	return n
}

// Range calls fn for live keys of ns in key order until fn returns false.
func (mt *Memtable) Range(ns string, fn func(key string, value []byte) bool) {
	prefix := nsPrefix(ns)
	mt.underlying.Range(func(k []byte, it Item) bool {
		if !bytes.HasPrefix(k, prefix) {
			return bytes.Compare(k, prefix) < 0
		}
		if it.Tombstone {
			return true
		}
		return fn(string(k[len(prefix):]), it.Value)
	})
}

// Len returns the number of live keys across all namespaces.
func (mt *Memtable) Len() int {
	return int(mt.live.Load())
}

// SizeBytes is the approximate number of bytes written so far.
func (mt *Memtable) SizeBytes() uint64 {
	return mt.size.Load()
}
