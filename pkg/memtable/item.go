package memtable

import "bytes"

type Item struct {
	Key       []byte
	Value     []byte
	SeqN      uint64
	Tombstone bool
}

func (it *Item) Less(than *Item) bool {
	return bytes.Compare(it.Key, than.Key) < 0
}

// nsKey builds the ordered key for key within namespace ns.
func nsKey(ns, key string) []byte {
	b := make([]byte, 0, len(ns)+1+len(key))
	b = append(b, ns...)
	b = append(b, 0)
	return append(b, key...)
}

func nsPrefix(ns string) []byte {
	return append([]byte(ns), 0)
}

// entrySize is the accounted size of an item: its namespaced key, value and sequence number.
func entrySize(ns, key string, value []byte) uint64 {
	return uint64(len(ns)+1+len(key)) + uint64(len(value)) + 8
}
