package oplog

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"pitrdb/pkg/types"
)

// OpType is the kind of a single logical operation inside a transaction.
type OpType string

const (
	OpInsert OpType = "i"
	OpUpdate OpType = "u"
	OpDelete OpType = "d"
)

// Op is one logical sub-operation of a replicated transaction.
type Op struct {
	Type  OpType `json:"op"`
	NS    string `json:"ns"`
	Key   string `json:"k"`
	Value []byte `json:"v,omitempty"`
}

func (o Op) Validate() error {
	switch o.Type {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("unknown op type %q", o.Type)
	}
	if o.NS == "" || o.Key == "" {
		return fmt.Errorf("%s op: empty namespace or key", o.Type)
	}
	return nil
}

// Entry is a single oplog record: one committed transaction.
//
// Ref is set for big transactions whose operations are kept out of line by the
// producer; Ops is empty in that case and has to be fetched by reference.
type Entry struct {
	GTID types.GTID `json:"_id"`
	TS   uint64     `json:"ts"`
	Hash uint64     `json:"h"`
	Ops  []Op       `json:"ops,omitempty"`
	Ref  string     `json:"ref,omitempty"`
}

// IsBig reports whether the entry's operations live out of line.
func (e Entry) IsBig() bool {
	return e.Ref != ""
}

// Position is the point a stream is anchored at: the last entry known locally.
type Position struct {
	GTID types.GTID
	Hash uint64
}

func (e Entry) Position() Position {
	return Position{GTID: e.GTID, Hash: e.Hash}
}

func (p Position) String() string {
	return fmt.Sprintf("%s/%x", p.GTID, p.Hash)
}

// ChainHash links an entry to its predecessor: FNV-1a over the previous hash,
// the entry's GTID, timestamp and operations.
func ChainHash(prev uint64, e Entry) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}

	put(prev)
	put(e.GTID.Primary)
	put(e.GTID.Secondary)
	put(e.TS)
	for _, op := range e.Ops {
		_, _ = h.Write([]byte(op.Type))
		_, _ = h.Write([]byte(op.NS))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(op.Key))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(op.Value)
	}
	return h.Sum64()
}
