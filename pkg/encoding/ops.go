// Package encoding holds the on-disk encoding of oplog operations.
package encoding

import (
	"fmt"

	"github.com/linkedin/goavro/v2"

	"pitrdb/pkg/oplog"
)

const opsSchema = `{
	"type": "array",
	"items": {
		"type": "record",
		"name": "Op",
		"fields": [
			{"name": "op", "type": "string"},
			{"name": "ns", "type": "string"},
			{"name": "k", "type": "string"},
			{"name": "v", "type": "bytes"}
		]
	}
}`

var opsCodec *goavro.Codec

func init() {
	c, err := goavro.NewCodec(opsSchema)
	if err != nil {
		panic(fmt.Sprintf("encoding: bad ops schema: %v", err))
	}
	opsCodec = c
}

// EncodeOps appends the Avro binary form of ops to buf.
func EncodeOps(buf []byte, ops []oplog.Op) ([]byte, error) {
	native := make([]any, 0, len(ops))
	for _, op := range ops {
		v := op.Value
		if v == nil {
			v = []byte{}
		}
		native = append(native, map[string]any{
			"op": string(op.Type),
			"ns": op.NS,
			"k":  op.Key,
			"v":  v,
		})
	}
	out, err := opsCodec.BinaryFromNative(buf, native)
	if err != nil {
		return nil, fmt.Errorf("encode ops: %w", err)
	}
	return out, nil
}

// DecodeOps reads ops written by EncodeOps. Empty values decode as nil.
func DecodeOps(b []byte) ([]oplog.Op, error) {
	native, rest, err := opsCodec.NativeFromBinary(b)
	if err != nil {
		return nil, fmt.Errorf("decode ops: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode ops: %d trailing bytes", len(rest))
	}

	items, ok := native.([]any)
	if !ok {
		return nil, fmt.Errorf("decode ops: unexpected %T", native)
	}
	if len(items) == 0 {
		return nil, nil
	}

	ops := make([]oplog.Op, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("decode ops: item %d is %T", i, item)
		}
		op := oplog.Op{}
		t, _ := rec["op"].(string)
		op.Type = oplog.OpType(t)
		op.NS, _ = rec["ns"].(string)
		op.Key, _ = rec["k"].(string)
		if v, _ := rec["v"].([]byte); len(v) > 0 {
			op.Value = v
		}
		ops = append(ops, op)
	}
	return ops, nil
}
