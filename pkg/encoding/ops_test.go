package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitrdb/pkg/oplog"
)

func TestOpsRoundTrip(t *testing.T) {
	ops := []oplog.Op{
		{Type: oplog.OpInsert, NS: "users", Key: "k1", Value: []byte("v1")},
		{Type: oplog.OpUpdate, NS: "users", Key: "k1", Value: []byte{0, 1, 2, 255}},
		{Type: oplog.OpDelete, NS: "orders", Key: "o-7"},
	}

	b, err := EncodeOps(nil, ops)
	require.NoError(t, err)

	got, err := DecodeOps(b)
	require.NoError(t, err)
	assert.Equal(t, ops, got)
}

func TestEmptyOps(t *testing.T) {
	b, err := EncodeOps(nil, nil)
	require.NoError(t, err)

	got, err := DecodeOps(b)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	b, err := EncodeOps(nil, []oplog.Op{{Type: oplog.OpInsert, NS: "n", Key: "k"}})
	require.NoError(t, err)

	_, err = DecodeOps(append(b, 0x7f))
	assert.Error(t, err)

	_, err = DecodeOps(b[:len(b)-2])
	assert.Error(t, err)
}
