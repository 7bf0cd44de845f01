package example

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitrdb/pkg/command"
	"pitrdb/pkg/dberrors"
	"pitrdb/pkg/metrics"
)

type fakeCounter map[string]int

func (f fakeCounter) Count(ns string) int { return f[ns] }

func TestPluginExample(t *testing.T) {
	reg := command.NewRegistry()
	require.NoError(t, reg.LoadPlugin(Plugin(fakeCounter{"users": 3})))
	d := command.NewDispatcher(reg, metrics.NewRegistry(), nil)
	ctx := context.Background()
	reader := command.NewPrincipal("reader", command.ActionFind)

	res, err := d.Dispatch(ctx, reader, "pluginExample", json.RawMessage(`{"ns":"users"}`))
	require.NoError(t, err)
	assert.Equal(t, Reply{NS: "users", Keys: 3}, res)

	_, err = d.Dispatch(ctx, reader, "pluginExample", json.RawMessage(`{"ns":"orders"}`))
	assert.Equal(t, dberrors.KindNotFound, dberrors.KindOf(err))

	_, err = d.Dispatch(ctx, reader, "pluginExample", json.RawMessage(`{}`))
	assert.Equal(t, dberrors.KindInvalidArgument, dberrors.KindOf(err))
}
