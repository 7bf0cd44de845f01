package replset

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitrdb/pkg/command"
	"pitrdb/pkg/dberrors"
	"pitrdb/pkg/metrics"
	"pitrdb/pkg/oplog"
	"pitrdb/pkg/progress"
	"pitrdb/pkg/types"
)

func TestState_Maintenance(t *testing.T) {
	s := NewState(Secondary, nil)
	assert.False(t, s.IsRecovering())
	assert.False(t, s.InMaintenanceMode())

	require.NoError(t, s.SetMaintenance(true))
	require.NoError(t, s.SetMaintenance(true))
	assert.True(t, s.IsRecovering())
	assert.Equal(t, 2, s.MaintenanceCount())

	require.NoError(t, s.SetMaintenance(false))
	assert.True(t, s.IsRecovering(), "still in maintenance")
	require.NoError(t, s.SetMaintenance(false))
	assert.Equal(t, Secondary, s.Current())
	assert.False(t, s.InMaintenanceMode())

	err := s.SetMaintenance(false)
	assert.Equal(t, dberrors.KindPreconditionFailed, dberrors.KindOf(err))
}

func TestState_PrimaryRefusesMaintenance(t *testing.T) {
	s := NewState(Primary, nil)
	err := s.SetMaintenance(true)
	assert.Equal(t, dberrors.KindPreconditionFailed, dberrors.KindOf(err))
	assert.Equal(t, Primary, s.Current())
}

func TestState_TransitionKeepsMaintenance(t *testing.T) {
	s := NewState(Secondary, nil)
	require.NoError(t, s.SetMaintenance(true))

	s.Transition(Secondary)
	assert.Equal(t, Recovering, s.Current())

	s.Transition(Rollback)
	assert.Equal(t, Rollback, s.Current())
}

func TestParseMemberState(t *testing.T) {
	st, err := ParseMemberState("recovering")
	require.NoError(t, err)
	assert.Equal(t, Recovering, st)

	_, err = ParseMemberState("arbiter")
	assert.ErrorIs(t, err, dberrors.ErrInvalidArgument)

	b, err := json.Marshal(map[string]MemberState{"s": Primary})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"PRIMARY"}`, string(b))
}

func TestCommands(t *testing.T) {
	s := NewState(Secondary, nil)
	prog := progress.New(oplog.Entry{GTID: types.NewGTID(2, 5), TS: 100})

	reg := command.NewRegistry()
	for _, c := range Commands("n1:8080", s, prog) {
		require.NoError(t, reg.Add(c))
	}
	d := command.NewDispatcher(reg, metrics.NewRegistry(), nil)
	ctx := context.Background()
	root := command.Superuser("root")

	_, err := d.Dispatch(ctx, root, "replSetMaintenance", json.RawMessage(`{}`))
	assert.Equal(t, dberrors.KindInvalidArgument, dberrors.KindOf(err))

	_, err = d.Dispatch(ctx, root, "replSetMaintenance", json.RawMessage(`{"on":true}`))
	require.NoError(t, err)
	assert.True(t, s.IsRecovering())

	res, err := d.Dispatch(ctx, root, "replSetGetStatus", nil)
	require.NoError(t, err)
	status := res.(Status)
	assert.Equal(t, Recovering, status.State)
	assert.Equal(t, 1, status.Maintenance)
	assert.Equal(t, types.NewGTID(2, 5), status.Progress.Applied)

	reader := command.NewPrincipal("reader", command.ActionReplSetGetStatus)
	_, err = d.Dispatch(ctx, reader, "replSetMaintenance", json.RawMessage(`{"on":false}`))
	assert.Equal(t, dberrors.KindUnauthorized, dberrors.KindOf(err))
}
