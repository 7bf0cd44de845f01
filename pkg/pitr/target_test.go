package pitr

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitrdb/pkg/dberrors"
	"pitrdb/pkg/oplog"
	"pitrdb/pkg/types"
)

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    Target
		wantErr bool
	}{
		{name: "ts", body: `{"ts":"2024-01-02T03:04:05Z"}`,
			want: TimestampTarget(uint64(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()))},
		{name: "ts with millis", body: `{"ts":"1970-01-01T00:00:01.5Z"}`, want: TimestampTarget(1500)},
		{name: "gtid", body: `{"gtid":"3:42"}`, want: GTIDTarget(types.NewGTID(3, 42))},
		{name: "neither", body: `{}`, wantErr: true},
		{name: "both", body: `{"ts":"2024-01-02T03:04:05Z","gtid":"1:1"}`, wantErr: true},
		{name: "null ts counts as absent", body: `{"ts":null,"gtid":"1:1"}`, want: GTIDTarget(types.NewGTID(1, 1))},
		{name: "ts is a number", body: `{"ts":1700000000}`, wantErr: true},
		{name: "ts is not a date", body: `{"ts":"yesterday"}`, wantErr: true},
		{name: "ts before epoch", body: `{"ts":"1969-12-31T00:00:00Z"}`, wantErr: true},
		{name: "gtid malformed", body: `{"gtid":"3-42"}`, wantErr: true},
		{name: "gtid not a string", body: `{"gtid":42}`, wantErr: true},
		{name: "gtid initial", body: `{"gtid":"0:0"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			require.NoError(t, json.Unmarshal([]byte(tt.body), &req))

			got, err := ResolveTarget(req)
			if tt.wantErr {
				assert.Equal(t, dberrors.KindInvalidArgument, dberrors.KindOf(err), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShouldApply(t *testing.T) {
	e := oplog.Entry{GTID: types.NewGTID(2, 5), TS: 1000}

	tests := []struct {
		name   string
		target Target
		want   bool
	}{
		{"ts below", TimestampTarget(999), false},
		{"ts equal is inclusive", TimestampTarget(1000), true},
		{"ts above", TimestampTarget(1001), true},
		{"gtid below", GTIDTarget(types.NewGTID(2, 4)), false},
		{"gtid equal is inclusive", GTIDTarget(types.NewGTID(2, 5)), true},
		{"gtid above", GTIDTarget(types.NewGTID(2, 6)), true},
		{"gtid older term", GTIDTarget(types.NewGTID(1, 100)), false},
		{"gtid newer term", GTIDTarget(types.NewGTID(3, 0)), true},
		{"initial gtid bound admits", GTIDTarget(types.InitialGTID), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				assert.Equal(t, tt.want, ShouldApply(e, tt.target))
			}
		})
	}
}

func TestTarget_PassedBy(t *testing.T) {
	live := types.NewGTID(1, 7)

	assert.True(t, GTIDTarget(types.NewGTID(1, 6)).PassedBy(live, 0))
	assert.False(t, GTIDTarget(types.NewGTID(1, 7)).PassedBy(live, 0))
	assert.False(t, GTIDTarget(types.NewGTID(1, 8)).PassedBy(live, 0))

	assert.True(t, TimestampTarget(99).PassedBy(live, 100))
	assert.False(t, TimestampTarget(100).PassedBy(live, 100))
	assert.False(t, TimestampTarget(101).PassedBy(live, 100))
}
