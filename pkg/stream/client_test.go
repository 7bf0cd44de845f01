package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitrdb/pkg/dberrors"
	"pitrdb/pkg/oplog"
	"pitrdb/pkg/types"
)

func entry(sec uint64) oplog.Entry {
	return oplog.Entry{
		GTID: types.NewGTID(1, sec),
		TS:   sec * 1000,
		Hash: sec * 11,
		Ops:  []oplog.Op{{Type: oplog.OpInsert, NS: "db", Key: "k", Value: []byte("v")}},
	}
}

// upstream serves entries with GTID >= from as NDJSON.
func upstream(t *testing.T, entries []oplog.Entry, refs map[string][]oplog.Op) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(OplogPath, func(w http.ResponseWriter, r *http.Request) {
		from, err := types.ParseGTID(r.URL.Query().Get("from"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		enc := json.NewEncoder(w)
		for _, e := range entries {
			if e.GTID.Less(from) {
				continue
			}
			_ = enc.Encode(e)
		}
	})
	mux.HandleFunc(RefsPath, func(w http.ResponseWriter, r *http.Request) {
		ops, ok := refs[strings.TrimPrefix(r.URL.Path, RefsPath)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(ops)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewDialer(time.Second, nil).Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDial_ConnectFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewDialer(time.Second, nil).Dial(context.Background(), srv.URL)
	assert.Equal(t, dberrors.KindConnectFailed, dberrors.KindOf(err))

	srv.Close()
	_, err = NewDialer(time.Second, nil).Dial(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
	assert.Equal(t, dberrors.KindConnectFailed, dberrors.KindOf(err))
}

func TestClient_StreamFromInitial(t *testing.T) {
	srv := upstream(t, []oplog.Entry{entry(1), entry(2), entry(3)}, nil)
	c := dial(t, srv)
	ctx := context.Background()

	require.NoError(t, c.StreamFrom(ctx, oplog.Position{}))
	diverged, err := c.DetectDivergence()
	require.NoError(t, err)
	assert.False(t, diverged)

	var got []types.GTID
	for c.More() {
		e, err := c.Next()
		require.NoError(t, err)
		got = append(got, e.GTID)
	}
	require.NoError(t, c.Err())
	assert.Equal(t, []types.GTID{types.NewGTID(1, 1), types.NewGTID(1, 2), types.NewGTID(1, 3)}, got)

	_, err = c.Next()
	assert.ErrorIs(t, err, dberrors.ErrTransientStream)
}

func TestClient_DetectDivergence(t *testing.T) {
	srv := upstream(t, []oplog.Entry{entry(1), entry(2), entry(3)}, nil)
	c := dial(t, srv)
	ctx := context.Background()

	t.Run("matching position is consumed", func(t *testing.T) {
		require.NoError(t, c.StreamFrom(ctx, entry(2).Position()))
		diverged, err := c.DetectDivergence()
		require.NoError(t, err)
		assert.False(t, diverged)

		e, err := c.Next()
		require.NoError(t, err)
		assert.Equal(t, types.NewGTID(1, 3), e.GTID)
	})

	t.Run("hash mismatch", func(t *testing.T) {
		pos := entry(2).Position()
		pos.Hash++
		require.NoError(t, c.StreamFrom(ctx, pos))
		diverged, err := c.DetectDivergence()
		require.NoError(t, err)
		assert.True(t, diverged)
	})

	t.Run("local position missing upstream", func(t *testing.T) {
		require.NoError(t, c.StreamFrom(ctx, oplog.Position{GTID: types.NewGTID(1, 9), Hash: 1}))
		diverged, err := c.DetectDivergence()
		require.NoError(t, err)
		assert.True(t, diverged)
	})
}

func TestClient_LoadRefs(t *testing.T) {
	ops := []oplog.Op{{Type: oplog.OpDelete, NS: "db", Key: "x"}}
	srv := upstream(t, nil, map[string][]oplog.Op{"1:4": ops})
	c := dial(t, srv)

	got, err := c.LoadRefs(context.Background(), "1:4")
	require.NoError(t, err)
	assert.Equal(t, ops, got)

	_, err = c.LoadRefs(context.Background(), "1:5")
	assert.ErrorIs(t, err, dberrors.ErrTransientStream)

	_, err = c.LoadRefs(context.Background(), "not-a-gtid")
	assert.ErrorIs(t, err, dberrors.ErrTransientStream)
}

func TestClient_CancelAbortsBlockedRead(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc(OplogPath, func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(release)

	c := dial(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.StreamFrom(ctx, oplog.Position{}))

	time.AfterFunc(20*time.Millisecond, cancel)
	assert.False(t, c.More())
	assert.Error(t, c.Err())
	assert.Error(t, ctx.Err())
}
