// Package pitr implements point-in-time recovery: replaying the oplog of a
// sync source into the local node up to, and including, a requested
// timestamp or GTID.
package pitr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"pitrdb/pkg/dberrors"
	"pitrdb/pkg/oplog"
	"pitrdb/pkg/types"
)

type TargetKind uint8

const (
	TargetTimestamp TargetKind = iota + 1
	TargetGTID
)

// Target is the resolved recovery point. The zero value is not a valid target.
type Target struct {
	kind TargetKind
	ts   uint64
	gtid types.GTID
}

// TimestampTarget recovers up to entries with ts <= ms (milliseconds since epoch).
func TimestampTarget(ms uint64) Target {
	return Target{kind: TargetTimestamp, ts: ms}
}

// GTIDTarget recovers up to entries with GTID <= id.
func GTIDTarget(id types.GTID) Target {
	return Target{kind: TargetGTID, gtid: id}
}

func (t Target) Kind() TargetKind { return t.kind }
func (t Target) TS() uint64       { return t.ts }
func (t Target) GTID() types.GTID { return t.gtid }

func (t Target) String() string {
	switch t.kind {
	case TargetTimestamp:
		return "ts " + time.UnixMilli(int64(t.ts)).UTC().Format(time.RFC3339Nano)
	case TargetGTID:
		return "gtid " + t.gtid.String()
	}
	return "no target"
}

// PassedBy reports whether a local oplog at live with last timestamp currTS
// is already beyond the target.
func (t Target) PassedBy(live types.GTID, currTS uint64) bool {
	switch t.kind {
	case TargetTimestamp:
		return currTS > t.ts
	case TargetGTID:
		return !t.gtid.IsInitial() && t.gtid.Less(live)
	}
	return false
}

// ShouldApply is the admission filter: an entry is admitted while it does not
// exceed the target. Bounds are inclusive.
func ShouldApply(e oplog.Entry, t Target) bool {
	switch t.kind {
	case TargetTimestamp:
		if e.TS > t.ts {
			return false
		}
	case TargetGTID:
		if !t.gtid.IsInitial() && types.Cmp(e.GTID, t.gtid) > 0 {
			return false
		}
	}
	return true
}

// Request is the recoverToPoint command body. Exactly one field must be set:
// ts as an RFC 3339 date string, or gtid as "<primary>:<secondary>".
type Request struct {
	TS   json.RawMessage `json:"ts,omitempty"`
	GTID json.RawMessage `json:"gtid,omitempty"`
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// ResolveTarget validates req and builds its Target.
func ResolveTarget(req Request) (Target, error) {
	hasTS, hasGTID := present(req.TS), present(req.GTID)
	if hasTS == hasGTID {
		return Target{}, dberrors.Newf(dberrors.ErrInvalidArgument, "must supply either gtid or ts, but not both")
	}

	if hasTS {
		var s string
		if err := json.Unmarshal(req.TS, &s); err != nil {
			return Target{}, dberrors.Newf(dberrors.ErrInvalidArgument, "must supply a date for the ts field")
		}
		at, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Target{}, dberrors.Newf(dberrors.ErrInvalidArgument, "must supply a date for the ts field: %v", err)
		}
		if at.UnixMilli() < 0 {
			return Target{}, dberrors.Newf(dberrors.ErrInvalidArgument, "ts %s is before the epoch", s)
		}
		return TimestampTarget(uint64(at.UnixMilli())), nil
	}

	var s string
	if err := json.Unmarshal(req.GTID, &s); err != nil {
		return Target{}, dberrors.Newf(dberrors.ErrInvalidArgument, "gtid must be a string")
	}
	id, err := types.ParseGTID(s)
	if err != nil {
		return Target{}, fmt.Errorf("%w: gtid is not valid and cannot be parsed: %v", dberrors.ErrInvalidArgument, err)
	}
	if id.IsInitial() {
		return Target{}, dberrors.Newf(dberrors.ErrInvalidArgument, "gtid %s is the initial gtid", id)
	}
	return GTIDTarget(id), nil
}
