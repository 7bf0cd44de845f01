package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidGTID = errors.New("invalid gtid")

// GTID is a global transaction identifier. Primary is the election term of the
// node that produced the transaction, Secondary is its sequence within that term.
// GTIDs are totally ordered: first by Primary, then by Secondary.
type GTID struct {
	Primary   uint64
	Secondary uint64
}

// InitialGTID is the unset GTID that precedes every real transaction.
var InitialGTID = GTID{}

func NewGTID(primary, secondary uint64) GTID {
	return GTID{Primary: primary, Secondary: secondary}
}

// IsInitial reports whether g is the unset sentinel.
func (g GTID) IsInitial() bool {
	return g == InitialGTID
}

// Cmp returns -1, 0 or +1 when a is less than, equal to or greater than b.
func Cmp(a, b GTID) int {
	switch {
	case a.Primary < b.Primary:
		return -1
	case a.Primary > b.Primary:
		return 1
	case a.Secondary < b.Secondary:
		return -1
	case a.Secondary > b.Secondary:
		return 1
	}
	return 0
}

func (g GTID) Less(than GTID) bool {
	return Cmp(g, than) < 0
}

// Inc returns the next GTID in the same term.
func (g GTID) Inc() GTID {
	return GTID{Primary: g.Primary, Secondary: g.Secondary + 1}
}

func (g GTID) String() string {
	return strconv.FormatUint(g.Primary, 10) + ":" + strconv.FormatUint(g.Secondary, 10)
}

// ParseGTID parses the "<primary>:<secondary>" text form.
func ParseGTID(s string) (GTID, error) {
	primary, secondary, ok := strings.Cut(s, ":")
	if !ok || primary == "" || secondary == "" {
		return GTID{}, fmt.Errorf("%w: %q", ErrInvalidGTID, s)
	}
	p, err := strconv.ParseUint(primary, 10, 64)
	if err != nil {
		return GTID{}, fmt.Errorf("%w: primary of %q: %v", ErrInvalidGTID, s, err)
	}
	sec, err := strconv.ParseUint(secondary, 10, 64)
	if err != nil {
		return GTID{}, fmt.Errorf("%w: secondary of %q: %v", ErrInvalidGTID, s, err)
	}
	return GTID{Primary: p, Secondary: sec}, nil
}

func (g GTID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *GTID) UnmarshalText(b []byte) error {
	parsed, err := ParseGTID(string(b))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
