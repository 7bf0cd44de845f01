package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestGTID_Cmp(t *testing.T) {
	cases := []struct {
		a, b GTID
		want int
	}{
		{NewGTID(0, 0), NewGTID(0, 0), 0},
		{NewGTID(1, 5), NewGTID(1, 6), -1},
		{NewGTID(1, 6), NewGTID(1, 5), 1},
		{NewGTID(1, 100), NewGTID(2, 0), -1},
		{NewGTID(3, 0), NewGTID(2, 100), 1},
	}
	for _, c := range cases {
		if got := Cmp(c.a, c.b); got != c.want {
			t.Fatalf("Cmp(%s, %s) = %d, want %d", c.a, c.b, got, c.want)
		}
		if got := Cmp(c.b, c.a); got != -c.want {
			t.Fatalf("Cmp(%s, %s) = %d, want %d", c.b, c.a, got, -c.want)
		}
	}
}

func TestGTID_Initial(t *testing.T) {
	var g GTID
	if !g.IsInitial() {
		t.Fatal("zero GTID must be initial")
	}
	if NewGTID(0, 1).IsInitial() {
		t.Fatal("0:1 must not be initial")
	}
	if !InitialGTID.Less(NewGTID(0, 1)) {
		t.Fatal("initial must precede every real gtid")
	}
}

func TestParseGTID(t *testing.T) {
	g, err := ParseGTID("7:42")
	if err != nil {
		t.Fatalf("ParseGTID failed: %v", err)
	}
	if g != NewGTID(7, 42) {
		t.Fatalf("got %v", g)
	}
	if g.String() != "7:42" {
		t.Fatalf("String() = %q", g.String())
	}

	for _, bad := range []string{"", "7", "7:", ":42", "a:1", "1:-1", "1:2:3", "18446744073709551616:0"} {
		if _, err := ParseGTID(bad); !errors.Is(err, ErrInvalidGTID) {
			t.Fatalf("ParseGTID(%q) expected ErrInvalidGTID, got %v", bad, err)
		}
	}
}

func TestGTID_JSON(t *testing.T) {
	type wrapper struct {
		ID GTID `json:"id"`
	}
	b, err := json.Marshal(wrapper{ID: NewGTID(3, 9)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"id":"3:9"}` {
		t.Fatalf("unexpected json %s", b)
	}

	var w wrapper
	if err := json.Unmarshal(b, &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w.ID != NewGTID(3, 9) {
		t.Fatalf("round trip mismatch: %v", w.ID)
	}

	if err := json.Unmarshal([]byte(`{"id":"garbage"}`), &w); err == nil {
		t.Fatal("expected error for malformed gtid")
	}
}
