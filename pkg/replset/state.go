// Package replset tracks this node's replica set member state and maintenance
// mode, and exposes the commands that change and report them.
package replset

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"pitrdb/pkg/dberrors"
)

type MemberState uint8

const (
	Startup MemberState = iota
	Primary
	Secondary
	Recovering
	Rollback
)

func (s MemberState) String() string {
	switch s {
	case Startup:
		return "STARTUP"
	case Primary:
		return "PRIMARY"
	case Secondary:
		return "SECONDARY"
	case Recovering:
		return "RECOVERING"
	case Rollback:
		return "ROLLBACK"
	}
	return fmt.Sprintf("STATE(%d)", uint8(s))
}

// ParseMemberState parses a state name, case insensitive.
func ParseMemberState(s string) (MemberState, error) {
	for st := Startup; st <= Rollback; st++ {
		if strings.EqualFold(s, st.String()) {
			return st, nil
		}
	}
	return Startup, dberrors.Newf(dberrors.ErrInvalidArgument, "unknown member state %q", s)
}

func (s MemberState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *MemberState) UnmarshalText(b []byte) error {
	st, err := ParseMemberState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// State is the member state of the local node plus a maintenance counter.
// While the counter is positive the node stays RECOVERING.
type State struct {
	mu          sync.RWMutex
	state       MemberState
	maintenance int
	logger      *slog.Logger
}

func NewState(initial MemberState, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{state: initial, logger: logger}
}

func (s *State) Current() MemberState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *State) IsPrimary() bool {
	return s.Current() == Primary
}

func (s *State) IsRecovering() bool {
	return s.Current() == Recovering
}

func (s *State) InMaintenanceMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maintenance > 0
}

func (s *State) MaintenanceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maintenance
}

// SetMaintenance enters (on) or leaves (off) maintenance mode. Entering is
// refused on a primary, leaving is refused when not in maintenance.
func (s *State) SetMaintenance(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if on {
		if s.state == Primary {
			return dberrors.Newf(dberrors.ErrPreconditionFailed, "primaries can't modify maintenance mode")
		}
		s.maintenance++
		s.transitionLocked(Recovering)
		return nil
	}

	if s.maintenance == 0 {
		return dberrors.Newf(dberrors.ErrPreconditionFailed, "already out of maintenance mode")
	}
	s.maintenance--
	if s.maintenance == 0 && s.state == Recovering {
		s.transitionLocked(Secondary)
	}
	return nil
}

// Transition moves the node to st. A node in maintenance mode stays
// RECOVERING unless it becomes ROLLBACK.
func (s *State) Transition(st MemberState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maintenance > 0 && st != Rollback {
		st = Recovering
	}
	s.transitionLocked(st)
}

func (s *State) transitionLocked(st MemberState) {
	if s.state == st {
		return
	}
	s.logger.Info("member state change", "from", s.state, "to", st, "maintenance", s.maintenance)
	s.state = st
}
