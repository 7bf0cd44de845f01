package cluster

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"pitrdb/pkg/dberrors"
	"pitrdb/pkg/replset"
	"pitrdb/pkg/types"
)

type iMembers interface {
	Members() []Member
}

type iLiveState interface {
	LiveState() types.GTID
}

// Selector picks the member to replicate from.
type Selector struct {
	self    string
	members iMembers
	local   iLiveState
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	vetoed map[string]time.Time
}

func NewSelector(self string, members iMembers, local iLiveState, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		self:    self,
		members: members,
		local:   local,
		logger:  logger,
		now:     time.Now,
		vetoed:  make(map[string]time.Time),
	}
}

// Veto excludes addr from selection for d.
func (s *Selector) Veto(addr string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vetoed[addr] = s.now().Add(d)
	s.logger.Info("sync source vetoed", "addr", addr, "for", d)
}

func (s *Selector) isVetoed(addr string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.vetoed[addr]
	if !ok {
		return false
	}
	if !now.Before(until) {
		delete(s.vetoed, addr)
		return false
	}
	return true
}

// SelectSyncSource returns the best eligible member. A member is eligible
// when it is not this node, not vetoed, not STARTUP, RECOVERING or ROLLBACK,
// and not behind the local oplog. Members with unknown state are eligible
// and ranked after every known one.
func (s *Selector) SelectSyncSource(ctx context.Context) (Member, error) {
	if err := ctx.Err(); err != nil {
		return Member{}, err
	}

	now := s.now()
	live := s.local.LiveState()

	var candidates []Member
	for _, m := range s.members.Members() {
		if m.Addr == "" || m.Addr == s.self || s.isVetoed(m.Addr, now) {
			continue
		}
		if m.Known {
			switch m.State {
			case replset.Startup, replset.Recovering, replset.Rollback:
				continue
			}
			if m.LastGTID.Less(live) {
				continue
			}
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return Member{}, dberrors.Newf(dberrors.ErrSourceUnavailable, "no eligible sync source at %s", live)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Known != b.Known {
			return a.Known
		}
		if c := types.Cmp(a.LastGTID, b.LastGTID); c != 0 {
			return c > 0
		}
		if (a.State == replset.Primary) != (b.State == replset.Primary) {
			return a.State == replset.Primary
		}
		return a.Addr < b.Addr
	})
	return candidates[0], nil
}
