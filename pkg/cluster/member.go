package cluster

import (
	"encoding/json"
	"fmt"
	"strings"

	"pitrdb/pkg/replset"
	"pitrdb/pkg/types"
)

// Member is a replica set member as seen through membership.
//
// Known is false for members whose state was never reported (static peers);
// their State and LastGTID are meaningless.
type Member struct {
	Addr     string              `json:"addr"`
	State    replset.MemberState `json:"state"`
	LastGTID types.GTID          `json:"last_gtid"`
	Known    bool                `json:"-"`
}

func (m Member) String() string {
	if !m.Known {
		return m.Addr + "(unknown)"
	}
	return fmt.Sprintf("%s(%s@%s)", m.Addr, m.State, m.LastGTID)
}

func encodeMember(m Member) ([]byte, error) {
	return json.Marshal(m)
}

// decodeMember parses member node data. Nodes created without data (older
// nodes, or a register racing a publish) are members with unknown state.
func decodeMember(addr string, data []byte) (Member, error) {
	m := Member{Addr: addr}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Member{Addr: addr}, fmt.Errorf("decode member %s: %w", addr, err)
	}
	m.Addr = addr
	m.Known = true
	return m, nil
}

// StaticMembership is a fixed peer list from configuration.
type StaticMembership struct {
	members []Member
}

func NewStaticMembership(peers []string) *StaticMembership {
	s := &StaticMembership{}
	for _, p := range peers {
		p = strings.TrimSpace(p)
		if p != "" {
			s.members = append(s.members, Member{Addr: p})
		}
	}
	return s
}

// ParsePeers splits "node1:8080,node2:8080" into addresses.
func ParsePeers(raw string) []string {
	var peers []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

func (s *StaticMembership) Members() []Member {
	out := make([]Member, len(s.members))
	copy(out, s.members)
	return out
}
