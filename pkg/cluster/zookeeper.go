package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZKMembership registers the local node as an ephemeral znode carrying its
// member data and keeps a cache of all members fresh from child watches.
type ZKMembership struct {
	conn     *zk.Conn
	rootPath string
	local    string // node addr
	logger   *slog.Logger

	mu      sync.RWMutex
	members []Member
}

// servers: ["zk1:2181", "zk2:2181"]
func NewZKMembership(servers []string, rootPath, localAddr string, logger *slog.Logger) (*ZKMembership, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := zk.Connect(servers, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	return &ZKMembership{
		conn:     conn,
		rootPath: rootPath,
		local:    localAddr,
		logger:   logger.With("component", "zk"),
	}, nil
}

func (m *ZKMembership) Close() error {
	m.conn.Close()
	return nil
}

func (m *ZKMembership) nodesPath() string {
	return path.Join(m.rootPath, "nodes")
}

func (m *ZKMembership) nodePath(addr string) string {
	return path.Join(m.nodesPath(), addr)
}

func (m *ZKMembership) ensurePath(p string) error {
	cur := ""
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		cur = cur + "/" + part
		exists, _, err := m.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = m.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && !errors.Is(err, zk.ErrNodeExists) {
				return err
			}
		}
	}
	return nil
}

// RegisterSelf creates the ephemeral node of the local member.
func (m *ZKMembership) RegisterSelf(self Member) error {
	// ждём, пока клиент реально подключится к ZK
	if err := m.waitConnected(10 * time.Second); err != nil {
		return err
	}
	if err := m.ensurePath(m.nodesPath()); err != nil {
		return fmt.Errorf("ensure nodes path: %w", err)
	}

	data, err := encodeMember(self)
	if err != nil {
		return err
	}
	nodePath := m.nodePath(m.local)
	_, err = m.conn.Create(nodePath, data, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNodeExists) {
		_, err = m.conn.Set(nodePath, data, -1)
	}
	if err != nil {
		return fmt.Errorf("create ephemeral node: %w", err)
	}

	m.logger.Info("registered node", "path", nodePath)
	return nil
}

// Publish replaces the local member's data.
func (m *ZKMembership) Publish(self Member) error {
	data, err := encodeMember(self)
	if err != nil {
		return err
	}
	if _, err := m.conn.Set(m.nodePath(m.local), data, -1); err != nil {
		return fmt.Errorf("zk publish: %w", err)
	}
	return nil
}

// Members returns the last observed member set.
func (m *ZKMembership) Members() []Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Member, len(m.members))
	copy(out, m.members)
	return out
}

func (m *ZKMembership) readMembers(children []string) []Member {
	members := make([]Member, 0, len(children))
	for _, child := range children {
		data, _, err := m.conn.Get(m.nodePath(child))
		if err != nil {
			// node went away between Children and Get
			if !errors.Is(err, zk.ErrNoNode) {
				m.logger.Warn("read member node", "node", child, "error", err)
			}
			continue
		}
		member, err := decodeMember(child, data)
		if err != nil {
			m.logger.Warn("bad member data", "node", child, "error", err)
		}
		members = append(members, member)
	}
	return members
}

// RunWatch keeps the member cache fresh until ctx is done. Member data
// changes are picked up on the next child event or every refresh interval.
func (m *ZKMembership) RunWatch(ctx context.Context, refresh time.Duration) error {
	if refresh <= 0 {
		refresh = 5 * time.Second
	}
	for {
		children, _, ch, err := m.conn.ChildrenW(m.nodesPath())
		if err != nil {
			m.logger.Warn("ChildrenW failed", "error", err)
			select {
			case <-time.After(2 * time.Second):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		members := m.readMembers(children)
		m.mu.Lock()
		m.members = members
		m.mu.Unlock()

		select {
		case ev := <-ch:
			m.logger.Debug("membership event", "type", ev.Type, "path", ev.Path)
		case <-time.After(refresh):
		case <-ctx.Done():
			m.logger.Info("watch stopped")
			return nil
		}
	}
}

func (m *ZKMembership) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := m.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
