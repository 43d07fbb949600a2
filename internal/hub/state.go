package hub

import (
	"fmt"
	"sort"
	"time"

	"github.com/danmuck/nodehub/internal/observability"
)

// State is the dispatcher-owned view of every live connection. Use it only
// from the dispatcher goroutine: inside a LocalHandler or a TaskEvent.
type State struct {
	registry     *Registry
	unregistered map[*Conn]struct{}
}

func newState() *State {
	return &State{
		registry:     NewRegistry(),
		unregistered: make(map[*Conn]struct{}),
	}
}

func (s *State) Registry() *Registry {
	return s.registry
}

func (s *State) Lookup(id uint32) (*Conn, error) {
	return s.registry.Lookup(id)
}

// Tracked reports whether c is still owned by the hub.
func (s *State) Tracked(c *Conn) bool {
	if _, ok := s.unregistered[c]; ok {
		return true
	}
	if !c.registered {
		return false
	}
	held, err := s.registry.Lookup(c.id)
	return err == nil && held == c
}

func (s *State) addUnregistered(c *Conn) {
	s.unregistered[c] = struct{}{}
	observability.RecordConnectionOpened()
}

// Register assigns c the lowest free id and moves it into the registry.
func (s *State) Register(c *Conn, info NodeInfo) (uint32, error) {
	if c.registered {
		return c.id, fmt.Errorf("%w: id=%d", ErrAlreadyRegistered, c.id)
	}
	if _, ok := s.unregistered[c]; !ok {
		return 0, ErrUnknownConnection
	}
	id, err := s.registry.AllocateID()
	if err != nil {
		return 0, err
	}
	c.id = id
	c.info = info
	if err := s.registry.Add(c); err != nil {
		c.id = 0
		c.info = NodeInfo{}
		return 0, err
	}
	c.registered = true
	delete(s.unregistered, c)
	observability.SetNodesRegistered(s.registry.Len())
	return id, nil
}

// remove forgets c and reports whether it was tracked.
func (s *State) remove(c *Conn) bool {
	if _, ok := s.unregistered[c]; ok {
		delete(s.unregistered, c)
		observability.RecordConnectionClosed()
		return true
	}
	if c.registered && s.registry.Remove(c) {
		observability.RecordConnectionClosed()
		observability.SetNodesRegistered(s.registry.Len())
		return true
	}
	return false
}

// all returns every tracked connection, registered ones first by id.
func (s *State) all() []*Conn {
	out := s.registry.Nodes()
	rest := make([]*Conn, 0, len(s.unregistered))
	for c := range s.unregistered {
		rest = append(rest, c)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].connectedAt.Before(rest[j].connectedAt) })
	return append(out, rest...)
}

// NodeSnapshot is a copy of one connection's public state.
type NodeSnapshot struct {
	NodeID        uint32    `json:"node_id"`
	Registered    bool      `json:"registered"`
	Name          string    `json:"name,omitempty"`
	NodeType      string    `json:"node_type,omitempty"`
	Description   string    `json:"description,omitempty"`
	IP            string    `json:"ip"`
	Session       string    `json:"session"`
	ConnectedAt   time.Time `json:"connected_at"`
	HasCapability bool      `json:"has_capability"`
}

// Snapshot is a point-in-time copy of hub state, safe to use off the
// dispatcher goroutine.
type Snapshot struct {
	Nodes        []NodeSnapshot `json:"nodes"`
	Unregistered []NodeSnapshot `json:"unregistered"`
}

func snapshotConn(c *Conn) NodeSnapshot {
	return NodeSnapshot{
		NodeID:        c.id,
		Registered:    c.registered,
		Name:          c.info.Name,
		NodeType:      c.info.NodeType,
		Description:   c.info.Description,
		IP:            c.ip,
		Session:       c.session,
		ConnectedAt:   c.connectedAt,
		HasCapability: len(c.info.Capability) > 0,
	}
}

func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Nodes:        make([]NodeSnapshot, 0, s.registry.Len()),
		Unregistered: make([]NodeSnapshot, 0, len(s.unregistered)),
	}
	for _, c := range s.all() {
		if c.registered {
			snap.Nodes = append(snap.Nodes, snapshotConn(c))
		} else {
			snap.Unregistered = append(snap.Unregistered, snapshotConn(c))
		}
	}
	return snap
}

// Capability returns a copy of node id's capability document.
func (s *State) Capability(id uint32) ([]byte, error) {
	c, err := s.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), c.info.Capability...), nil
}
