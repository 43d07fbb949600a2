package hub

import (
	"fmt"
	"math"
	"sort"
)

// Registry maps node ids to registered connections. Ids start at 1; 0 is the
// hub. Not safe for concurrent use: only the dispatcher touches it.
type Registry struct {
	nodes map[uint32]*Conn
}

func NewRegistry() *Registry {
	return &Registry{nodes: make(map[uint32]*Conn)}
}

// AllocateID returns the lowest id >= 1 not currently held, so ids freed by a
// disconnect are handed out again.
func (r *Registry) AllocateID() (uint32, error) {
	for id := uint32(1); ; id++ {
		if _, used := r.nodes[id]; !used {
			return id, nil
		}
		if id == math.MaxUint32 {
			return 0, ErrIDSpaceExhausted
		}
	}
}

// Add records c under its id.
func (r *Registry) Add(c *Conn) error {
	if c.id == 0 {
		return fmt.Errorf("hub: registry add without id (%s)", c.session)
	}
	if held, ok := r.nodes[c.id]; ok && held != c {
		return fmt.Errorf("hub: node id %d already held by %s", c.id, held.session)
	}
	r.nodes[c.id] = c
	return nil
}

// Remove drops c if it still owns its id.
func (r *Registry) Remove(c *Conn) bool {
	held, ok := r.nodes[c.id]
	if !ok || held != c {
		return false
	}
	delete(r.nodes, c.id)
	return true
}

func (r *Registry) Lookup(id uint32) (*Conn, error) {
	c, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: id=%d", ErrNodeNotFound, id)
	}
	return c, nil
}

func (r *Registry) Len() int {
	return len(r.nodes)
}

// Nodes returns the registered connections ordered by id.
func (r *Registry) Nodes() []*Conn {
	out := make([]*Conn, 0, len(r.nodes))
	for _, c := range r.nodes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
