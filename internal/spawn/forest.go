// Package spawn tracks and authorizes services that start other services
// at runtime (dynamic spawn, spec.md §4.8) rather than being declared
// statically in config. A Forest records the resulting process tree;
// an Authorizer enforces depth/fanout/descendant/rate limits against it;
// termination applies Cascade/Orphan/Reparent policy to a subtree.
package spawn

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Node is one spawned service instance. Identity is a minted UUID, not
// the OS pid, because pids are recycled and a node must remain
// addressable across its own process's lifetime (spec.md §4.8 design
// note: "stable identity independent of pid reuse").
type Node struct {
	ID        uuid.UUID
	ParentID  uuid.UUID // uuid.Nil for a root (statically declared) service
	Name      string
	Pid       int
	SpawnedAt time.Time
}

var ErrNodeNotFound = errors.New("spawn node not found")

// Forest is the set of all spawn trees rooted at the daemon's statically
// declared services. Adapted from internal/depgraph's adjacency-list
// pattern, generalized from a static DAG to a tree that grows and shrinks
// at runtime under a single lock.
type Forest struct {
	mu       sync.RWMutex
	nodes    map[uuid.UUID]*Node
	children map[uuid.UUID][]uuid.UUID
}

// NewForest creates an empty forest.
func NewForest() *Forest {
	return &Forest{
		nodes:    make(map[uuid.UUID]*Node),
		children: make(map[uuid.UUID][]uuid.UUID),
	}
}

// Add registers a new spawned node under parentID. Statically declared
// services with spawn_mode=dynamic register themselves as roots
// (parentID=uuid.Nil) once at launch, so every later Authorize call has
// an ancestor chain to walk.
func (f *Forest) Add(parentID uuid.UUID, name string, pid int) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := &Node{
		ID:        uuid.New(),
		ParentID:  parentID,
		Name:      name,
		Pid:       pid,
		SpawnedAt: time.Now(),
	}
	f.nodes[n.ID] = n
	f.children[parentID] = append(f.children[parentID], n.ID)
	return n
}

// Get looks up a node by ID.
func (f *Forest) Get(id uuid.UUID) (*Node, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.nodes[id]
	return n, ok
}

// FindByPid returns the node whose OS pid is pid, if any. Used by the
// spawn authorizer to walk a requester's ancestor pids looking for the
// nearest registered dynamic-mode process (spec.md §4.8 step 1).
func (f *Forest) FindByPid(pid int) (*Node, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, n := range f.nodes {
		if n.Pid == pid {
			return n, true
		}
	}
	return nil, false
}

// SetPid updates id's OS pid once its process has actually been
// launched. Root nodes are registered with Pid 0 at service-start time,
// before the launcher hands back a pid.
func (f *Forest) SetPid(id uuid.UUID, pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.nodes[id]; ok {
		n.Pid = pid
	}
}

// Depth returns the number of ancestors id has (0 for a root node).
func (f *Forest) Depth(id uuid.UUID) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.depthLocked(id)
}

func (f *Forest) depthLocked(id uuid.UUID) int {
	depth := 0
	for {
		n, ok := f.nodes[id]
		if !ok || n.ParentID == uuid.Nil {
			return depth
		}
		depth++
		id = n.ParentID
	}
}

// Children returns id's direct children.
func (f *Forest) Children(id uuid.UUID) []*Node {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.childrenLocked(id)
}

func (f *Forest) childrenLocked(id uuid.UUID) []*Node {
	ids := f.children[id]
	out := make([]*Node, 0, len(ids))
	for _, cid := range ids {
		if n, ok := f.nodes[cid]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Descendants returns every node transitively spawned by id, not
// including id itself.
func (f *Forest) Descendants(id uuid.UUID) []*Node {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.descendantsLocked(id)
}

func (f *Forest) descendantsLocked(id uuid.UUID) []*Node {
	var out []*Node
	queue := append([]uuid.UUID(nil), f.children[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, ok := f.nodes[cur]
		if !ok {
			continue
		}
		out = append(out, n)
		queue = append(queue, f.children[cur]...)
	}
	return out
}

// Remove deletes id from the forest. It does not touch id's children —
// callers decide how to dispose of them via the termination policy
// before calling Remove.
func (f *Forest) Remove(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	delete(f.nodes, id)
	delete(f.children, id)

	siblings := f.children[n.ParentID]
	for i, sid := range siblings {
		if sid == id {
			f.children[n.ParentID] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	return nil
}

// Reparent moves id's children to newParent (uuid.Nil to make them
// roots). Used by the Reparent and Orphan termination policies.
func (f *Forest) Reparent(id, newParent uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, cid := range f.children[id] {
		if child, ok := f.nodes[cid]; ok {
			child.ParentID = newParent
		}
	}
	f.children[newParent] = append(f.children[newParent], f.children[id]...)
	delete(f.children, id)
}
