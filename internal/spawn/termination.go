package spawn

import (
	"github.com/google/uuid"

	"github.com/sysg-dev/sysg/internal/config"
)

// Terminate tears down node according to policy and returns the node IDs
// that were removed from the forest (for audit/metrics reporting). signal
// is invoked once per pid that should receive SIGTERM as part of the
// teardown; it is the caller's supervisor-level signaling primitive
// (ProcessHandle.Signal), kept as an injected func so this package has no
// dependency on internal/supervisor.
func Terminate(forest *Forest, node *Node, policy config.TerminationPolicy, signal func(pid int) error) ([]uuid.UUID, error) {
	switch policy {
	case config.TerminationOrphan:
		return terminateOrphan(forest, node, signal)
	case config.TerminationReparent:
		return terminateReparent(forest, node, signal)
	default:
		return terminateCascade(forest, node, signal)
	}
}

// terminateCascade signals and removes node and every descendant.
func terminateCascade(forest *Forest, node *Node, signal func(pid int) error) ([]uuid.UUID, error) {
	descendants := forest.Descendants(node.ID)
	removed := make([]uuid.UUID, 0, len(descendants)+1)

	// Children before parents, so a child never outlives the PID it was
	// authorized against.
	for i := len(descendants) - 1; i >= 0; i-- {
		d := descendants[i]
		if err := signal(d.Pid); err != nil {
			return removed, err
		}
		if err := forest.Remove(d.ID); err != nil {
			return removed, err
		}
		removed = append(removed, d.ID)
	}

	if err := signal(node.Pid); err != nil {
		return removed, err
	}
	if err := forest.Remove(node.ID); err != nil {
		return removed, err
	}
	removed = append(removed, node.ID)
	return removed, nil
}

// terminateOrphan signals only node, promotes its children to roots, and
// leaves them running unmanaged — no longer authorized, counted, or
// tracked by any limit.
func terminateOrphan(forest *Forest, node *Node, signal func(pid int) error) ([]uuid.UUID, error) {
	forest.Reparent(node.ID, uuid.Nil)
	if err := signal(node.Pid); err != nil {
		return nil, err
	}
	if err := forest.Remove(node.ID); err != nil {
		return nil, err
	}
	return []uuid.UUID{node.ID}, nil
}

// terminateReparent signals only node and promotes its children to its
// own parent, keeping them inside the same authorized tree (and subject
// to the same descendant/depth limits) rather than setting them free.
func terminateReparent(forest *Forest, node *Node, signal func(pid int) error) ([]uuid.UUID, error) {
	forest.Reparent(node.ID, node.ParentID)
	if err := signal(node.Pid); err != nil {
		return nil, err
	}
	if err := forest.Remove(node.ID); err != nil {
		return nil, err
	}
	return []uuid.UUID{node.ID}, nil
}
