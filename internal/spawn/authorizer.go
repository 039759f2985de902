package spawn

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sysg-dev/sysg/internal/config"
)

// spawnRateLimit bounds how many authorizations a single parent may be
// granted per second. A continuously-refilling token bucket, not a
// fixed calendar-second window, per the Open Question decision recorded
// in DESIGN.md — a burst straddling a window boundary should not double
// the effective rate.
const (
	spawnRateLimit = 10.0 // tokens/sec
	spawnBurst     = 10.0 // bucket capacity
)

// tokenBucket is a minimal continuously-refilling rate limiter, adapted
// from the teacher's per-remote-IP limiter in its (now-removed) HTTP API
// server to per-spawn-parent limiting here.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	max        float64
	refillRate float64 // tokens/sec
	last       time.Time
}

func newTokenBucket(max, refillRate float64) *tokenBucket {
	return &tokenBucket{tokens: max, max: max, refillRate: refillRate, last: time.Now()}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.max {
		b.tokens = b.max
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Authorizer enforces spec.md §4.8's depth/fanout/descendant/rate checks
// against a Forest before a spawn is allowed to proceed.
type Authorizer struct {
	Forest *Forest

	mu      sync.Mutex
	buckets map[uuid.UUID]*tokenBucket
}

// NewAuthorizer creates an Authorizer over forest.
func NewAuthorizer(forest *Forest) *Authorizer {
	return &Authorizer{Forest: forest, buckets: make(map[uuid.UUID]*tokenBucket)}
}

// Authorize checks whether parent may spawn one more child under limits.
// It does not mutate the forest; callers add the node only after a
// successful launch.
func (a *Authorizer) Authorize(parentID uuid.UUID, limits config.SpawnLimits) error {
	depth := a.Forest.Depth(parentID) + 1
	if limits.MaxDepth > 0 && depth > limits.MaxDepth {
		return fmt.Errorf("spawn depth %d exceeds max_depth %d", depth, limits.MaxDepth)
	}

	if limits.MaxChildren > 0 {
		if n := len(a.Forest.Children(parentID)); n >= limits.MaxChildren {
			return fmt.Errorf("parent already has %d children, max_children is %d", n, limits.MaxChildren)
		}
	}

	if limits.MaxDescendants > 0 {
		root := a.rootOf(parentID)
		if n := len(a.Forest.Descendants(root)); n >= limits.MaxDescendants {
			return fmt.Errorf("tree already has %d descendants, max_descendants is %d", n, limits.MaxDescendants)
		}
	}

	if !a.bucketFor(parentID).allow() {
		return fmt.Errorf("spawn rate limit exceeded for parent")
	}

	return nil
}

// rootOf walks up to the topmost ancestor of id, so descendant limits
// are enforced against the whole tree rather than per-subtree.
func (a *Authorizer) rootOf(id uuid.UUID) uuid.UUID {
	for {
		n, ok := a.Forest.Get(id)
		if !ok || n.ParentID == uuid.Nil {
			return id
		}
		id = n.ParentID
	}
}

func (a *Authorizer) bucketFor(parentID uuid.UUID) *tokenBucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buckets[parentID]
	if !ok {
		b = newTokenBucket(spawnBurst, spawnRateLimit)
		a.buckets[parentID] = b
	}
	return b
}
