package supervisor

import (
	"time"

	"github.com/sysg-dev/sysg/internal/config"
)

// RestartPolicy decides whether an exited service relaunches and after
// how long. Unlike the teacher's exponential-backoff policies, the
// backoff here is fixed: spec.md §8 scenario 6 requires a constant
// 10ms delay across every restart attempt, not a growing one.
type RestartPolicy interface {
	ShouldRestart(exitCode int, restartCount int) bool
	Backoff() time.Duration
}

type alwaysPolicy struct {
	maxRestarts int
	backoff     time.Duration
}

func (p alwaysPolicy) ShouldRestart(_ int, restartCount int) bool {
	if p.maxRestarts <= 0 {
		return true
	}
	return restartCount < p.maxRestarts
}
func (p alwaysPolicy) Backoff() time.Duration { return p.backoff }

type onFailurePolicy struct {
	maxRestarts int
	backoff     time.Duration
}

func (p onFailurePolicy) ShouldRestart(exitCode int, restartCount int) bool {
	if exitCode == 0 {
		return false
	}
	if p.maxRestarts <= 0 {
		return true
	}
	return restartCount < p.maxRestarts
}
func (p onFailurePolicy) Backoff() time.Duration { return p.backoff }

type neverPolicy struct{}

func (neverPolicy) ShouldRestart(int, int) bool  { return false }
func (neverPolicy) Backoff() time.Duration       { return 0 }

// NewRestartPolicy builds the RestartPolicy a ServiceSpec declares.
func NewRestartPolicy(spec *config.ServiceSpec) RestartPolicy {
	switch spec.Restart {
	case config.RestartAlways:
		return alwaysPolicy{maxRestarts: spec.MaxRestarts, backoff: spec.Backoff}
	case config.RestartOnFailure:
		return onFailurePolicy{maxRestarts: spec.MaxRestarts, backoff: spec.Backoff}
	default:
		return neverPolicy{}
	}
}
