package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/sysg-dev/sysg/internal/config"
)

func TestRunExecutesCommand(t *testing.T) {
	r := &Runner{}
	hook := config.Hook{Command: []string{"true"}}
	r.Run(context.Background(), "web", config.StageStart, config.OutcomeSuccess, hook)
}

func TestRunRetriesOnFailure(t *testing.T) {
	r := &Runner{}
	hook := config.Hook{Command: []string{"false"}, Retry: 2, RetryDelay: time.Millisecond}
	// Failure is logged, never returned or panicked on.
	r.Run(context.Background(), "web", config.StageStop, config.OutcomeError, hook)
}

func TestRunContinueOnErrorSuppressesFailure(t *testing.T) {
	r := &Runner{}
	hook := config.Hook{Command: []string{"false"}, ContinueOnError: true}
	r.Run(context.Background(), "web", config.StageStop, config.OutcomeError, hook)
}

func TestRunTimesOutAndKills(t *testing.T) {
	r := &Runner{}
	hook := config.Hook{Command: []string{"sleep", "5"}, Timeout: 50 * time.Millisecond}

	start := time.Now()
	r.Run(context.Background(), "web", config.StageStart, config.OutcomeSuccess, hook)
	if time.Since(start) > 2*time.Second {
		t.Fatalf("hook was not killed on timeout, took %v", time.Since(start))
	}
}

func TestRunNoopOnEmptyCommand(t *testing.T) {
	r := &Runner{}
	r.Run(context.Background(), "web", config.StageStart, config.OutcomeSuccess, config.Hook{})
}
