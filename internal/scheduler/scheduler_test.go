package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	mu      sync.Mutex
	pending []string
	runs    []string
	runErr  error
	ticks   int
}

func (f *fakeRunner) PendingJobIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	if f.ticks > 1 {
		return nil, nil
	}
	return f.pending, nil
}

func (f *fakeRunner) RunJob(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, jobID)
	return f.runErr
}

func (f *fakeRunner) ranJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.runs...)
}

func (f *fakeRunner) tickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks
}

func TestRunTicksImmediatelyAndDispatchesInOrder(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{pending: []string{"job-1", "job-2", "job-3"}}
	sched := New(runner, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(runner.ranJobs()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	require.Equal(t, []string{"job-1", "job-2", "job-3"}, runner.ranJobs())
	require.Equal(t, 1, runner.tickCount(), "the hour-long interval never fired")
}

func TestRunSwallowsRunnerErrors(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{pending: []string{"job-1", "job-2"}, runErr: errors.New("connector down")}
	sched := New(runner, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(runner.ranJobs()) == 2
	}, 2*time.Second, 10*time.Millisecond, "a failing job does not stop later jobs")
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunPollsOnInterval(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	sched := New(runner, 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	require.Eventually(t, func() bool {
		return runner.tickCount() >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
