package httpserver

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type countFunc func(ctx context.Context) (int, error)

func (f countFunc) Count(ctx context.Context) (int, error) { return f(ctx) }

func TestStatsReporterRunsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	src := countFunc(func(context.Context) (int, error) {
		calls.Add(1)
		return 3, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	StartStatsReporter(ctx, src, 10*time.Millisecond, zerolog.Nop())

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	time.Sleep(30 * time.Millisecond)
	stopped := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}

func TestStatsReporterDoesNotBlockStartup(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	src := countFunc(func(ctx context.Context) (int, error) {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return 1, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	returned := make(chan struct{})
	go func() {
		StartStatsReporter(ctx, src, time.Hour, zerolog.Nop())
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatalf("StartStatsReporter blocked on a slow backend")
	}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
}

func TestStatsReporterSurvivesErrors(t *testing.T) {
	var calls atomic.Int32
	src := countFunc(func(context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("backend down")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartStatsReporter(ctx, src, 5*time.Millisecond, zerolog.Nop())
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}
