package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct {
	calls atomic.Int64
}

func (s *countingSweeper) CleanupExpired(context.Context) (int, int) {
	s.calls.Add(1)
	return 0, 0
}

type manualTicker struct {
	ch chan time.Time
}

func (t manualTicker) C() <-chan time.Time { return t.ch }
func (t manualTicker) Stop()               {}

func TestCleanupWorkerSweepsOnStartAndTick(t *testing.T) {
	sweeper := &countingSweeper{}
	ticker := manualTicker{ch: make(chan time.Time)}

	stop := startMediaCleanupWorkerWithTicker(context.Background(), nil, sweeper, time.Minute,
		func(time.Duration) sweepTicker { return ticker })
	defer stop()

	waitForCalls(t, sweeper, 1)
	ticker.ch <- time.Now()
	waitForCalls(t, sweeper, 2)
	ticker.ch <- time.Now()
	waitForCalls(t, sweeper, 3)
}

func TestCleanupWorkerStopsOnCancel(t *testing.T) {
	sweeper := &countingSweeper{}
	ticker := manualTicker{ch: make(chan time.Time)}
	ctx, cancel := context.WithCancel(context.Background())

	stop := startMediaCleanupWorkerWithTicker(ctx, nil, sweeper, time.Minute,
		func(time.Duration) sweepTicker { return ticker })
	waitForCalls(t, sweeper, 1)

	cancel()
	stop()

	before := sweeper.calls.Load()
	select {
	case ticker.ch <- time.Now():
		t.Fatal("worker still consuming ticks after stop")
	default:
	}
	if sweeper.calls.Load() != before {
		t.Fatal("sweep ran after stop")
	}
}

func TestCleanupWorkerDisabledWithoutInterval(t *testing.T) {
	sweeper := &countingSweeper{}
	stop := startMediaCleanupWorker(context.Background(), nil, sweeper, 0)
	stop()
	if sweeper.calls.Load() != 0 {
		t.Fatal("disabled worker still swept")
	}
}

func waitForCalls(t *testing.T, sweeper *countingSweeper, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for sweeper.calls.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d sweeps, have %d", want, sweeper.calls.Load())
		}
		time.Sleep(2 * time.Millisecond)
	}
}
