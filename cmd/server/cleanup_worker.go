package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type mediaSweeper interface {
	CleanupExpired(ctx context.Context) (int, int)
}

type sweepTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) sweepTicker

// startMediaCleanupWorker sweeps expired temp videos and orphaned HLS
// sessions, once at startup and then on every tick. The returned function
// stops the worker and waits for it to exit.
func startMediaCleanupWorker(ctx context.Context, logger *slog.Logger, sweeper mediaSweeper, interval time.Duration) func() {
	return startMediaCleanupWorkerWithTicker(ctx, logger, sweeper, interval, func(d time.Duration) sweepTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startMediaCleanupWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	sweeper mediaSweeper,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if sweeper == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		sweep(workerCtx, logger, sweeper)
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				sweep(workerCtx, logger, sweeper)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func sweep(ctx context.Context, logger *slog.Logger, sweeper mediaSweeper) {
	temp, sessions := sweeper.CleanupExpired(ctx)
	if logger != nil && (temp > 0 || sessions > 0) {
		logger.Info("removed expired media state", "temp_videos", temp, "sessions", sessions)
	}
}
