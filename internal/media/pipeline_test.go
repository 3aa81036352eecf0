package media

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPipelineRunsJobs(t *testing.T) {
	pipeline := NewPipeline(PipelineConfig{Workers: 2, QueueSize: 8})
	pipeline.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := pipeline.Shutdown(ctx); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		id := string(rune('a' + i))
		if !pipeline.Enqueue(id, func(context.Context) {
			ran.Add(1)
			wg.Done()
		}) {
			t.Fatalf("Enqueue rejected job %s", id)
		}
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatalf("jobs did not run, completed %d", ran.Load())
	}
	if ran.Load() != 5 {
		t.Fatalf("expected 5 jobs, ran %d", ran.Load())
	}
}

func TestPipelineRecoversFromPanics(t *testing.T) {
	pipeline := NewPipeline(PipelineConfig{Workers: 1})
	pipeline.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pipeline.Shutdown(ctx)
	}()

	pipeline.Enqueue("boom", func(context.Context) { panic("job exploded") })

	done := make(chan struct{})
	pipeline.Enqueue("after", func(context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker died after a panicking job")
	}
}

func TestPipelineShutdownStopsAcceptingWork(t *testing.T) {
	pipeline := NewPipeline(PipelineConfig{Workers: 1})
	pipeline.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pipeline.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if pipeline.Enqueue("late", func(context.Context) {}) {
		t.Fatalf("Enqueue must reject work after shutdown")
	}
}
