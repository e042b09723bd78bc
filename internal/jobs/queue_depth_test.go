package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/school-registry/registro/internal/telemetry"
)

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
	calls  int
}

func (f *fakeCounter) Counts(context.Context) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]int64, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out, nil
}

func (f *fakeCounter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func depth(queue string) float64 {
	return testutil.ToFloat64(telemetry.QueueDepth.WithLabelValues(queue))
}

func TestQueueDepthReporter_Sample(t *testing.T) {
	store := &fakeCounter{counts: map[string]int64{"jobs-test-a": 4, "jobs-test-x": 2}}
	r := NewQueueDepthReporter(store, []string{"jobs-test-a", "jobs-test-b"}, time.Minute)

	r.Sample(context.Background())
	if got := depth("jobs-test-a"); got != 4 {
		t.Errorf("jobs-test-a = %v, want 4", got)
	}
	if got := depth("jobs-test-b"); got != 0 {
		t.Errorf("jobs-test-b = %v, want 0", got)
	}
	if got := depth("jobs-test-x"); got != 2 {
		t.Errorf("jobs-test-x = %v, want 2", got)
	}

	// a queue that drained is reported as empty, not left at its last value
	store.counts = map[string]int64{"jobs-test-a": 1}
	r.Sample(context.Background())
	if got := depth("jobs-test-x"); got != 0 {
		t.Errorf("jobs-test-x after drain = %v, want 0", got)
	}
	if got := depth("jobs-test-a"); got != 1 {
		t.Errorf("jobs-test-a = %v, want 1", got)
	}
}

func TestQueueDepthReporter_ErrorKeepsLastValue(t *testing.T) {
	store := &fakeCounter{counts: map[string]int64{"jobs-test-err": 3}}
	r := NewQueueDepthReporter(store, nil, time.Minute)
	r.Sample(context.Background())

	store.err = errors.New("db down")
	r.Sample(context.Background())
	if got := depth("jobs-test-err"); got != 3 {
		t.Errorf("jobs-test-err = %v, want 3", got)
	}
}

func TestQueueDepthReporter_StartAndStop(t *testing.T) {
	store := &fakeCounter{counts: map[string]int64{}}
	r := NewQueueDepthReporter(store, nil, 0)
	if r.interval != 30*time.Second {
		t.Errorf("default interval = %v", r.interval)
	}

	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("reporter did not sample on start")
		case <-time.After(5 * time.Millisecond):
		}
	}
	r.Stop()
	r.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop")
	}
}

func TestQueueDepthReporter_ContextCancel(t *testing.T) {
	r := NewQueueDepthReporter(&fakeCounter{}, nil, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reporter ignored context cancellation")
	}
}
