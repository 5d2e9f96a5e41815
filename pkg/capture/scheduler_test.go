package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pepperlab/emofuse/pkg/emotion"
)

// fakeService records ingested detections and serves a scripted gate.
type fakeService struct {
	mu        sync.Mutex
	available bool
	availErr  error
	ingested  []emotion.Detection
	checks    int
}

func (f *fakeService) Available(ctx context.Context, room string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.available, f.availErr
}

func (f *fakeService) Ingest(ctx context.Context, det emotion.Detection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, det)
	return nil
}

func (f *fakeService) detections() []emotion.Detection {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emotion.Detection, len(f.ingested))
	copy(out, f.ingested)
	return out
}

// fakeStrategy drives the loop with canned cycle results.
type fakeStrategy struct {
	mu     sync.Mutex
	cycles int
	det    *emotion.Detection
	err    error
	pause  time.Duration
}

func (f *fakeStrategy) cycle(ctx context.Context) (*emotion.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles++
	return f.det, f.err
}

func (f *fakeStrategy) interval() time.Duration { return f.pause }

func (f *fakeStrategy) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycles
}

func runFor(t *testing.T, s *Scheduler, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d + time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}
}

func TestSchedulerIngestsDetections(t *testing.T) {
	svc := &fakeService{available: true}
	det := emotion.NewDetection("r1", emotion.Face, "happy", 0.8)
	strat := &fakeStrategy{det: &det, pause: 5 * time.Millisecond}
	s := newScheduler(svc, "r1", emotion.Face, strat, time.Millisecond, nil)

	runFor(t, s, 60*time.Millisecond)

	got := svc.detections()
	if len(got) == 0 {
		t.Fatal("expected ingested detections")
	}
	if got[0].Label != emotion.Happy {
		t.Errorf("ingested label = %q, want happy", got[0].Label)
	}
}

func TestSchedulerSkipsWhenActuatorBusy(t *testing.T) {
	svc := &fakeService{available: false}
	strat := &fakeStrategy{pause: time.Millisecond}
	s := newScheduler(svc, "r1", emotion.Face, strat, time.Millisecond, nil)

	runFor(t, s, 40*time.Millisecond)

	if strat.count() != 0 {
		t.Errorf("no cycle may run while the actuator is busy, got %d", strat.count())
	}
	if len(svc.detections()) != 0 {
		t.Errorf("nothing should be ingested while busy, got %d", len(svc.detections()))
	}
	if svc.checks == 0 {
		t.Error("expected the gate to be polled")
	}
}

func TestSchedulerSkipsOnGateError(t *testing.T) {
	svc := &fakeService{availErr: errors.New("server unreachable")}
	strat := &fakeStrategy{pause: time.Millisecond}
	s := newScheduler(svc, "r1", emotion.Face, strat, time.Millisecond, nil)

	runFor(t, s, 40*time.Millisecond)

	if strat.count() != 0 {
		t.Errorf("cycles must not run when the gate cannot be checked, got %d", strat.count())
	}
}

func TestSchedulerFailureEmitsSyntheticNeutral(t *testing.T) {
	svc := &fakeService{available: true}
	strat := &fakeStrategy{err: errors.New("classifier down"), pause: time.Millisecond}
	s := newScheduler(svc, "r1", emotion.Speech, strat, time.Millisecond, nil)
	s.backoff = &Backoff{Base: time.Millisecond, Cap: 4 * time.Millisecond, MaxFailures: 8}

	runFor(t, s, 60*time.Millisecond)

	got := svc.detections()
	if len(got) == 0 {
		t.Fatal("expected synthetic detections while failing")
	}
	for _, d := range got {
		if d.Label != emotion.Neutral {
			t.Errorf("synthetic label = %q, want neutral", d.Label)
		}
		if d.Confidence != SyntheticConfidence {
			t.Errorf("synthetic confidence = %v, want %v", d.Confidence, SyntheticConfidence)
		}
		if d.Modality != emotion.Speech {
			t.Errorf("synthetic modality = %q, want speech", d.Modality)
		}
	}
	if s.backoff.Failures() < 2 {
		t.Errorf("expected consecutive failures to accumulate, got %d", s.backoff.Failures())
	}
}

func TestSchedulerSuccessResetsBackoff(t *testing.T) {
	svc := &fakeService{available: true}
	det := emotion.NewDetection("r1", emotion.Face, "happy", 0.8)
	strat := &fakeStrategy{err: errors.New("transient"), pause: time.Millisecond}
	s := newScheduler(svc, "r1", emotion.Face, strat, time.Millisecond, nil)
	s.backoff = &Backoff{Base: time.Millisecond, Cap: 2 * time.Millisecond, MaxFailures: 8}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Let failures accumulate, then recover.
	time.Sleep(20 * time.Millisecond)
	strat.mu.Lock()
	strat.err = nil
	strat.det = &det
	strat.mu.Unlock()
	time.Sleep(20 * time.Millisecond)

	cancel()
	<-done

	if s.backoff.Failures() != 0 {
		t.Errorf("successful cycle must reset backoff, failures = %d", s.backoff.Failures())
	}
}

func TestSchedulerNilDetectionSkipped(t *testing.T) {
	svc := &fakeService{available: true}
	strat := &fakeStrategy{pause: time.Millisecond}
	s := newScheduler(svc, "r1", emotion.Face, strat, time.Millisecond, nil)

	runFor(t, s, 30*time.Millisecond)

	if strat.count() == 0 {
		t.Error("expected cycles to run")
	}
	if len(svc.detections()) != 0 {
		t.Errorf("nil cycle results must not be ingested, got %d", len(svc.detections()))
	}
}

func TestSchedulerStopsCleanly(t *testing.T) {
	svc := &fakeService{available: true}
	strat := &fakeStrategy{pause: time.Millisecond}
	s := newScheduler(svc, "r1", emotion.Face, strat, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not return after cancellation")
	}
}

func TestSleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleep(ctx, time.Second) {
		t.Error("sleep must report false on a cancelled context")
	}
	if !sleep(context.Background(), time.Millisecond) {
		t.Error("sleep must report true after the delay elapses")
	}
}
