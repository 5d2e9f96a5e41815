package fusion

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pepperlab/emofuse/pkg/buffer"
	"github.com/pepperlab/emofuse/pkg/emotion"
	"github.com/pepperlab/emofuse/pkg/gate"
)

const room = "test-room"

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu       sync.Mutex
	fused    []*Result
	rejected []*Result
}

func (p *recordingPublisher) PublishFusion(res *Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fused = append(p.fused, res)
}

func (p *recordingPublisher) PublishRejected(res *Result, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected = append(p.rejected, res)
}

func setup(t *testing.T, opts ...Option) (*Engine, *buffer.Memory, *gate.Gate, *recordingPublisher) {
	t.Helper()
	store := buffer.NewMemory()
	g := gate.New()
	pub := &recordingPublisher{}
	return New(store, g, pub, opts...), store, g, pub
}

func ingest(t *testing.T, store *buffer.Memory, mod emotion.Modality, label emotion.Label, conf float64) {
	t.Helper()
	err := store.Ingest(emotion.Detection{
		Room:       room,
		Modality:   mod,
		Label:      label,
		Confidence: conf,
		Timestamp:  time.Now(),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

func approx(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConsensus(t *testing.T) {
	e, store, g, pub := setup(t)
	ingest(t, store, emotion.Face, emotion.Happy, 0.8)
	ingest(t, store, emotion.Speech, emotion.Happy, 0.7)

	res, err := e.Fuse(room)
	if err != nil {
		t.Fatalf("fuse: %v", err)
	}
	if res.Strategy != ConsensusWeighted {
		t.Errorf("strategy = %q, want consensus", res.Strategy)
	}
	if res.Emotion != emotion.Happy {
		t.Errorf("emotion = %q, want happy", res.Emotion)
	}
	approx(t, res.Weights.Face, 0.5)
	approx(t, res.Weights.Speech, 0.5)
	approx(t, res.Confidence, 0.825) // min(1.0, 0.75*1.10)

	if g.Available(room) {
		t.Error("gate should be busy after accepted fusion")
	}
	if len(pub.fused) != 1 {
		t.Errorf("expected 1 published result, got %d", len(pub.fused))
	}
}

func TestConflictDynamicWeights(t *testing.T) {
	e, store, _, _ := setup(t)
	ingest(t, store, emotion.Face, emotion.Happy, 0.9)
	ingest(t, store, emotion.Speech, emotion.Sad, 0.6)

	res, err := e.Fuse(room)
	if err != nil {
		t.Fatalf("fuse: %v", err)
	}
	if res.Strategy != WeightedFusion {
		t.Errorf("strategy = %q, want weighted_fusion", res.Strategy)
	}
	// shift = 0.5*(0.9-0.6) = 0.15 -> {0.60, 0.40}, inside the clamp
	approx(t, res.Weights.Face, 0.60)
	approx(t, res.Weights.Speech, 0.40)
	if res.Emotion != emotion.Happy {
		t.Errorf("emotion = %q, want happy (weighted 0.54 vs 0.24)", res.Emotion)
	}
	approx(t, res.Confidence, 0.486) // 0.54 * 0.90
}

func TestConflictWeightClamp(t *testing.T) {
	e, store, _, _ := setup(t)
	// Gap of 0.7 would shift face to 0.45+0.35=0.80; must clamp to 0.70.
	ingest(t, store, emotion.Face, emotion.Happy, 0.9)
	ingest(t, store, emotion.Speech, emotion.Sad, 0.2)

	res, err := e.Fuse(room)
	if err != nil {
		t.Fatalf("fuse: %v", err)
	}
	// Raw {0.70, 0.30} renormalized stays {0.70, 0.30}.
	approx(t, res.Weights.Face, 0.70)
	approx(t, res.Weights.Speech, 0.30)
	if sum := res.Weights.Face + res.Weights.Speech; math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("weights must sum to 1, got %v", sum)
	}
}

func TestConflictTieBreakPrefersFace(t *testing.T) {
	// Equal base weights and equal confidences produce an exact tie of
	// weighted scores; the face label must win deterministically.
	store := buffer.NewMemory()
	e := New(store, gate.New(), nil, WithBaseWeights(0.5, 0.5))

	ingest(t, store, emotion.Face, emotion.Happy, 0.6)
	ingest(t, store, emotion.Speech, emotion.Sad, 0.6)

	res, err := e.Fuse(room)
	if err != nil {
		t.Fatalf("fuse: %v", err)
	}
	if res.Emotion != emotion.Happy {
		t.Errorf("tie must prefer face label, got %q", res.Emotion)
	}
}

func TestFaceOnly(t *testing.T) {
	e, store, _, _ := setup(t)
	ingest(t, store, emotion.Face, emotion.Happy, 0.9)

	res, err := e.Fuse(room)
	if err != nil {
		t.Fatalf("fuse: %v", err)
	}
	if res.Strategy != FaceOnly {
		t.Errorf("strategy = %q, want face_only", res.Strategy)
	}
	approx(t, res.Confidence, 0.72) // 0.9 * 0.8
	if res.Inputs.Speech != nil {
		t.Error("speech input should be nil")
	}
}

func TestSpeechOnly(t *testing.T) {
	e, store, _, _ := setup(t)
	ingest(t, store, emotion.Speech, emotion.Angry, 0.5)

	res, err := e.Fuse(room)
	if err != nil {
		t.Fatalf("fuse: %v", err)
	}
	if res.Strategy != SpeechOnly {
		t.Errorf("strategy = %q, want speech_only", res.Strategy)
	}
	approx(t, res.Confidence, 0.4)
	approx(t, res.Weights.Speech, 1.0)
}

func TestNoData(t *testing.T) {
	e, _, _, _ := setup(t)

	if _, err := e.Fuse(room); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestRejectedLowConfidence(t *testing.T) {
	e, store, g, pub := setup(t)
	// speech_only: 0.3 * 0.8 = 0.24 < 0.30 threshold.
	ingest(t, store, emotion.Speech, emotion.Sad, 0.3)

	res, err := e.Fuse(room)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if res == nil {
		t.Fatal("rejected outcome must still carry the result")
	}
	if !g.Available(room) {
		t.Error("gate must stay available on rejection")
	}
	if len(pub.rejected) != 1 || len(pub.fused) != 0 {
		t.Errorf("expected 1 rejected / 0 fused events, got %d/%d",
			len(pub.rejected), len(pub.fused))
	}

	// Inputs remain buffered for the next attempt.
	if _, ok := store.Latest(room, emotion.Speech); !ok {
		t.Error("rejection must not consume buffered detections")
	}
}

func TestGateBusySkip(t *testing.T) {
	e, store, g, _ := setup(t)
	ingest(t, store, emotion.Face, emotion.Happy, 0.9)
	g.SetBusy(room, emotion.Happy)

	if _, err := e.Fuse(room); !errors.Is(err, ErrGateBusy) {
		t.Errorf("expected ErrGateBusy, got %v", err)
	}
}

func TestConcurrentFuseSingleGateWinner(t *testing.T) {
	e, store, _, pub := setup(t)
	ingest(t, store, emotion.Face, emotion.Happy, 0.9)
	ingest(t, store, emotion.Speech, emotion.Happy, 0.8)

	var wg sync.WaitGroup
	accepted := 0
	var mu sync.Mutex
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Fuse(room); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Errorf("expected exactly one accepted fusion, got %d", accepted)
	}
	if len(pub.fused) != 1 {
		t.Errorf("expected exactly one published result, got %d", len(pub.fused))
	}
}

func TestExpiredInputsIgnored(t *testing.T) {
	e, store, _, _ := setup(t, WithMaxAge(10*time.Second))

	stale := emotion.Detection{
		Room:       room,
		Modality:   emotion.Speech,
		Label:      emotion.Sad,
		Confidence: 0.9,
		Timestamp:  time.Now().Add(-30 * time.Second),
	}
	store.Ingest(stale)
	ingest(t, store, emotion.Face, emotion.Happy, 0.9)

	res, err := e.Fuse(room)
	if err != nil {
		t.Fatalf("fuse: %v", err)
	}
	if res.Strategy != FaceOnly {
		t.Errorf("stale speech must not participate, got strategy %q", res.Strategy)
	}
}

func TestSmootherHoldsFastChanges(t *testing.T) {
	sc := DefaultSmoothingConfig()
	sc.Enabled = true
	sc.MinHold = time.Hour // everything is "too fast"

	s := newSmoother(sc)
	now := time.Now()

	mk := func(label emotion.Label, conf float64) *Result {
		return &Result{Room: room, Emotion: label, Confidence: conf, Strategy: ConsensusWeighted}
	}

	// Build up history.
	s.apply(mk(emotion.Happy, 0.8), now)
	s.apply(mk(emotion.Happy, 0.8), now.Add(time.Second))

	// A fast switch to sad is held back to happy.
	res := s.apply(mk(emotion.Sad, 0.9), now.Add(2*time.Second))
	if res.Emotion != emotion.Happy {
		t.Errorf("fast change should be held, got %q", res.Emotion)
	}

	// Switching to neutral is always allowed.
	res = s.apply(mk(emotion.Neutral, 0.4), now.Add(3*time.Second))
	if res.Emotion != emotion.Neutral {
		t.Errorf("change to neutral must pass, got %q", res.Emotion)
	}
}

func TestSmootherConsistencyBoost(t *testing.T) {
	sc := DefaultSmoothingConfig()
	sc.Enabled = true
	sc.MinHold = 0

	s := newSmoother(sc)
	now := time.Now()

	mk := func(conf float64) *Result {
		return &Result{Room: room, Emotion: emotion.Happy, Confidence: conf}
	}

	s.apply(mk(0.6), now)
	s.apply(mk(0.6), now.Add(2*time.Second))
	res := s.apply(mk(0.6), now.Add(4*time.Second))

	want := emotion.Clamp(0.6 * sc.ConsistencyBoost)
	approx(t, res.Confidence, want)
}

func TestSmootherOutlierPenalty(t *testing.T) {
	sc := DefaultSmoothingConfig()
	sc.Enabled = true
	sc.MinHold = 0
	sc.MinChangeConfidence = 0

	s := newSmoother(sc)
	now := time.Now()

	for i := 0; i < 3; i++ {
		s.apply(&Result{Room: room, Emotion: emotion.Happy, Confidence: 0.8},
			now.Add(time.Duration(i)*2*time.Second))
	}

	res := s.apply(&Result{Room: room, Emotion: emotion.Sad, Confidence: 0.8},
		now.Add(8*time.Second))
	approx(t, res.Confidence, 0.8*sc.OutlierPenalty)
}
