// Package fusion implements 2-out-of-2 weighted voting over the facial
// and vocal modalities. It is the only writer allowed to flip the
// availability gate to Busy; a gate flip and the corresponding result
// publish happen atomically within a Fuse call.
package fusion

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pepperlab/emofuse/pkg/buffer"
	"github.com/pepperlab/emofuse/pkg/emotion"
	"github.com/pepperlab/emofuse/pkg/gate"
)

// Strategy identifies how a result was produced.
type Strategy string

const (
	// ConsensusWeighted means both modalities agreed on the label.
	ConsensusWeighted Strategy = "consensus_weighted"
	// WeightedFusion means the modalities disagreed and dynamic
	// weighting picked the winner.
	WeightedFusion Strategy = "weighted_fusion"
	// FaceOnly means only the facial modality was fresh.
	FaceOnly Strategy = "face_only"
	// SpeechOnly means only the vocal modality was fresh.
	SpeechOnly Strategy = "speech_only"
)

// Weights records the per-modality weights used for a result.
type Weights struct {
	Face   float64 `json:"face"`
	Speech float64 `json:"speech"`
}

// Inputs records the detections a result was fused from.
type Inputs struct {
	Face   *emotion.Detection `json:"face,omitempty"`
	Speech *emotion.Detection `json:"speech,omitempty"`
}

// Result is one fused emotion. Produced at most once per Fuse call;
// the caller decides whether to re-fuse.
type Result struct {
	ID         string        `json:"id"`
	Room       string        `json:"room"`
	Emotion    emotion.Label `json:"emotion"`
	Confidence float64       `json:"confidence"`
	Strategy   Strategy      `json:"strategy"`
	Weights    Weights       `json:"weights"`
	Inputs     Inputs        `json:"inputs"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Sentinel errors for non-result outcomes. None of these are hard
// failures; callers treat them as skips.
var (
	// ErrNoData means neither modality has a fresh detection.
	ErrNoData = errors.New("fusion: no detections available")

	// ErrRejected means the fused confidence fell below the minimum.
	// Fuse returns the rejected result alongside this error so the
	// delivery layer can signal it explicitly.
	ErrRejected = errors.New("fusion: result below confidence threshold")

	// ErrGateBusy means the actuator is busy; the attempt is a skip.
	ErrGateBusy = errors.New("fusion: actuator gate busy")
)

// Publisher receives accepted and rejected results. The delivery layer
// implements it; a nil publisher is allowed.
type Publisher interface {
	PublishFusion(res *Result)
	PublishRejected(res *Result, reason string)
}

// Engine reads the buffer, votes, and dispatches through the gate.
type Engine struct {
	store    buffer.Store
	gate     *gate.Gate
	pub      Publisher
	cfg      *Config
	smoother *smoother
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a fusion engine. The publisher may be nil.
func New(store buffer.Store, g *gate.Gate, pub Publisher, opts ...Option) *Engine {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	e := &Engine{
		store:  store,
		gate:   g,
		pub:    pub,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "fusion"),
		now:    time.Now,
	}
	if cfg.Smoothing.Enabled {
		e.smoother = newSmoother(cfg.Smoothing)
	}
	return e
}

// Fuse runs one 2oo2 voting pass for the room.
//
// Outcomes:
//   - (*Result, nil): accepted; the gate is now Busy and the result has
//     been published.
//   - (*Result, ErrRejected): fused but below the confidence floor; the
//     gate is untouched and a rejected event has been published.
//   - (nil, ErrNoData): no fresh detections for either modality.
//   - (nil, ErrGateBusy): the actuator is busy; skip.
func (e *Engine) Fuse(room string) (*Result, error) {
	if !e.gate.Available(room) {
		return nil, ErrGateBusy
	}

	face, haveFace := e.store.Latest(room, emotion.Face)
	speech, haveSpeech := e.store.Latest(room, emotion.Speech)

	// The store already applies its own freshness horizon; re-check
	// against ours in case the two are configured differently.
	now := e.now()
	if haveFace && face.Age(now) > e.cfg.MaxAge {
		haveFace = false
	}
	if haveSpeech && speech.Age(now) > e.cfg.MaxAge {
		haveSpeech = false
	}
	if !haveFace && !haveSpeech {
		return nil, ErrNoData
	}

	var res *Result
	switch {
	case haveFace && haveSpeech:
		res = e.fuseBoth(room, face, speech)
	case haveFace:
		res = e.fuseSingle(room, face, FaceOnly)
	default:
		res = e.fuseSingle(room, speech, SpeechOnly)
	}

	if e.smoother != nil {
		res = e.smoother.apply(res, e.now())
	}

	if res.Confidence < e.cfg.MinConfidence {
		e.logger.Info("fusion rejected",
			"room", room,
			"emotion", res.Emotion,
			"confidence", res.Confidence,
			"strategy", res.Strategy,
		)
		if e.pub != nil {
			e.pub.PublishRejected(res, "below_min_confidence")
		}
		return res, ErrRejected
	}

	// Flip the gate before publishing: a consumer never observes an
	// accepted result without the gate already Busy.
	if !e.gate.TryAcquire(room, res.Emotion) {
		return nil, ErrGateBusy
	}

	e.logger.Info("fusion accepted",
		"room", room,
		"emotion", res.Emotion,
		"confidence", res.Confidence,
		"strategy", res.Strategy,
	)
	if e.pub != nil {
		e.pub.PublishFusion(res)
	}
	return res, nil
}

func (e *Engine) fuseSingle(room string, det emotion.Detection, strat Strategy) *Result {
	w := Weights{}
	if strat == FaceOnly {
		w.Face = 1
	} else {
		w.Speech = 1
	}

	res := &Result{
		ID:         uuid.New().String(),
		Room:       room,
		Emotion:    det.Label,
		Confidence: emotion.Clamp(det.Confidence * e.cfg.SingleModalityPenalty),
		Strategy:   strat,
		Weights:    w,
		Timestamp:  e.now(),
	}
	d := det
	if strat == FaceOnly {
		res.Inputs.Face = &d
	} else {
		res.Inputs.Speech = &d
	}
	return res
}

func (e *Engine) fuseBoth(room string, face, speech emotion.Detection) *Result {
	res := &Result{
		ID:        uuid.New().String(),
		Room:      room,
		Timestamp: e.now(),
		Inputs:    Inputs{Face: &face, Speech: &speech},
	}

	if face.Label == speech.Label {
		res.Strategy = ConsensusWeighted
		res.Weights = Weights{Face: 0.5, Speech: 0.5}
		res.Emotion = face.Label
		mean := (face.Confidence + speech.Confidence) / 2
		res.Confidence = emotion.Clamp(mean * e.cfg.ConsensusBoost)
		return res
	}

	res.Strategy = WeightedFusion
	wFace, wSpeech := e.dynamicWeights(face.Confidence, speech.Confidence)
	res.Weights = Weights{Face: wFace, Speech: wSpeech}

	faceScore := wFace * face.Confidence
	speechScore := wSpeech * speech.Confidence

	// Exact tie prefers the face modality deterministically.
	if faceScore >= speechScore {
		res.Emotion = face.Label
		res.Confidence = emotion.Clamp(faceScore * e.cfg.ConflictPenalty)
	} else {
		res.Emotion = speech.Label
		res.Confidence = emotion.Clamp(speechScore * e.cfg.ConflictPenalty)
	}
	return res
}

// dynamicWeights shifts weight toward the more confident modality
// proportional to the confidence gap, then clamps and renormalizes.
func (e *Engine) dynamicWeights(faceConf, speechConf float64) (wFace, wSpeech float64) {
	shift := e.cfg.WeightShiftScale * (faceConf - speechConf)

	wFace = clampWeight(e.cfg.BaseFaceWeight+shift, e.cfg.MinWeight, e.cfg.MaxWeight)
	wSpeech = clampWeight(e.cfg.BaseSpeechWeight-shift, e.cfg.MinWeight, e.cfg.MaxWeight)

	total := wFace + wSpeech
	return wFace / total, wSpeech / total
}

func clampWeight(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ClearHistory drops the smoother history for a room. Called alongside
// a buffer clear.
func (e *Engine) ClearHistory(room string) {
	if e.smoother != nil {
		e.smoother.clear(room)
	}
}
