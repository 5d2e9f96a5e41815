// Package emotion defines the shared data model for multimodal emotion
// detection: the closed label set, normalization of classifier outputs,
// and the Detection record produced by capture schedulers.
package emotion

import (
	"encoding/json"
	"fmt"
	"time"
)

// Label is a member of the closed emotion set.
type Label string

// The seven canonical labels. Classifier outputs outside this set are
// normalized onto it (or onto Neutral) before entering the pipeline.
const (
	Happy    Label = "happy"
	Sad      Label = "sad"
	Angry    Label = "angry"
	Surprise Label = "surprise"
	Fear     Label = "fear"
	Disgust  Label = "disgust"
	Neutral  Label = "neutral"
)

// Labels lists all canonical labels in a stable order.
var Labels = []Label{Happy, Sad, Angry, Surprise, Fear, Disgust, Neutral}

// Valid reports whether l is one of the canonical labels.
func (l Label) Valid() bool {
	switch l {
	case Happy, Sad, Angry, Surprise, Fear, Disgust, Neutral:
		return true
	}
	return false
}

// Modality identifies the sensing channel that produced a detection.
type Modality string

const (
	// Face is the visual modality (facial expression).
	Face Modality = "face"
	// Speech is the vocal modality (speech audio).
	Speech Modality = "speech"
)

// Valid reports whether m is a known modality.
func (m Modality) Valid() bool {
	return m == Face || m == Speech
}

// Detection is one aggregated classification from a single modality.
// It is immutable once created.
type Detection struct {
	Room       string    `json:"room"`
	Modality   Modality  `json:"modality"`
	Label      Label     `json:"label"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`

	// FrameCount and ConsensusRatio carry aggregation metadata for
	// windowed captures. Zero for single-sample detections.
	FrameCount     int     `json:"frame_count,omitempty"`
	ConsensusRatio float64 `json:"consensus_ratio,omitempty"`
}

// NewDetection builds a Detection with the label normalized and the
// confidence clamped to [0,1]. Timestamp defaults to now when zero.
func NewDetection(room string, mod Modality, label string, confidence float64) Detection {
	return Detection{
		Room:       room,
		Modality:   mod,
		Label:      Normalize(label),
		Confidence: Clamp(confidence),
		Timestamp:  time.Now(),
	}
}

// Validate checks the detection invariants.
func (d Detection) Validate() error {
	if d.Room == "" {
		return fmt.Errorf("emotion: detection missing room")
	}
	if !d.Modality.Valid() {
		return fmt.Errorf("emotion: unknown modality %q", d.Modality)
	}
	if !d.Label.Valid() {
		return fmt.Errorf("emotion: unknown label %q", d.Label)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("emotion: confidence %v out of range", d.Confidence)
	}
	return nil
}

// Age returns how old the detection is relative to now.
func (d Detection) Age(now time.Time) time.Duration {
	return now.Sub(d.Timestamp)
}

// UnmarshalJSON normalizes the label and clamps confidence so wire input
// can never introduce an out-of-set label.
func (d *Detection) UnmarshalJSON(data []byte) error {
	type alias Detection
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	a.Label = Normalize(string(a.Label))
	a.Confidence = Clamp(a.Confidence)
	*d = Detection(a)
	return nil
}

// Clamp limits a confidence value to [0,1].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
