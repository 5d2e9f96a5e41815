package fusion

import (
	"log/slog"
	"time"
)

// Config holds the fusion tunables. The thresholds were tuned
// empirically; treat them as configuration, not constants.
type Config struct {
	// Base modality weights used when labels conflict. Must sum to 1.
	BaseFaceWeight   float64
	BaseSpeechWeight float64

	// WeightShiftScale controls how far weight moves toward the more
	// confident modality: shift = scale * |confidence gap|.
	WeightShiftScale float64

	// MinWeight and MaxWeight clamp each dynamic weight before
	// renormalization.
	MinWeight float64
	MaxWeight float64

	// ConsensusBoost multiplies the mean confidence when both
	// modalities agree.
	ConsensusBoost float64

	// ConflictPenalty multiplies the winning weighted confidence when
	// the modalities disagree.
	ConflictPenalty float64

	// SingleModalityPenalty multiplies confidence when only one
	// modality is present (missing corroboration).
	SingleModalityPenalty float64

	// MinConfidence rejects fused results below this value.
	MinConfidence float64

	// MaxAge is the freshness horizon for input detections. It should
	// match the buffer's max-age.
	MaxAge time.Duration

	// Smoothing configures the optional temporal smoother. Disabled by
	// default.
	Smoothing SmoothingConfig

	Logger *slog.Logger
}

// SmoothingConfig tunes the temporal smoother applied to accepted
// results. All factors are multiplicative on confidence.
type SmoothingConfig struct {
	Enabled bool

	// ConsistencyBoost rewards a label matching the last 2 results.
	ConsistencyBoost float64
	// StrongConsistencyBoost rewards a label matching the last 4.
	StrongConsistencyBoost float64
	// OutlierPenalty punishes a label differing from the last 3.
	OutlierPenalty float64

	// MinHold rejects a label change arriving sooner than this after
	// the previous result, keeping the previous label instead. Changes
	// to neutral are always allowed.
	MinHold time.Duration

	// MinChangeConfidence is the confidence required to switch labels.
	MinChangeConfidence float64

	// HistorySize bounds the per-room result history.
	HistorySize int
}

// Option is a functional option for configuring the engine.
type Option func(*Config)

// WithBaseWeights sets the conflict-case base weights.
func WithBaseWeights(face, speech float64) Option {
	return func(c *Config) {
		c.BaseFaceWeight = face
		c.BaseSpeechWeight = speech
	}
}

// WithWeightClamp sets the dynamic weight bounds.
func WithWeightClamp(min, max float64) Option {
	return func(c *Config) {
		c.MinWeight = min
		c.MaxWeight = max
	}
}

// WithMinConfidence sets the rejection threshold.
func WithMinConfidence(v float64) Option {
	return func(c *Config) { c.MinConfidence = v }
}

// WithMaxAge sets the input freshness horizon.
func WithMaxAge(d time.Duration) Option {
	return func(c *Config) { c.MaxAge = d }
}

// WithSmoothing enables the temporal smoother.
func WithSmoothing(sc SmoothingConfig) Option {
	return func(c *Config) {
		c.Smoothing = sc
		c.Smoothing.Enabled = true
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseFaceWeight:        0.45,
		BaseSpeechWeight:      0.55,
		WeightShiftScale:      0.5,
		MinWeight:             0.30,
		MaxWeight:             0.70,
		ConsensusBoost:        1.10,
		ConflictPenalty:       0.90,
		SingleModalityPenalty: 0.80,
		MinConfidence:         0.30,
		MaxAge:                10 * time.Second,
		Smoothing:             DefaultSmoothingConfig(),
		Logger:                slog.Default(),
	}
}

// DefaultSmoothingConfig returns smoother defaults (disabled).
func DefaultSmoothingConfig() SmoothingConfig {
	return SmoothingConfig{
		Enabled:                false,
		ConsistencyBoost:       1.15,
		StrongConsistencyBoost: 1.25,
		OutlierPenalty:         0.50,
		MinHold:                1500 * time.Millisecond,
		MinChangeConfidence:    0.42,
		HistorySize:            8,
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
