// Package classify defines the boundary to the external emotion
// classifiers. Each modality has one classifier: it accepts a raw media
// sample and returns a label with a confidence score. The classifiers
// themselves are black boxes reachable over HTTP.
package classify

import "context"

// Classification is one classifier verdict. The label is the
// classifier's raw vocabulary; callers normalize it onto the canonical
// emotion set.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"score"`
	LatencyMs  int64   `json:"latency_ms,omitempty"`
}

// Classifier is the modality classifier contract. Implementations must
// tolerate repeated and concurrent calls. A transport or server failure
// is returned as an error, distinct from a low-confidence result.
type Classifier interface {
	// Classify submits one media sample (JPEG frame or PCM16 audio)
	// and returns the verdict.
	Classify(ctx context.Context, sample []byte) (*Classification, error)

	// Health checks whether the classifier is reachable.
	Health(ctx context.Context) error

	// Close releases any held resources.
	Close() error
}
