package classify

import (
	"context"
	"sync"
)

// Mock implements Classifier for testing and for the sensor demo mode.
type Mock struct {
	// ClassifyFunc is called when Classify is invoked.
	ClassifyFunc func(ctx context.Context, sample []byte) (*Classification, error)

	// HealthFunc is called when Health is invoked.
	HealthFunc func(ctx context.Context) error

	mu    sync.Mutex
	calls int
}

// NewMock creates a mock that always returns the given verdict.
func NewMock(label string, confidence float64) *Mock {
	return &Mock{
		ClassifyFunc: func(ctx context.Context, sample []byte) (*Classification, error) {
			return &Classification{Label: label, Confidence: confidence}, nil
		},
	}
}

// NewMockScript creates a mock that replays verdicts in order, repeating
// the last one once exhausted.
func NewMockScript(script []Classification) *Mock {
	var mu sync.Mutex
	i := 0
	return &Mock{
		ClassifyFunc: func(ctx context.Context, sample []byte) (*Classification, error) {
			mu.Lock()
			defer mu.Unlock()
			c := script[i]
			if i < len(script)-1 {
				i++
			}
			return &c, nil
		},
	}
}

// Classify calls ClassifyFunc and counts the call.
func (m *Mock) Classify(ctx context.Context, sample []byte) (*Classification, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, sample)
	}
	return nil, ErrUnavailable
}

// Health calls HealthFunc.
func (m *Mock) Health(ctx context.Context) error {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close is a no-op.
func (m *Mock) Close() error { return nil }

// Calls returns how many times Classify was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Verify Mock implements Classifier at compile time.
var _ Classifier = (*Mock)(nil)
