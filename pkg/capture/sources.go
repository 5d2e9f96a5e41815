package capture

import (
	"context"
	"math"
	"sync"
	"time"
)

// FrameSource supplies single video frames (encoded, typically JPEG).
// The camera or peer-to-peer transport behind it is a collaborator;
// only this contract is part of the pipeline.
type FrameSource interface {
	// Frame captures one frame. It may block briefly; it must respect
	// the context.
	Frame(ctx context.Context) ([]byte, error)
}

// AudioSource supplies PCM16 mono audio.
type AudioSource interface {
	// Record captures d worth of samples. It must respect the context.
	Record(ctx context.Context, d time.Duration) ([]int16, error)
}

// MockFrameSource is a FrameSource for testing and demo mode. It hands
// out a fixed payload per frame.
type MockFrameSource struct {
	// Payload is returned for every frame. Defaults to a short marker.
	Payload []byte
	// Err, when set, is returned instead.
	Err error

	mu     sync.Mutex
	frames int
}

// Frame returns the configured payload.
func (m *MockFrameSource) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	m.frames++
	m.mu.Unlock()
	if m.Payload == nil {
		return []byte("frame"), nil
	}
	return m.Payload, nil
}

// Frames returns how many frames were captured.
func (m *MockFrameSource) Frames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// MockAudioSource is an AudioSource generating synthetic audio: silence
// by default, or a sine wave of the configured amplitude.
type MockAudioSource struct {
	// SampleRate in Hz. Defaults to 16000.
	SampleRate int
	// Frequency in Hz; 0 produces silence.
	Frequency float64
	// Amplitude in [0,1] of full scale.
	Amplitude float64
	// Err, when set, is returned instead.
	Err error
}

// Record synthesizes d worth of samples.
func (m *MockAudioSource) Record(ctx context.Context, d time.Duration) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}

	rate := m.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	n := int(float64(rate) * d.Seconds())
	samples := make([]int16, n)
	if m.Frequency <= 0 || m.Amplitude <= 0 {
		return samples, nil
	}

	scale := m.Amplitude * 32767
	for i := range samples {
		t := float64(i) / float64(rate)
		samples[i] = int16(scale * math.Sin(2*math.Pi*m.Frequency*t))
	}
	return samples, nil
}

// RMS computes the root-mean-square energy of PCM16 samples, normalized
// to [0,1] of full scale.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum/float64(len(samples))) / 32768.0
}
