package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pepperlab/emofuse/internal/httpc"
)

// HTTPRobot drives the robot proxy over its HTTP API. The proxy plays
// one script at a time; the payload carries the script name and room.
type HTTPRobot struct {
	baseURL string
	http    *http.Client
}

// NewHTTPRobot creates a robot client for the proxy URL.
func NewHTTPRobot(baseURL string) *HTTPRobot {
	return &HTTPRobot{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpc.NewClient(5 * time.Second),
	}
}

// Play posts the script to the proxy's emotion endpoint.
func (r *HTTPRobot) Play(ctx context.Context, script, room string) error {
	payload := map[string]string{"emotion": script}
	if room != "" {
		payload["room"] = room
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/emotion", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("actuator: robot unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("actuator: robot status %d", resp.StatusCode)
	}
	return nil
}

// HTTPReporter reports gesture completion to fusiond's gate endpoint.
type HTTPReporter struct {
	baseURL string
	http    *http.Client
}

// NewHTTPReporter creates a reporter for the fusiond URL.
func NewHTTPReporter(baseURL string) *HTTPReporter {
	return &HTTPReporter{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpc.NewClient(5 * time.Second),
	}
}

// Complete posts the gate completion for a room.
func (r *HTTPReporter) Complete(ctx context.Context, room string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/api/gate/"+room+"/complete", nil)
	if err != nil {
		return err
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("actuator: completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("actuator: completion status %d", resp.StatusCode)
	}
	return nil
}

// MockRobot records played scripts for tests and demo mode.
type MockRobot struct {
	// Err, when set, fails every Play call.
	Err error

	mu     sync.Mutex
	played []string
}

// Play records the script.
func (m *MockRobot) Play(ctx context.Context, script, room string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	m.played = append(m.played, script)
	m.mu.Unlock()
	return nil
}

// Played returns the scripts played so far.
func (m *MockRobot) Played() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.played))
	copy(out, m.played)
	return out
}

// Verify implementations at compile time.
var (
	_ Robot    = (*HTTPRobot)(nil)
	_ Robot    = (*MockRobot)(nil)
	_ Reporter = (*HTTPReporter)(nil)
)
