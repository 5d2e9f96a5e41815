package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pepperlab/emofuse/internal/httpc"
	"github.com/pepperlab/emofuse/pkg/emotion"
)

// Service is the capture scheduler's view of the server: a gate check
// before each cycle and an ingest call after it. Schedulers never touch
// the buffer or the gate directly.
type Service interface {
	Available(ctx context.Context, room string) (bool, error)
	Ingest(ctx context.Context, det emotion.Detection) error
}

// HTTPService talks to a remote fusiond.
type HTTPService struct {
	baseURL string
	http    *http.Client
}

// NewHTTPService creates a Service client for the given fusiond URL.
func NewHTTPService(baseURL string) *HTTPService {
	return &HTTPService{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpc.NewClient(10 * time.Second),
	}
}

// Available checks the room's availability gate.
func (s *HTTPService) Available(ctx context.Context, room string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/api/gate/"+room, nil)
	if err != nil {
		return false, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("capture: gate check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("capture: gate check status %d", resp.StatusCode)
	}

	var out struct {
		Busy bool `json:"busy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("capture: gate decode: %w", err)
	}
	return !out.Busy, nil
}

// Ingest posts a detection to the server buffer.
func (s *HTTPService) Ingest(ctx context.Context, det emotion.Detection) error {
	body, err := json.Marshal(det)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/api/detections", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("capture: ingest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("capture: ingest status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Verify HTTPService implements Service at compile time.
var _ Service = (*HTTPService)(nil)
