package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config holds classifier client configuration.
type Config struct {
	// BaseURL is the classifier service root.
	BaseURL string

	// Path is the classification endpoint path.
	Path string

	// ContentType describes the sample payload
	// (image/jpeg for frames, audio/wav for bursts).
	ContentType string

	// Timeout caps a single classify round-trip.
	Timeout time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithBaseURL sets the classifier service root.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithPath sets the classification endpoint path.
func WithPath(p string) Option {
	return func(c *Config) { c.Path = p }
}

// WithContentType sets the sample payload content type.
func WithContentType(ct string) Option {
	return func(c *Config) { c.ContentType = ct }
}

// WithTimeout caps the classify round-trip.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Path:        "/classify",
		ContentType: "application/octet-stream",
		Timeout:     5 * time.Second,
		Logger:      slog.Default(),
	}
}

// Client is the HTTP classifier client.
type Client struct {
	cfg    *Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a classifier client for one modality service.
func NewClient(opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger.With("component", "classify.client", "endpoint", cfg.BaseURL),
	}
}

// Classify posts one sample and decodes the verdict.
func (c *Client) Classify(ctx context.Context, sample []byte) (*Classification, error) {
	if len(sample) == 0 {
		return nil, ErrEmptySample
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+c.cfg.Path, bytes.NewReader(sample))
	if err != nil {
		return nil, fmt.Errorf("classify: build request: %w", err)
	}
	req.Header.Set("Content-Type", c.cfg.ContentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   c.cfg.BaseURL,
		}
	}

	var out Classification
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("classify: decode response: %w", err)
	}
	out.LatencyMs = time.Since(start).Milliseconds()

	c.logger.Debug("sample classified",
		"label", out.Label,
		"confidence", out.Confidence,
		"latency_ms", out.LatencyMs,
	)
	return &out, nil
}

// Health checks the classifier's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: "health check failed", Endpoint: c.cfg.BaseURL}
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Verify Client implements Classifier at compile time.
var _ Classifier = (*Client)(nil)
