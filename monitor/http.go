package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSinkConfig configures the sidecar client
type HTTPSinkConfig struct {
	BaseURL string
	Timeout time.Duration
	// Run identifies the experiment on the sidecar
	Run string
}

// DefaultHTTPSinkConfig returns default configuration for the sidecar client
func DefaultHTTPSinkConfig() HTTPSinkConfig {
	return HTTPSinkConfig{
		BaseURL: "http://localhost:8080",
		Timeout: 30 * time.Second,
	}
}

// ScalarEvent is the JSON body posted to /api/scalars
type ScalarEvent struct {
	Run       string             `json:"run,omitempty"`
	Category  string             `json:"category"`
	Step      int                `json:"step"`
	Values    map[string]float64 `json:"values"`
	Timestamp time.Time          `json:"timestamp"`
}

// SidecarResponse is the reply of the sidecar
type SidecarResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	PlotURL string `json:"plot_url,omitempty"`
}

// HTTPSink posts scalar events and plots to a sidecar service
type HTTPSink struct {
	baseURL    string
	run        string
	httpClient *http.Client
}

// NewHTTPSink creates a new sidecar client
func NewHTTPSink(config HTTPSinkConfig) *HTTPSink {
	return &HTTPSink{
		baseURL: config.BaseURL,
		run:     config.Run,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// AddScalars posts one ScalarEvent to /api/scalars. The request is bound to
// ctx and to the client timeout.
func (s *HTTPSink) AddScalars(ctx context.Context, category string, values map[string]float64, step int) error {
	_, err := s.post(ctx, "/api/scalars", ScalarEvent{
		Run:       s.run,
		Category:  category,
		Step:      step,
		Values:    values,
		Timestamp: time.Now(),
	})
	return err
}

// SendPlot posts a rendered plot to /api/plot
func (s *HTTPSink) SendPlot(ctx context.Context, plot PlotData) (*SidecarResponse, error) {
	return s.post(ctx, "/api/plot", plot)
}

// CheckHealth checks if the sidecar is available
func (s *HTTPSink) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar health check failed with status %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPSink) post(ctx context.Context, path string, body interface{}) (*SidecarResponse, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "go-segkit")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var out SidecarResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("failed to parse response JSON: %w", err)
		}
	}
	if resp.StatusCode != http.StatusOK {
		return &out, fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, out.Message)
	}
	return &out, nil
}
