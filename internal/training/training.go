// Package training talks to the external training-gap detector. The detector
// owns the analysis algorithm; this service only ferries inputs and results.
package training

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sitecheck/internal/domain"
)

// Detector analyzes incident, near-miss, and training records for gaps.
type Detector interface {
	Analyze(ctx context.Context, req domain.TrainingGapRequest) (domain.TrainingGapAnalysis, error)
}

// HTTPDetector calls a remote detector over JSON-over-HTTP.
type HTTPDetector struct {
	URL    string
	Client *http.Client
}

func NewHTTPDetector(url string) *HTTPDetector {
	return &HTTPDetector{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *HTTPDetector) Analyze(ctx context.Context, req domain.TrainingGapRequest) (domain.TrainingGapAnalysis, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.TrainingGapAnalysis{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return domain.TrainingGapAnalysis{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := d.Client.Do(httpReq)
	if err != nil {
		return domain.TrainingGapAnalysis{}, fmt.Errorf("detector call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.TrainingGapAnalysis{}, fmt.Errorf("detector returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	var analysis domain.TrainingGapAnalysis
	if err := json.NewDecoder(resp.Body).Decode(&analysis); err != nil {
		return domain.TrainingGapAnalysis{}, fmt.Errorf("decode detector response: %w", err)
	}
	return analysis, nil
}
