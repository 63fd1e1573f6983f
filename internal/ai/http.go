package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// HTTPPredictor calls the inference service's entry-point endpoint.
type HTTPPredictor struct {
	baseURL string
	httpc   *http.Client
}

// NewHTTPPredictor targets baseURL (e.g. http://inference-service:8000/api/v1).
// Deadlines come from the caller's context.
func NewHTTPPredictor(baseURL string, httpc *http.Client) *HTTPPredictor {
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &HTTPPredictor{baseURL: strings.TrimRight(baseURL, "/"), httpc: httpc}
}

func (p *HTTPPredictor) PredictEntryPoints(ctx context.Context, geohash string) (*Prediction, error) {
	body, err := json.Marshal(map[string]string{"geohash": geohash})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/predict/entry-point", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict entry point: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("predict entry point: status %d", resp.StatusCode)
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrediction, err)
	}
	if err := pred.Validate(); err != nil {
		return nil, err
	}
	return &pred, nil
}
