package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAIPredictor implements Predictor on the chat completions API.
type OpenAIPredictor struct {
	endpoint string
	apiKey   string
	model    string
	httpc    *http.Client
}

// NewOpenAIPredictor targets the public endpoint when endpoint is empty.
func NewOpenAIPredictor(endpoint, apiKey, model string, httpc *http.Client) *OpenAIPredictor {
	if endpoint == "" {
		endpoint = openAIEndpoint
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &OpenAIPredictor{endpoint: strings.TrimRight(endpoint, "/"), apiKey: apiKey, model: model, httpc: httpc}
}

func (p *OpenAIPredictor) PredictEntryPoints(ctx context.Context, geohash string) (*Prediction, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:          p.model,
		Messages:       []chatMessage{{Role: "user", Content: buildPrompt(geohash)}},
		Temperature:    0.1,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("openai: status %d: %w", resp.StatusCode, err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("openai: api error: %s", cr.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("openai: status %d", resp.StatusCode)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", ErrEmptyPrediction)
	}
	return parsePrediction(cr.Choices[0].Message.Content)
}
