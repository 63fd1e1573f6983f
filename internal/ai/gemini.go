package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"vectra/internal/geo"
)

// GeminiPredictor implements Predictor using a Gemini model in JSON mode.
type GeminiPredictor struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiPredictor initializes a Gemini client for entry-point prediction.
func NewGeminiPredictor(ctx context.Context, apiKey, modelName string) (*GeminiPredictor, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	model := client.GenerativeModel(modelName)

	// Force JSON response for structured parsing.
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.1)

	return &GeminiPredictor{client: client, model: model}, nil
}

// Close cleans up the Gemini client resources.
func (p *GeminiPredictor) Close() error {
	return p.client.Close()
}

func (p *GeminiPredictor) PredictEntryPoints(ctx context.Context, geohash string) (*Prediction, error) {
	resp, err := p.model.GenerateContent(ctx, genai.Text(buildPrompt(geohash)))
	if err != nil {
		return nil, fmt.Errorf("gemini generation error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: no response candidates from Gemini", ErrEmptyPrediction)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}
	return parsePrediction(text.String())
}

func parsePrediction(raw string) (*Prediction, error) {
	var pred Prediction
	if err := json.Unmarshal([]byte(cleanJSONString(raw)), &pred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrediction, err)
	}
	if err := pred.Validate(); err != nil {
		return nil, err
	}
	return &pred, nil
}

func buildPrompt(geohash string) string {
	c := geo.Center(geohash)
	return fmt.Sprintf(`Role: You locate building entry points for last-mile delivery drivers.
Address cell: geohash %s (cell centre %.6f, %.6f).

Return ONLY a JSON object of the form:
{"entry_points": [{"lat": <float>, "lon": <float>, "probability": <0..1>, "type": "<main_door|side_door|loading_dock|gate|lobby>"}]}

RULES:
- Every point must lie inside the geohash cell.
- Probabilities are independent confidences, not a distribution.
- If you cannot tell, return {"entry_points": []}.`, geohash, c.Lat, c.Lon)
}

// cleanJSONString strips markdown fences some responses still carry.
func cleanJSONString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	return strings.TrimSpace(input)
}
