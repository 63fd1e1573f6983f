package ai

import (
	"context"
	"io"
	"net/http"

	"vectra/internal/config"
)

// Predictor defines the contract for an external entry-point model.
// Implementations may be remote HTTP services or hosted LLMs.
type Predictor interface {
	// PredictEntryPoints returns candidate entry points for the address keyed
	// by geohash. A nil error implies at least one valid candidate.
	PredictEntryPoints(ctx context.Context, geohash string) (*Prediction, error)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewPredictor builds the backend selected in cfg. The returned closer
// releases backend clients and is never nil.
func NewPredictor(ctx context.Context, cfg config.AIConfig) (Predictor, io.Closer, error) {
	switch cfg.Backend {
	case "gemini":
		p, err := NewGeminiPredictor(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, nopCloser{}, err
		}
		return p, p, nil
	case "openai":
		return NewOpenAIPredictor(cfg.OpenAIURL, cfg.OpenAIKey, cfg.OpenAIModel, &http.Client{}), nopCloser{}, nil
	default:
		return NewHTTPPredictor(cfg.URL, &http.Client{}), nopCloser{}, nil
	}
}
