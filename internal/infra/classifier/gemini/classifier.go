// Package gemini implements labeler.Classifier on the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/vietddude/inboxsync/internal/indexing/labeler"
	"github.com/vietddude/inboxsync/internal/indexing/metrics"
)

const serviceName = "gemini"

var (
	// ErrInvalidConfig is returned for a missing API key or model.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrInvalidResponse is returned when the model output cannot be parsed.
	ErrInvalidResponse = errors.New("invalid gemini response")
)

// Config holds model settings.
type Config struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// Classifier asks a Gemini model for a JSON verdict.
type Classifier struct {
	client *genai.Client
	model  string
	log    *slog.Logger
}

var _ labeler.Classifier = (*Classifier)(nil)

// New creates a classifier.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Classifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key cannot be empty", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model cannot be empty", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create client: %v", ErrInvalidConfig, err)
	}

	return &Classifier{
		client: client,
		model:  cfg.Model,
		log:    logger.With("component", "gemini", "model", cfg.Model),
	}, nil
}

var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"categoryId": {
			Type:        genai.TypeString,
			Nullable:    genai.Ptr(true),
			Description: "id of the matching category, or null",
		},
		"confidence": {
			Type:        genai.TypeNumber,
			Description: "confidence between 0 and 1",
		},
	},
	Required: []string{"categoryId", "confidence"},
}

// Classify makes one model call. Retries are the caller's concern.
func (c *Classifier) Classify(ctx context.Context, req labeler.Request) (labeler.RawResult, error) {
	prompt, err := labeler.BuildPrompt(req)
	if err != nil {
		return labeler.RawResult{}, fmt.Errorf("build prompt: %w", err)
	}

	start := time.Now()
	metrics.RemoteCallsTotal.WithLabelValues(serviceName, "generate").Inc()

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema,
	})
	metrics.RemoteLatency.WithLabelValues(serviceName, "generate").Observe(time.Since(start).Seconds())
	if err != nil {
		wrapped := wrapError(err)
		metrics.RemoteErrorsTotal.WithLabelValues(serviceName, errorType(wrapped)).Inc()
		return labeler.RawResult{}, wrapped
	}
	if resp == nil || len(resp.Candidates) == 0 {
		metrics.RemoteErrorsTotal.WithLabelValues(serviceName, "empty").Inc()
		return labeler.RawResult{}, fmt.Errorf("%w: no candidates", ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		// Blocked content is classified as no match rather than failed.
		c.log.Debug("Response blocked by safety filters", "item", req.Item.ItemID)
		return labeler.RawResult{}, nil
	}

	res, err := parseResult(resp.Text())
	if err != nil {
		metrics.RemoteErrorsTotal.WithLabelValues(serviceName, "decode").Inc()
		return labeler.RawResult{}, err
	}
	return res, nil
}

type verdict struct {
	CategoryID *string  `json:"categoryId"`
	Confidence *float64 `json:"confidence"`
}

// parseResult decodes the model's JSON. Fenced code blocks are tolerated.
func parseResult(text string) (labeler.RawResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if text == "" {
		return labeler.RawResult{}, fmt.Errorf("%w: empty text", ErrInvalidResponse)
	}

	var v verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return labeler.RawResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	res := labeler.RawResult{CategoryID: v.CategoryID}
	if v.CategoryID != nil && strings.TrimSpace(*v.CategoryID) == "" {
		res.CategoryID = nil
	}
	if v.Confidence != nil {
		res.Confidence = *v.Confidence
	}
	return res, nil
}

// apiError keeps the original error and exposes its HTTP status.
type apiError struct {
	err  error
	code int
}

func (e *apiError) Error() string   { return e.err.Error() }
func (e *apiError) Unwrap() error   { return e.err }
func (e *apiError) StatusCode() int { return e.code }

func wrapError(err error) error {
	var ae genai.APIError
	if errors.As(err, &ae) {
		return &apiError{err: err, code: ae.Code}
	}
	var aep *genai.APIError
	if errors.As(err, &aep) && aep != nil {
		return &apiError{err: err, code: aep.Code}
	}
	return err
}

func errorType(err error) string {
	var ae *apiError
	if errors.As(err, &ae) {
		return fmt.Sprintf("http_%d", ae.code)
	}
	return "transport"
}
