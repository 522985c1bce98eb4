package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/retry"
)

const maxClassifierResponse = 64 << 10

// HTTPClassifier calls a model-serving endpoint that accepts a FeatureVector
// as JSON and answers {"fraud_probability": p, "model_version": "..."}.
type HTTPClassifier struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPClassifier creates a classifier for url. apiKey, when set, is sent
// as X-API-Key. The gateway bounds each call; timeout is a backstop.
func NewHTTPClassifier(url, apiKey string, timeout time.Duration) *HTTPClassifier {
	return &HTTPClassifier{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type classifierResponse struct {
	FraudProbability *float64 `json:"fraud_probability"`
	ModelVersion     string   `json:"model_version"`
}

// Classify posts the features. Transport errors and 5xx responses are
// retryable; 4xx responses and malformed bodies are permanent.
func (c *HTTPClassifier) Classify(ctx context.Context, features FeatureVector) (float64, string, error) {
	payload, err := json.Marshal(features)
	if err != nil {
		return 0, "", retry.Permanent(fmt.Errorf("encode features: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", retry.Permanent(fmt.Errorf("build classifier request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("classifier request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxClassifierResponse))
	if err != nil {
		return 0, "", fmt.Errorf("read classifier response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return 0, "", fmt.Errorf("classifier returned status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return 0, "", retry.Permanent(fmt.Errorf("classifier returned status %d", resp.StatusCode))
	}

	var out classifierResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, "", retry.Permanent(fmt.Errorf("decode classifier response: %w", err))
	}
	if out.FraudProbability == nil {
		return 0, "", retry.Permanent(fmt.Errorf("classifier response missing fraud_probability"))
	}
	return *out.FraudProbability, out.ModelVersion, nil
}
