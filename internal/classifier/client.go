// Package classifier provides HTTP clients for the external classification
// services: zero-shot team classification and sentiment scoring.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// Client talks to the classification service over HTTP. One service hosts
// both endpoints; the same client serves as domain.TeamClassifier and
// domain.SentimentScorer.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a classification client.
//
// baseURL is the service root, e.g. "http://classifier:8000". apiKey may be
// empty for unauthenticated deployments.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type classifyRequest struct {
	Texts           []string `json:"texts"`
	CandidateLabels []string `json:"candidate_labels"`
}

type classifyResponse struct {
	Labels      []string  `json:"labels"`
	Confidences []float64 `json:"confidences"`
}

// Classify runs zero-shot classification of texts against candidateLabels.
// The response arrays must align with the request texts; a misaligned
// response fails with domain.ErrClassificationFailure.
func (c *Client) Classify(ctx context.Context, texts, candidateLabels []string) (domain.TeamClassification, error) {
	body, err := c.doPost(ctx, "/classify", classifyRequest{
		Texts:           texts,
		CandidateLabels: candidateLabels,
	})
	if err != nil {
		return domain.TeamClassification{}, fmt.Errorf("classifier: classify: %w", err)
	}

	var resp classifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.TeamClassification{}, fmt.Errorf("classifier: decode classify response: %w", err)
	}
	if len(resp.Labels) != len(texts) || len(resp.Confidences) != len(texts) {
		return domain.TeamClassification{}, fmt.Errorf("%w: classify returned %d labels and %d confidences for %d texts",
			domain.ErrClassificationFailure, len(resp.Labels), len(resp.Confidences), len(texts))
	}

	return domain.TeamClassification{
		Labels:      resp.Labels,
		Confidences: resp.Confidences,
	}, nil
}

type sentimentRequest struct {
	Texts []string `json:"texts"`
}

type sentimentResponse struct {
	Labels      []string  `json:"labels"`
	Polarities  []float64 `json:"polarities"`
	Confidences []float64 `json:"confidences"`
}

// Score runs sentiment scoring over texts. Polarities are in [-1, 1]. The
// response arrays must align with the request texts.
func (c *Client) Score(ctx context.Context, texts []string) (domain.SentimentScores, error) {
	body, err := c.doPost(ctx, "/sentiment", sentimentRequest{Texts: texts})
	if err != nil {
		return domain.SentimentScores{}, fmt.Errorf("classifier: score: %w", err)
	}

	var resp sentimentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.SentimentScores{}, fmt.Errorf("classifier: decode sentiment response: %w", err)
	}
	if len(resp.Labels) != len(texts) || len(resp.Polarities) != len(texts) || len(resp.Confidences) != len(texts) {
		return domain.SentimentScores{}, fmt.Errorf("%w: sentiment response misaligned for %d texts",
			domain.ErrClassificationFailure, len(texts))
	}

	return domain.SentimentScores{
		Labels:      resp.Labels,
		Polarities:  resp.Polarities,
		Confidences: resp.Confidences,
	}, nil
}

func (c *Client) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrClassificationFailure, resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
