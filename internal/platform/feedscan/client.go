// Package feedscan provides the client for the reply-feed service, which
// scrapes replies to a social post on demand.
package feedscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// Client is the REST client for the reply-feed service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a feed-scan client.
//
// baseURL is the service root, e.g. "http://feedscan:8100".
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type repliesResponse struct {
	Replies []domain.Reply `json:"replies"`
}

// FetchReplies returns up to limit replies to the given post, newest first.
func (c *Client) FetchReplies(ctx context.Context, postID string, limit int) ([]domain.Reply, error) {
	params := url.Values{}
	params.Set("post_id", postID)
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/replies?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("feedscan: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feedscan: fetch replies for %s: %w", postID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feedscan: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feedscan: fetch replies for %s: status %d", postID, resp.StatusCode)
	}

	var decoded repliesResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("feedscan: decode replies: %w", err)
	}
	return decoded.Replies, nil
}
