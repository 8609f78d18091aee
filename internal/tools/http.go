package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const defaultSearchTimeout = 15 * time.Second

// searchClient performs rate limited JSON GET requests for the search tools.
type searchClient struct {
	http    *http.Client
	limiter *rate.Limiter
}

func newSearchClient(httpClient *http.Client, perSecond float64) searchClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultSearchTimeout}
	}
	var limiter *rate.Limiter
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return searchClient{http: httpClient, limiter: limiter}
}

func (c searchClient) getJSON(ctx context.Context, url string, header http.Header, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("search API error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func queryArg(args map[string]any) (string, error) {
	q, ok := args["query"].(string)
	if !ok || q == "" {
		return "", fmt.Errorf("%w: query is required", ErrInvalidArguments)
	}
	return q, nil
}
