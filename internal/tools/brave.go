package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// BraveName is the registry name of the Brave web search tool.
const BraveName = "brave_search"

const defaultBraveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// BraveConfig configures the Brave search tool.
type BraveConfig struct {
	HTTPClient *http.Client
	APIKey     string
	Endpoint   string
	MaxResults int
	RatePerSec float64
}

// Brave queries the Brave Search API.
type Brave struct {
	client searchClient
	cfg    BraveConfig
}

// NewBrave creates the tool.
func NewBrave(cfg BraveConfig) *Brave {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultBraveEndpoint
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	return &Brave{client: newSearchClient(cfg.HTTPClient, cfg.RatePerSec), cfg: cfg}
}

// Name implements Tool.
func (b *Brave) Name() string { return BraveName }

// Description implements Tool.
func (b *Brave) Description() string {
	return "Search the web with Brave Search for information about a business or payee."
}

// Parameters implements Tool.
func (b *Brave) Parameters() json.RawMessage { return QuerySchema }

// Execute implements Tool.
func (b *Brave) Execute(ctx context.Context, args map[string]any) ([]Result, error) {
	query, err := queryArg(args)
	if err != nil {
		return nil, err
	}
	if b.cfg.APIKey == "" {
		return nil, fmt.Errorf("brave search API key is not configured")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(b.cfg.MaxResults))

	var resp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	header := http.Header{"X-Subscription-Token": []string{b.cfg.APIKey}}
	if err := b.client.getJSON(ctx, b.cfg.Endpoint+"?"+params.Encode(), header, &resp); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Content: strings.TrimSpace(r.Description),
		})
	}
	if len(results) > b.cfg.MaxResults {
		results = results[:b.cfg.MaxResults]
	}
	return results, nil
}
