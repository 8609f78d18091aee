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

// SearXNGName is the registry name of the SearXNG web search tool.
const SearXNGName = "searxng_search"

// SearXNGConfig configures the SearXNG tool.
type SearXNGConfig struct {
	HTTPClient *http.Client
	BaseURL    string
	Categories string
	MaxResults int
	SafeSearch int // 0 none, 1 moderate, 2 strict
	RatePerSec float64
}

// SearXNG queries a SearXNG instance through its JSON API.
type SearXNG struct {
	client searchClient
	cfg    SearXNGConfig
}

// NewSearXNG creates the tool.
func NewSearXNG(cfg SearXNGConfig) *SearXNG {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Categories == "" {
		cfg.Categories = "general"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &SearXNG{client: newSearchClient(cfg.HTTPClient, cfg.RatePerSec), cfg: cfg}
}

// Name implements Tool.
func (s *SearXNG) Name() string { return SearXNGName }

// Description implements Tool.
func (s *SearXNG) Description() string {
	return "Search the web for information about a business, merchant or payee."
}

// Parameters implements Tool.
func (s *SearXNG) Parameters() json.RawMessage { return QuerySchema }

// Execute implements Tool.
func (s *SearXNG) Execute(ctx context.Context, args map[string]any) ([]Result, error) {
	query, err := queryArg(args)
	if err != nil {
		return nil, err
	}
	if s.cfg.BaseURL == "" {
		return nil, fmt.Errorf("searxng base URL is not configured")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("categories", s.cfg.Categories)
	params.Set("safesearch", strconv.Itoa(s.cfg.SafeSearch))

	var resp struct {
		Results []Result `json:"results"`
	}
	if err := s.client.getJSON(ctx, s.cfg.BaseURL+"/search?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	if len(resp.Results) > s.cfg.MaxResults {
		resp.Results = resp.Results[:s.cfg.MaxResults]
	}
	return resp.Results, nil
}
