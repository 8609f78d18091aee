package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearXNG_Execute(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "blue bottle coffee", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Blue Bottle","url":"https://bluebottlecoffee.com","content":"Coffee roaster"},
			{"title":"Two","url":"https://two","content":"2"},
			{"title":"Three","url":"https://three","content":"3"}
		]}`))
	}))
	defer ts.Close()

	tool := NewSearXNG(SearXNGConfig{BaseURL: ts.URL + "/", MaxResults: 2})
	results, err := tool.Execute(context.Background(), map[string]any{"query": "blue bottle coffee"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Blue Bottle", results[0].Title)
	assert.Equal(t, "Coffee roaster", results[0].Content)
}

func TestSearXNG_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	tool := NewSearXNG(SearXNGConfig{BaseURL: ts.URL})
	_, err := tool.Execute(context.Background(), map[string]any{"query": "x"})
	assert.ErrorContains(t, err, "status 503")

	_, err = tool.Execute(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = NewSearXNG(SearXNGConfig{}).Execute(context.Background(), map[string]any{"query": "x"})
	assert.Error(t, err)
}

func TestBrave_Execute(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "acme", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"Acme","url":"https://acme.test","description":" Widgets "}]}}`))
	}))
	defer ts.Close()

	tool := NewBrave(BraveConfig{APIKey: "secret", Endpoint: ts.URL})
	results, err := tool.Execute(context.Background(), map[string]any{"query": "acme"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Result{Title: "Acme", URL: "https://acme.test", Content: "Widgets"}, results[0])

	_, err = NewBrave(BraveConfig{Endpoint: ts.URL}).Execute(context.Background(), map[string]any{"query": "acme"})
	assert.ErrorContains(t, err, "API key")
}
