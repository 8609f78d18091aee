package llm

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"golang.org/x/time/rate"
)

// Config holds process-wide LLM settings.
type Config struct {
	APIKey  string
	BaseURL string // default endpoint when an agent's model has none
	// RateLimit is the request budget per minute shared by all clients.
	RateLimit int
	Retry     service.RetryOptions
}

// Factory hands out ChatClients per model configuration. Clients for the
// same provider and endpoint are shared.
type Factory struct {
	limiter *rate.Limiter
	logger  *slog.Logger
	clients map[string]ChatClient
	cfg     Config
	mu      sync.Mutex
}

// NewFactory creates a factory. A non-positive RateLimit disables limiting.
func NewFactory(cfg Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]ChatClient),
	}
	if cfg.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimit)), max(1, cfg.RateLimit/10))
	}
	return f
}

// ClientFor returns the client serving cfg.
func (f *Factory) ClientFor(cfg model.LLMConfig) (ChatClient, error) {
	provider := strings.ToLower(cfg.Provider)
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = f.cfg.BaseURL
	}
	key := provider + "|" + baseURL

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[key]; ok {
		return c, nil
	}

	var (
		client ChatClient
		err    error
	)
	switch provider {
	case "", "openai", "openai-compatible":
		client, err = NewOpenAIClient(OpenAIOptions{
			APIKey:  f.cfg.APIKey,
			BaseURL: baseURL,
			Limiter: f.limiter,
			Logger:  f.logger,
			Retry:   f.cfg.Retry,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	f.clients[key] = client
	return client, nil
}
