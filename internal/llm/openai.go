package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/service"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// TimeoutLLMCall bounds a single completion request.
const TimeoutLLMCall = 120 * time.Second

// OpenAIClient implements ChatClient for OpenAI and compatible servers.
type OpenAIClient struct {
	client    *openai.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
	retryOpts service.RetryOptions
}

// OpenAIOptions configures an OpenAIClient.
type OpenAIOptions struct {
	Limiter    *rate.Limiter
	Logger     *slog.Logger
	HTTPClient *http.Client
	APIKey     string
	// BaseURL overrides the API endpoint. It must include the version
	// path, e.g. "http://localhost:8080/v1".
	BaseURL string
	Retry   service.RetryOptions
}

// NewOpenAIClient creates a client for the given options.
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" && opts.BaseURL == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required", common.ErrMissingConfig)
	}

	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		config.HTTPClient = opts.HTTPClient
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIClient{
		client:    openai.NewClientWithConfig(config),
		limiter:   opts.Limiter,
		logger:    logger,
		retryOpts: opts.Retry,
	}, nil
}

// Chat sends a chat completion request, waiting on the rate limiter and
// retrying rate limits and server errors.
func (c *OpenAIClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	chatReq := toOpenAIRequest(req)

	var resp openai.ChatCompletionResponse
	err := common.WithRetry(ctx, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, TimeoutLLMCall)
		defer cancel()

		var callErr error
		resp, callErr = c.client.CreateChatCompletion(callCtx, chatReq)
		if callErr != nil {
			c.logger.Warn("chat completion attempt failed",
				"model", req.Model,
				"error", callErr)
			return classifyError(callErr)
		}
		return nil
	}, c.retryOpts)
	if err != nil {
		return nil, fmt.Errorf("openai api call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api call: %w", ErrNoChoices)
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func toOpenAIRequest(req *Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		m := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages[i] = m
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if len(req.Tools) > 0 {
		for _, t := range req.Tools {
			chatReq.Tools = append(chatReq.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		chatReq.ToolChoice = "auto"
	}
	if req.JSONResponse {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return chatReq
}

// classifyError marks transient backend failures as retryable.
func classifyError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	case status >= http.StatusInternalServerError:
		return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrLLMUnavailable, err), Retryable: true}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &common.RetryableError{Err: err, Retryable: true}
	}
	return err
}
