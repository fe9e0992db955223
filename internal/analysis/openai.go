package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"invoiceflow/internal/logger"
	"invoiceflow/internal/normalize"
	"invoiceflow/pkg/models"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// ChatCompleter is the part of the OpenAI client used for structuring.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig configures the LLM structuring pathway
type OpenAIConfig struct {
	APIKey      string
	Model       string        // gpt-4o-mini, gpt-4o
	Temperature float32       // low values keep field values literal
	MaxTokens   int           // completion budget per attempt
	MaxRetries  int           // attempts before giving up
	Timeout     time.Duration // per attempt
	DateOrder   normalize.DateOrder
}

// DefaultOpenAIConfig returns the defaults used when the environment sets nothing.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:       "gpt-4o-mini",
		Temperature: 0.1,
		MaxTokens:   2048,
		MaxRetries:  3,
		Timeout:     60 * time.Second,
		DateOrder:   normalize.MonthFirst,
	}
}

// OpenAIStructurer asks a chat model for the invoice JSON and parses the reply.
type OpenAIStructurer struct {
	client ChatCompleter
	config OpenAIConfig
	log    zerolog.Logger
}

// NewOpenAIStructurer creates the structurer with a real OpenAI client.
func NewOpenAIStructurer(config OpenAIConfig) (*OpenAIStructurer, error) {
	const op = "NewOpenAIStructurer"

	if strings.TrimSpace(config.APIKey) == "" {
		return nil, NewAnalysisError(op, ErrMissingAPIKey, "")
	}
	return NewOpenAIStructurerWithClient(openai.NewClient(config.APIKey), config), nil
}

// NewOpenAIStructurerWithClient creates the structurer with an explicit client.
func NewOpenAIStructurerWithClient(client ChatCompleter, config OpenAIConfig) *OpenAIStructurer {
	defaults := DefaultOpenAIConfig()
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &OpenAIStructurer{
		client: client,
		config: config,
		log:    logger.WithComponent("openai-structurer"),
	}
}

// Structure sends the OCR text to the model. API failures and malformed
// replies are retried; when every attempt fails the last error is returned,
// so a final malformed reply surfaces as ErrMalformedResponse.
func (s *OpenAIStructurer) Structure(ctx context.Context, rawText string) (*models.ExtractedInvoice, error) {
	const op = "OpenAIStructurer.Structure"

	if strings.TrimSpace(rawText) == "" {
		return nil, NewAnalysisError(op, ErrEmptyText, "")
	}

	req := openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(rawText)},
		},
	}

	s.log.Debug().
		Int("text_length", len(rawText)).
		Str("model", s.config.Model).
		Msg("Sending structuring request")

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxRetries; attempt++ {
		result, err := s.attempt(ctx, req)
		if err == nil {
			s.log.Info().
				Int("attempt", attempt).
				Float64("confidence", result.Confidence.Overall).
				Int("fields", len(result.Confidence.Fields)).
				Msg("Structured invoice with OpenAI")
			return result, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
		s.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_retries", s.config.MaxRetries).
			Msg("Structuring attempt failed, retrying")
	}

	return nil, WrapAnalysisError(op, lastErr, fmt.Sprintf("all %d attempts failed", s.config.MaxRetries))
}

func (s *OpenAIStructurer) attempt(ctx context.Context, req openai.ChatCompletionRequest) (*models.ExtractedInvoice, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no response choices", ErrMalformedResponse)
	}

	content := resp.Choices[0].Message.Content
	s.log.Debug().Int("response_length", len(content)).Msg("Received model response")

	return parseLLMResponse(content, s.config.DateOrder, SourceOpenAI)
}
