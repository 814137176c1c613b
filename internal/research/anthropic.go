package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Iron-Ham/twinbattle/internal/errors"
)

const systemPrompt = "You are a security research assistant supporting an authorized red/blue team exercise " +
	"against an isolated replica. Answer with a short technical summary of the technique, " +
	"how it is usually detected and how it is usually mitigated. No exploit code."

// AnthropicOptions configures the Messages API researcher.
type AnthropicOptions struct {
	Model     string
	MaxTokens int64
	APIKey    string
	// BaseURL overrides the API endpoint.
	BaseURL string
	Timeout time.Duration
}

// Anthropic answers topics with the Anthropic Messages API.
type Anthropic struct {
	client *anthropic.Client
	opts   AnthropicOptions
}

// NewAnthropic creates the researcher. Model is required and comes from the
// research.model setting. The API key falls back to the ANTHROPIC_API_KEY
// environment variable inside the SDK.
func NewAnthropic(opts AnthropicOptions) (*Anthropic, error) {
	opts.Model = strings.TrimSpace(opts.Model)
	if opts.Model == "" {
		return nil, errors.NewValidationError("research model is required").WithField("research.model")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Anthropic{client: &client, opts: opts}, nil
}

// Research sends one message and returns the concatenated text reply.
func (a *Anthropic) Research(ctx context.Context, topic string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.opts.Model),
		MaxTokens: a.opts.MaxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("Topic: " + topic)),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	summary := strings.TrimSpace(sb.String())
	if summary == "" {
		return Result{}, ErrEmptyResult
	}
	return Result{Topic: topic, Summary: summary}, nil
}
