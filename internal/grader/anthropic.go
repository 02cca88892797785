package grader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/heartmarshall/autograder/internal/config"
	"github.com/heartmarshall/autograder/internal/domain"
	"github.com/heartmarshall/autograder/internal/rubric"
)

// AnthropicGrader scores documents with the Anthropic Messages API.
type AnthropicGrader struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	maxChars    int
	timeout     time.Duration
	log         *slog.Logger
}

// NewAnthropicGrader creates an AnthropicGrader from cfg.
// The SDK retries transient failures once.
func NewAnthropicGrader(cfg config.LLMConfig, logger *slog.Logger) *AnthropicGrader {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicGrader{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxChars:    cfg.MaxDocumentChars,
		timeout:     cfg.Timeout,
		log:         logger.With("adapter", "anthropic"),
	}
}

// Score sends the document and rubric to the model and parses the reply.
func (g *AnthropicGrader) Score(ctx context.Context, text string, r rubric.Rubric) (Response, error) {
	prompt, err := BuildPrompt(text, r, g.maxChars)
	if err != nil {
		return Response{}, err
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   g.maxTokens,
		Temperature: anthropic.Float(g.temperature),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Response{}, classifyAnthropicError(err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	raw := strings.TrimSpace(b.String())

	g.log.DebugContext(ctx, "anthropic response",
		slog.String("model", g.model),
		slog.Int("chars", len(raw)),
		slog.String("stop_reason", string(msg.StopReason)),
		slog.Duration("duration", time.Since(start)),
	)

	if raw == "" {
		return Response{}, &domain.GraderOutputError{Reason: "empty response", Raw: raw}
	}
	return ParseResponse(raw)
}

// classifyAnthropicError maps rejected credentials and unknown models to
// configuration errors; everything else is a transport failure.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: anthropic rejected credentials (status %d)", domain.ErrConfig, apiErr.StatusCode)
		case http.StatusNotFound:
			return fmt.Errorf("%w: anthropic model not found (status %d)", domain.ErrConfig, apiErr.StatusCode)
		}
	}
	return domain.NewCollaboratorError("anthropic messages", err)
}
