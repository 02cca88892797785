package grader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/heartmarshall/autograder/internal/config"
	"github.com/heartmarshall/autograder/internal/domain"
	"github.com/heartmarshall/autograder/internal/rubric"
)

// OpenAIGrader scores documents with the OpenAI Chat Completions API in JSON mode.
type OpenAIGrader struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
	maxChars    int
	timeout     time.Duration
	log         *slog.Logger
}

// NewOpenAIGrader creates an OpenAIGrader from cfg.
// The SDK retries transient failures once.
func NewOpenAIGrader(cfg config.LLMConfig, logger *slog.Logger) *OpenAIGrader {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIGrader{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxChars:    cfg.MaxDocumentChars,
		timeout:     cfg.Timeout,
		log:         logger.With("adapter", "openai"),
	}
}

// Score sends the document and rubric to the model and parses the reply.
func (g *OpenAIGrader) Score(ctx context.Context, text string, r rubric.Rubric) (Response, error) {
	prompt, err := BuildPrompt(text, r, g.maxChars)
	if err != nil {
		return Response{}, err
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(g.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if g.maxTokens > 0 {
		params.MaxTokens = openai.Int(g.maxTokens)
	}

	// The body is captured verbatim so an undecodable envelope can be kept.
	var payload []byte
	start := time.Now()
	if _, err := g.client.Chat.Completions.New(ctx, params, option.WithResponseBodyInto(&payload)); err != nil {
		return Response{}, classifyOpenAIError(err)
	}

	var completion openai.ChatCompletion
	if err := json.Unmarshal(payload, &completion); err != nil {
		return Response{}, &domain.GraderOutputError{
			Reason: "response envelope is not valid JSON: " + err.Error(),
			Raw:    string(payload),
		}
	}
	if len(completion.Choices) == 0 {
		return Response{}, &domain.GraderOutputError{Reason: "response has no choices", Raw: string(payload)}
	}

	choice := completion.Choices[0]
	raw := strings.TrimSpace(choice.Message.Content)

	g.log.DebugContext(ctx, "openai response",
		slog.String("model", g.model),
		slog.Int("chars", len(raw)),
		slog.String("finish_reason", string(choice.FinishReason)),
		slog.Duration("duration", time.Since(start)),
	)

	if raw == "" {
		return Response{}, &domain.GraderOutputError{Reason: "empty response", Raw: raw}
	}
	return ParseResponse(raw)
}

// classifyOpenAIError maps rejected credentials and unknown models to
// configuration errors; everything else is a transport failure.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: openai rejected credentials (status %d)", domain.ErrConfig, apiErr.StatusCode)
		case http.StatusNotFound:
			return fmt.Errorf("%w: openai model or endpoint not found (status %d)", domain.ErrConfig, apiErr.StatusCode)
		}
	}
	return domain.NewCollaboratorError("openai chat completions", err)
}
