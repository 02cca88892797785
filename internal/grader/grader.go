// Package grader asks a language model to score a document against a rubric
// and parses the reply into unvalidated raw scores.
package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/heartmarshall/autograder/internal/config"
	"github.com/heartmarshall/autograder/internal/domain"
	"github.com/heartmarshall/autograder/internal/rubric"
	"github.com/heartmarshall/autograder/internal/scoring"
)

// Grader scores a document against a rubric.
//
// Transport failures are returned as *domain.CollaboratorError, replies that
// are not usable structured data as *domain.GraderOutputError. Errors that
// wrap domain.ErrConfig mean no later call can succeed either.
type Grader interface {
	Score(ctx context.Context, text string, r rubric.Rubric) (Response, error)
}

// Response is a parsed grader reply. Criteria are untrusted and must go
// through scoring.Normalize before use.
type Response struct {
	Summary  string
	Criteria []scoring.RawScore
	// TotalScore is set only when the reply carried a numeric total_score.
	TotalScore *float64
	// Raw is the unmodified reply text.
	Raw string
}

// New creates the Grader for cfg.Provider.
func New(cfg config.LLMConfig, log *slog.Logger) (Grader, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicGrader(cfg, log), nil
	case "openai":
		return NewOpenAIGrader(cfg, log), nil
	default:
		return nil, domain.NewConfigError("llm.provider", fmt.Sprintf("unsupported provider %q", cfg.Provider))
	}
}

// ParseResponse extracts the JSON object from a model reply and checks that it
// has a criteria list. Text around the object (code fences, preambles) is
// ignored.
func ParseResponse(raw string) (Response, error) {
	jsonStr, err := extractJSON(raw)
	if err != nil {
		return Response{}, &domain.GraderOutputError{Reason: err.Error(), Raw: raw}
	}
	if !gjson.Valid(jsonStr) {
		return Response{}, &domain.GraderOutputError{Reason: "response does not contain valid JSON", Raw: raw}
	}

	doc := gjson.Parse(jsonStr)
	criteria := doc.Get("criteria")
	if !criteria.IsArray() {
		return Response{}, &domain.GraderOutputError{Reason: "response has no criteria list", Raw: raw}
	}

	resp := Response{
		Summary:  doc.Get("summary").String(),
		Criteria: scoring.RawScoresFrom(criteria),
		Raw:      raw,
	}
	if total := doc.Get("total_score"); total.Type == gjson.Number && !math.IsNaN(total.Num) && !math.IsInf(total.Num, 0) {
		v := total.Num
		resp.TotalScore = &v
	}
	return resp, nil
}

// extractJSON finds the outermost JSON object in a string.
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return s[start : end+1], nil
}

const systemPrompt = "You are a careful grader."

// BuildPrompt creates the grading prompt. The document is cut to maxChars
// runes; maxChars <= 0 disables the cut.
func BuildPrompt(text string, r rubric.Rubric, maxChars int) (string, error) {
	rubricJSON, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal rubric: %w", err)
	}

	return fmt.Sprintf(`You are a TA grading a document submission using the rubric below.

Rubric (JSON):
%s

Document (text):
%s

Return JSON only with this schema:
{
  "summary": "overall feedback",
  "criteria": [
    {"id": "criterion_id", "score": number, "comment": "short comment"}
  ],
  "total_score": number
}

Rules:
- Use rubric criteria ids.
- Scores must be between 0 and max_points for each criterion.
- Keep comments concise and specific.
`, rubricJSON, truncate(text, maxChars)), nil
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}
