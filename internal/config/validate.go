package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/heartmarshall/autograder/internal/domain"
)

var (
	knownProviders = map[string]bool{"anthropic": true, "openai": true}
	knownDrivers   = map[string]bool{"sqlite": true, "postgres": true}
)

// Validate performs business-rule validation on the loaded configuration.
// It collects every problem instead of stopping at the first one.
// Load calls it automatically.
func (c *Config) Validate() error {
	var errs []domain.FieldError
	add := func(field, msg string) {
		errs = append(errs, domain.FieldError{Field: field, Message: msg})
	}

	if strings.TrimSpace(c.RubricPath) == "" {
		add("rubric_path", "is required")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		add("output_dir", "must not be empty")
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	switch {
	case c.LLM.Provider == "":
		add("llm.provider", "is required")
	case !knownProviders[c.LLM.Provider]:
		add("llm.provider", fmt.Sprintf("unsupported provider %q (want anthropic or openai)", c.LLM.Provider))
	}
	if c.LLM.Model == "" {
		add("llm.model", "is required")
	}
	if c.LLM.APIKey == "" {
		add("llm.api_key", "is required")
	}
	if c.LLM.MaxTokens <= 0 {
		add("llm.max_tokens", fmt.Sprintf("must be > 0 (got %d)", c.LLM.MaxTokens))
	}
	if c.LLM.MaxDocumentChars <= 0 {
		add("llm.max_document_chars", fmt.Sprintf("must be > 0 (got %d)", c.LLM.MaxDocumentChars))
	}

	if c.Canvas.BaseURL == "" {
		add("canvas.base_url", "is required")
	}
	if c.Canvas.APIToken == "" {
		add("canvas.api_token", "is required")
	}
	if c.Canvas.CourseID <= 0 {
		add("canvas.course_id", "is required")
	}
	if c.Canvas.AssignmentID <= 0 {
		add("canvas.assignment_id", "is required")
	}

	if c.Limits.MaxSubmissions < 0 {
		add("limits.max_submissions", fmt.Sprintf("must be >= 0 (got %d)", c.Limits.MaxSubmissions))
	}
	if c.Limits.Workers < 1 {
		add("limits.workers", fmt.Sprintf("must be >= 1 (got %d)", c.Limits.Workers))
	}

	c.validateStore(add)

	if len(errs) > 0 {
		return &domain.ConfigError{Errors: errs}
	}
	return nil
}

// ValidateHistory checks the subset of settings the history queries use.
// The store must be enabled.
func (c *Config) ValidateHistory() error {
	var errs []domain.FieldError
	add := func(field, msg string) {
		errs = append(errs, domain.FieldError{Field: field, Message: msg})
	}

	if strings.TrimSpace(c.OutputDir) == "" {
		add("output_dir", "must not be empty")
	}
	if strings.TrimSpace(c.Store.Driver) == "" {
		add("store.driver", "is required to read run history")
	}
	c.validateStore(add)

	if len(errs) > 0 {
		return &domain.ConfigError{Errors: errs}
	}
	return nil
}

// validateStore normalizes the driver name and defaults the sqlite DSN to a
// file under output_dir.
func (c *Config) validateStore(add func(field, msg string)) {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Enabled() && !knownDrivers[c.Store.Driver] {
		add("store.driver", fmt.Sprintf("unsupported driver %q (want sqlite or postgres)", c.Store.Driver))
	}
	switch {
	case c.Store.Driver == "postgres" && c.Store.DSN == "":
		add("store.dsn", "is required for postgres")
	case c.Store.Driver == "sqlite" && c.Store.DSN == "" && c.OutputDir != "":
		c.Store.DSN = "file:" + filepath.ToSlash(filepath.Join(c.OutputDir, "history.db"))
	}
}
