package config

import "time"

// Config is the root configuration of a grading run.
type Config struct {
	RubricPath string       `yaml:"rubric_path" json:"rubric_path" env:"GRADER_RUBRIC_PATH"`
	OutputDir  string       `yaml:"output_dir"  json:"output_dir"  env:"GRADER_OUTPUT_DIR"  env-default:"outputs"`
	LLM        LLMConfig    `yaml:"llm"         json:"llm"`
	Canvas     CanvasConfig `yaml:"canvas"      json:"canvas"`
	Limits     LimitsConfig `yaml:"limits"      json:"limits"`
	Report     ReportConfig `yaml:"report"      json:"report"`
	Log        LogConfig    `yaml:"log"         json:"log"`
	Store      StoreConfig  `yaml:"store"       json:"store"`
}

// LLMConfig selects the grading model provider.
type LLMConfig struct {
	Provider         string        `yaml:"provider"           json:"provider"           env:"LLM_PROVIDER"`
	Model            string        `yaml:"model"              json:"model"              env:"LLM_MODEL"`
	APIKey           string        `yaml:"api_key"            json:"api_key"            env:"LLM_API_KEY"`
	BaseURL          string        `yaml:"base_url"           json:"base_url"           env:"LLM_BASE_URL"`
	MaxTokens        int64         `yaml:"max_tokens"         json:"max_tokens"         env:"LLM_MAX_TOKENS"         env-default:"1200"`
	Temperature      float64       `yaml:"temperature"        json:"temperature"        env:"LLM_TEMPERATURE"        env-default:"0.2"`
	Timeout          time.Duration `yaml:"timeout"            json:"-"                  env:"LLM_TIMEOUT"            env-default:"2m"`
	MaxDocumentChars int           `yaml:"max_document_chars" json:"max_document_chars" env:"LLM_MAX_DOCUMENT_CHARS" env-default:"12000"`
}

// CanvasConfig holds the submission feed settings.
type CanvasConfig struct {
	BaseURL      string        `yaml:"base_url"      json:"base_url"      env:"CANVAS_BASE_URL"`
	APIToken     string        `yaml:"api_token"     json:"api_token"     env:"CANVAS_API_TOKEN"`
	CourseID     int64         `yaml:"course_id"     json:"course_id"     env:"CANVAS_COURSE_ID"`
	AssignmentID int64         `yaml:"assignment_id" json:"assignment_id" env:"CANVAS_ASSIGNMENT_ID"`
	Timeout      time.Duration `yaml:"timeout"       json:"-"             env:"CANVAS_TIMEOUT"       env-default:"60s"`
}

// LimitsConfig bounds how much work one run does.
type LimitsConfig struct {
	// MaxSubmissions truncates the listed submissions; 0 means no limit.
	MaxSubmissions int `yaml:"max_submissions" json:"max_submissions" env:"GRADER_MAX_SUBMISSIONS"`
	Workers        int `yaml:"workers"         json:"workers"         env:"GRADER_WORKERS"         env-default:"1"`
}

// ReportConfig holds report rendering settings.
type ReportConfig struct {
	// TemplatePath overrides the embedded report template when set.
	TemplatePath string `yaml:"template_path" json:"template_path" env:"GRADER_REPORT_TEMPLATE"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  json:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT" env-default:"text"`
}

// StoreConfig enables the SQL run history. An empty driver disables it.
type StoreConfig struct {
	Driver string `yaml:"driver" json:"driver" env:"STORE_DRIVER"`
	DSN    string `yaml:"dsn"    json:"dsn"    env:"STORE_DSN"`
}

// Enabled reports whether a run history store is configured.
func (s StoreConfig) Enabled() bool {
	return s.Driver != ""
}
