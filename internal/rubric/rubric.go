// Package rubric defines the grading rubric: an ordered set of criteria with
// point caps. A Rubric is loaded once per run and treated as read-only.
package rubric

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/heartmarshall/autograder/internal/domain"
)

// Criterion is a single gradable dimension.
type Criterion struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	MaxPoints   float64 `json:"max_points"`
	Description string  `json:"description,omitempty"`
}

// Rubric is an ordered sequence of criteria.
type Rubric struct {
	Title    string      `json:"title,omitempty"`
	Criteria []Criterion `json:"criteria"`
}

// TotalPossible returns the sum of max_points over all criteria (0 if empty).
func (r Rubric) TotalPossible() float64 {
	total := 0.0
	for _, c := range r.Criteria {
		total += c.MaxPoints
	}
	return total
}

// MaxPoints returns the cap for the criterion with the given id.
func (r Rubric) MaxPoints(id string) (float64, bool) {
	for _, c := range r.Criteria {
		if c.ID == id {
			return c.MaxPoints, true
		}
	}
	return 0, false
}

// SchemaError describes why a rubric document was rejected.
// Index is the criterion position, or -1 for document-level problems.
type SchemaError struct {
	Index   int
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("rubric: %s %s", e.Field, e.Message)
	}
	return fmt.Sprintf("rubric: criteria[%d].%s %s", e.Index, e.Field, e.Message)
}

func (e *SchemaError) Unwrap() error { return domain.ErrConfig }

// Load reads a rubric from a JSON or YAML file and validates it.
func Load(path string) (Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rubric{}, fmt.Errorf("%w: read rubric %s: %v", domain.ErrConfig, path, err)
	}
	r, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Rubric{}, fmt.Errorf("load %s: %w", path, err)
	}
	return r, nil
}

// Parse decodes a rubric document. Documents with a ".json" extension, or
// whose first non-blank byte is '{', are decoded as JSON; anything else as YAML.
func Parse(data []byte, ext string) (Rubric, error) {
	var doc map[string]any

	trimmed := bytes.TrimSpace(data)
	if strings.EqualFold(ext, ".json") || bytes.HasPrefix(trimmed, []byte("{")) {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return Rubric{}, &SchemaError{Index: -1, Field: "document", Message: "is not valid JSON: " + err.Error()}
		}
	} else if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return Rubric{}, &SchemaError{Index: -1, Field: "document", Message: "is not valid YAML: " + err.Error()}
	}

	if err := Validate(doc); err != nil {
		return Rubric{}, err
	}
	return fromDocument(doc), nil
}

// Validate checks a decoded rubric document: criteria must be a sequence and
// every criterion needs a non-empty unique id and a non-negative numeric
// max_points.
func Validate(doc map[string]any) error {
	raw, ok := doc["criteria"]
	if !ok {
		return &SchemaError{Index: -1, Field: "criteria", Message: "is required"}
	}
	items, ok := raw.([]any)
	if !ok {
		return &SchemaError{Index: -1, Field: "criteria", Message: "must be a list"}
	}

	seen := make(map[string]bool, len(items))
	for i, item := range items {
		c, ok := item.(map[string]any)
		if !ok {
			return &SchemaError{Index: i, Field: "", Message: "must be a mapping"}
		}

		rawID, ok := c["id"]
		if !ok {
			return &SchemaError{Index: i, Field: "id", Message: "is required"}
		}
		id, ok := scalarString(rawID)
		if !ok || id == "" {
			return &SchemaError{Index: i, Field: "id", Message: "must be a non-empty string"}
		}
		if seen[id] {
			return &SchemaError{Index: i, Field: "id", Message: fmt.Sprintf("%q is duplicated", id)}
		}
		seen[id] = true

		rawMax, ok := c["max_points"]
		if !ok {
			return &SchemaError{Index: i, Field: "max_points", Message: "is required"}
		}
		maxPoints, ok := number(rawMax)
		if !ok || math.IsNaN(maxPoints) || math.IsInf(maxPoints, 0) {
			return &SchemaError{Index: i, Field: "max_points", Message: "must be a number"}
		}
		if maxPoints < 0 {
			return &SchemaError{Index: i, Field: "max_points", Message: "must be >= 0"}
		}
	}
	return nil
}

// fromDocument converts a validated document into a Rubric.
func fromDocument(doc map[string]any) Rubric {
	items := doc["criteria"].([]any)

	r := Rubric{Criteria: make([]Criterion, 0, len(items))}
	if title, ok := doc["title"].(string); ok {
		r.Title = title
	}
	for _, item := range items {
		c := item.(map[string]any)
		id, _ := scalarString(c["id"])
		maxPoints, _ := number(c["max_points"])
		name, _ := c["name"].(string)
		desc, _ := c["description"].(string)
		r.Criteria = append(r.Criteria, Criterion{
			ID:          id,
			Name:        name,
			MaxPoints:   maxPoints,
			Description: desc,
		})
	}
	return r
}

// scalarString accepts strings and integers. YAML decodes `id: 1` as int,
// JSON as an integral float64; both become "1".
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		if math.IsInf(t, 0) || t != math.Trunc(t) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	default:
		return "", false
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}
