// Package report renders per-submission grading reports.
package report

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/heartmarshall/autograder/internal/rubric"
	"github.com/heartmarshall/autograder/internal/scoring"
)

//go:embed templates/report.md
var defaultTemplate string

// DefaultTemplate returns the built-in report template.
func DefaultTemplate() string {
	return defaultTemplate
}

// LoadTemplate reads a template file, or returns the built-in template
// when path is empty.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return defaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("report: read template %s: %w", path, err)
	}
	return string(data), nil
}

// Report placeholder names. These are the only fields a report template can use.
const (
	FieldStudentName    = "student_name"
	FieldAssignmentName = "assignment_name"
	FieldSubmissionID   = "submission_id"
	FieldUserID         = "user_id"
	FieldFileName       = "file_name"
	FieldTotalScore     = "total_score"
	FieldTotalPossible  = "total_possible"
	FieldSummary        = "summary"
	FieldRubricTable    = "rubric_table"
	FieldGradedAt       = "graded_at"
)

// Data is the full set of values available to a report template.
type Data struct {
	StudentName    string
	AssignmentName string
	SubmissionID   string
	UserID         string
	FileName       string
	TotalScore     float64
	TotalPossible  float64
	Summary        string
	RubricTable    string
	GradedAt       time.Time
}

// Fields converts d into typed template values.
func (d Data) Fields() Fields {
	return Fields{
		FieldStudentName:    String(d.StudentName),
		FieldAssignmentName: String(d.AssignmentName),
		FieldSubmissionID:   String(d.SubmissionID),
		FieldUserID:         String(d.UserID),
		FieldFileName:       String(d.FileName),
		FieldTotalScore:     Number(d.TotalScore),
		FieldTotalPossible:  Number(d.TotalPossible),
		FieldSummary:        String(d.Summary),
		FieldRubricTable:    String(d.RubricTable),
		FieldGradedAt:       String(d.GradedAt.UTC().Format(time.RFC3339)),
	}
}

// Build fills tmpl with d.
func Build(tmpl string, d Data) string {
	return Render(tmpl, d.Fields())
}

// RubricTable renders a Markdown table with one row per criterion, in rubric
// order. A criterion without a normalized score shows 0 and an empty comment,
// so criteria the grader skipped stay visible.
func RubricTable(r rubric.Rubric, scores []scoring.NormalizedScore) string {
	byID := make(map[string]scoring.NormalizedScore, len(scores))
	for _, s := range scores {
		if _, dup := byID[s.ID]; !dup {
			byID[s.ID] = s
		}
	}

	var b strings.Builder
	b.WriteString("| Criterion | Score | Max | Comment |\n")
	b.WriteString("|---|---:|---:|---|")
	for _, c := range r.Criteria {
		s := byID[c.ID]
		fmt.Fprintf(&b, "\n| %s | %s | %s | %s |",
			cell(c.Name), FormatNumber(s.Score), FormatNumber(c.MaxPoints), cell(s.Comment))
	}
	return b.String()
}

var cellReplacer = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")

func cell(s string) string {
	return strings.TrimSpace(cellReplacer.Replace(s))
}
