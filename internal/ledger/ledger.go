// Package ledger writes the run's CSV outputs: one row per graded submission
// in grades.csv and one row per skipped submission in skipped.csv.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/heartmarshall/autograder/internal/domain"
)

const (
	GradesFile  = "grades.csv"
	SkippedFile = "skipped.csv"
)

var (
	gradesHeader  = []string{"submission_id", "user_id", "student_name", "score", "max_score", "report_path"}
	skippedHeader = []string{"submission_id", "user_id", "student_name", "stage", "reason", "raw_response_path"}
)

// Ledger appends rows to both CSV files. Every row is flushed to disk
// before the Record call returns. Safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	files   []*os.File
	grades  *csv.Writer
	skipped *csv.Writer
	closed  bool
}

// Open creates (truncating) both files in dir and writes their headers.
func Open(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create %s: %w", dir, err)
	}

	gf, err := os.Create(filepath.Join(dir, GradesFile))
	if err != nil {
		return nil, fmt.Errorf("ledger: create %s: %w", GradesFile, err)
	}
	sf, err := os.Create(filepath.Join(dir, SkippedFile))
	if err != nil {
		gf.Close()
		return nil, fmt.Errorf("ledger: create %s: %w", SkippedFile, err)
	}

	l := &Ledger{
		files:   []*os.File{gf, sf},
		grades:  csv.NewWriter(gf),
		skipped: csv.NewWriter(sf),
	}
	if err := writeRow(l.grades, gradesHeader); err != nil {
		l.Close()
		return nil, fmt.Errorf("ledger: write header: %w", err)
	}
	if err := writeRow(l.skipped, skippedHeader); err != nil {
		l.Close()
		return nil, fmt.Errorf("ledger: write header: %w", err)
	}
	return l, nil
}

// RecordGrade appends one grades.csv row.
func (l *Ledger) RecordGrade(rec domain.GradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("ledger: closed")
	}

	err := writeRow(l.grades, []string{
		rec.SubmissionID,
		rec.UserID,
		rec.StudentName,
		formatNumber(rec.TotalScore),
		formatNumber(rec.MaxScore),
		rec.ReportPath,
	})
	if err != nil {
		return fmt.Errorf("ledger: record grade %s: %w", rec.SubmissionID, err)
	}
	return nil
}

// RecordSkip appends one skipped.csv row.
func (l *Ledger) RecordSkip(rec domain.SkipRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("ledger: closed")
	}

	err := writeRow(l.skipped, []string{
		rec.SubmissionID,
		rec.UserID,
		rec.StudentName,
		string(rec.Stage),
		rec.Reason,
		rec.RawResponsePath,
	})
	if err != nil {
		return fmt.Errorf("ledger: record skip %s: %w", rec.SubmissionID, err)
	}
	return nil
}

// Close flushes and closes both files. It is safe to call more than once.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	l.grades.Flush()
	l.skipped.Flush()
	errs := []error{l.grades.Error(), l.skipped.Error()}
	for _, f := range l.files {
		errs = append(errs, f.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("ledger: close: %w", err)
	}
	return nil
}

func writeRow(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
