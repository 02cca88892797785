package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run describes one execution of the grading pipeline over an assignment.
type Run struct {
	ID             uuid.UUID
	CourseID       int64
	AssignmentID   int64
	AssignmentName string
	StartedAt      time.Time
	// FinishedAt is zero while the run is in progress.
	FinishedAt time.Time

	Listed  int
	Graded  int
	Skipped int
}

// Processed is the number of submissions that reached a terminal state.
func (r Run) Processed() int {
	return r.Graded + r.Skipped
}

// Finished reports whether the run has completed.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}
