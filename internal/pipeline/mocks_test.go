package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/heartmarshall/autograder/internal/domain"
	"github.com/heartmarshall/autograder/internal/grader"
	"github.com/heartmarshall/autograder/internal/rubric"
)

var (
	_ Feed            = &FeedMock{}
	_ AttachmentStore = &AttachmentStoreMock{}
	_ Extractor       = &ExtractorMock{}
	_ grader.Grader   = &GraderMock{}
	_ Ledger          = &memLedger{}
	_ History         = &memHistory{}
)

// FeedMock is a mock implementation of Feed.
type FeedMock struct {
	AssignmentNameFunc  func(ctx context.Context) (string, error)
	ListSubmissionsFunc func(ctx context.Context) ([]domain.Submission, error)
}

func (mock *FeedMock) AssignmentName(ctx context.Context) (string, error) {
	if mock.AssignmentNameFunc == nil {
		panic("FeedMock.AssignmentNameFunc: method is nil but Feed.AssignmentName was just called")
	}
	return mock.AssignmentNameFunc(ctx)
}

func (mock *FeedMock) ListSubmissions(ctx context.Context) ([]domain.Submission, error) {
	if mock.ListSubmissionsFunc == nil {
		panic("FeedMock.ListSubmissionsFunc: method is nil but Feed.ListSubmissions was just called")
	}
	return mock.ListSubmissionsFunc(ctx)
}

// AttachmentStoreMock is a mock implementation of AttachmentStore.
type AttachmentStoreMock struct {
	DownloadFunc func(ctx context.Context, att domain.Attachment, destDir string) (string, error)

	calls struct {
		Download []struct {
			Att     domain.Attachment
			DestDir string
		}
	}
	lockDownload sync.RWMutex
}

func (mock *AttachmentStoreMock) Download(ctx context.Context, att domain.Attachment, destDir string) (string, error) {
	if mock.DownloadFunc == nil {
		panic("AttachmentStoreMock.DownloadFunc: method is nil but AttachmentStore.Download was just called")
	}
	callInfo := struct {
		Att     domain.Attachment
		DestDir string
	}{Att: att, DestDir: destDir}
	mock.lockDownload.Lock()
	mock.calls.Download = append(mock.calls.Download, callInfo)
	mock.lockDownload.Unlock()
	return mock.DownloadFunc(ctx, att, destDir)
}

func (mock *AttachmentStoreMock) DownloadCalls() []struct {
	Att     domain.Attachment
	DestDir string
} {
	mock.lockDownload.RLock()
	calls := mock.calls.Download
	mock.lockDownload.RUnlock()
	return calls
}

// ExtractorMock is a mock implementation of Extractor.
type ExtractorMock struct {
	ExpandFunc      func(ctx context.Context, path, destDir string) ([]string, error)
	ExtractTextFunc func(ctx context.Context, path string) (string, error)
}

func (mock *ExtractorMock) Expand(ctx context.Context, path, destDir string) ([]string, error) {
	if mock.ExpandFunc == nil {
		panic("ExtractorMock.ExpandFunc: method is nil but Extractor.Expand was just called")
	}
	return mock.ExpandFunc(ctx, path, destDir)
}

func (mock *ExtractorMock) ExtractText(ctx context.Context, path string) (string, error) {
	if mock.ExtractTextFunc == nil {
		panic("ExtractorMock.ExtractTextFunc: method is nil but Extractor.ExtractText was just called")
	}
	return mock.ExtractTextFunc(ctx, path)
}

// GraderMock is a mock implementation of grader.Grader.
type GraderMock struct {
	ScoreFunc func(ctx context.Context, text string, r rubric.Rubric) (grader.Response, error)

	calls struct {
		Score []struct {
			Text string
		}
	}
	lockScore sync.RWMutex
}

func (mock *GraderMock) Score(ctx context.Context, text string, r rubric.Rubric) (grader.Response, error) {
	if mock.ScoreFunc == nil {
		panic("GraderMock.ScoreFunc: method is nil but Grader.Score was just called")
	}
	mock.lockScore.Lock()
	mock.calls.Score = append(mock.calls.Score, struct{ Text string }{Text: text})
	mock.lockScore.Unlock()
	return mock.ScoreFunc(ctx, text, r)
}

func (mock *GraderMock) ScoreCalls() []struct{ Text string } {
	mock.lockScore.RLock()
	calls := mock.calls.Score
	mock.lockScore.RUnlock()
	return calls
}

// memLedger keeps rows in memory.
type memLedger struct {
	mu      sync.Mutex
	grades  []domain.GradeRecord
	skipped []domain.SkipRecord
}

func (l *memLedger) RecordGrade(rec domain.GradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.grades = append(l.grades, rec)
	return nil
}

func (l *memLedger) RecordSkip(rec domain.SkipRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.skipped = append(l.skipped, rec)
	return nil
}

// memHistory keeps run history in memory.
type memHistory struct {
	mu        sync.Mutex
	begun     []domain.Run
	finished  []domain.Run
	positions []int
}

func (h *memHistory) BeginRun(_ context.Context, run domain.Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.begun = append(h.begun, run)
	return nil
}

func (h *memHistory) RecordGrade(_ context.Context, _ uuid.UUID, position int, _ domain.GradeRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.positions = append(h.positions, position)
	return nil
}

func (h *memHistory) RecordSkip(_ context.Context, _ uuid.UUID, position int, _ domain.SkipRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.positions = append(h.positions, position)
	return nil
}

func (h *memHistory) FinishRun(_ context.Context, run domain.Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, run)
	return nil
}
