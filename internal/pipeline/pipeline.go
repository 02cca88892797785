// Package pipeline grades every submission of an assignment: download,
// extract, score, normalize, render, and record, one submission per task.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/autograder/internal/domain"
	"github.com/heartmarshall/autograder/internal/grader"
	"github.com/heartmarshall/autograder/internal/report"
	"github.com/heartmarshall/autograder/internal/rubric"
	"github.com/heartmarshall/autograder/internal/scoring"
)

const (
	reportFile      = "report.md"
	rawResponseFile = "raw_response.txt"
)

// Feed lists the submissions of one assignment.
type Feed interface {
	AssignmentName(ctx context.Context) (string, error)
	ListSubmissions(ctx context.Context) ([]domain.Submission, error)
}

// AttachmentStore fetches attachment bytes to local disk.
type AttachmentStore interface {
	Download(ctx context.Context, att domain.Attachment, destDir string) (string, error)
}

// Extractor turns local files into text.
type Extractor interface {
	Expand(ctx context.Context, path, destDir string) ([]string, error)
	ExtractText(ctx context.Context, path string) (string, error)
}

// Ledger receives rows in feed order.
type Ledger interface {
	RecordGrade(rec domain.GradeRecord) error
	RecordSkip(rec domain.SkipRecord) error
}

// History persists run metadata next to the ledger. Optional.
type History interface {
	BeginRun(ctx context.Context, run domain.Run) error
	RecordGrade(ctx context.Context, runID uuid.UUID, position int, rec domain.GradeRecord) error
	RecordSkip(ctx context.Context, runID uuid.UUID, position int, rec domain.SkipRecord) error
	FinishRun(ctx context.Context, run domain.Run) error
}

// Deps are the collaborators of a Pipeline. History may be nil.
type Deps struct {
	Feed      Feed
	Files     AttachmentStore
	Extractor Extractor
	Grader    grader.Grader
	Ledger    Ledger
	History   History
}

// Options control one run.
type Options struct {
	Rubric         rubric.Rubric
	Template       string
	OutputDir      string
	CourseID       int64
	AssignmentID   int64
	MaxSubmissions int
	Workers        int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Pipeline grades the submissions of one assignment.
type Pipeline struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

// New creates a Pipeline.
func New(deps Deps, opts Options, logger *slog.Logger) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		deps: deps,
		opts: opts,
		log:  logger.With("component", "pipeline"),
	}
}

// outcome is the terminal state of one submission: exactly one of grade or
// skip is set. fatal is set when the failure means no later submission can
// succeed either.
type outcome struct {
	grade *domain.GradeRecord
	skip  *domain.SkipRecord
	fatal error
}

// Run grades every listed submission and returns the run summary.
//
// A failed listing ends the run. A submission error wrapping domain.ErrConfig
// stops new submissions from starting. Any other per-submission failure
// becomes a skip row and processing continues. Ledger write errors are
// returned once the run is over.
func (p *Pipeline) Run(ctx context.Context) (domain.Run, error) {
	run := domain.Run{
		ID:           uuid.New(),
		CourseID:     p.opts.CourseID,
		AssignmentID: p.opts.AssignmentID,
		StartedAt:    p.opts.Now(),
	}
	log := p.log.With("run_id", run.ID.String())

	name, err := p.deps.Feed.AssignmentName(ctx)
	switch {
	case errors.Is(err, domain.ErrConfig):
		return run, fmt.Errorf("pipeline: assignment: %w", err)
	case err != nil:
		log.WarnContext(ctx, "assignment lookup failed", slog.String("error", err.Error()))
		name = "Assignment"
	}
	run.AssignmentName = name

	if p.deps.History != nil {
		if err := p.deps.History.BeginRun(ctx, run); err != nil {
			return run, fmt.Errorf("pipeline: begin run: %w", err)
		}
	}

	subs, err := p.deps.Feed.ListSubmissions(ctx)
	if err != nil {
		p.finish(ctx, log, &run)
		return run, fmt.Errorf("pipeline: list submissions: %w", err)
	}
	if p.opts.MaxSubmissions > 0 && len(subs) > p.opts.MaxSubmissions {
		subs = subs[:p.opts.MaxSubmissions]
	}
	run.Listed = len(subs)
	log.InfoContext(ctx, "submissions listed",
		slog.String("assignment", name),
		slog.Int("count", len(subs)),
		slog.Int("workers", p.opts.Workers),
	)

	// Workers read this copy; the writer updates run's counters.
	meta := run
	w := &orderedWriter{p: p, run: &run, log: log, results: make([]*outcome, len(subs))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, sub := range subs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out := p.process(gctx, meta, sub)
			w.put(ctx, i, out)
			return out.fatal
		})
	}
	fatal := g.Wait()
	w.drain(ctx)

	p.finish(ctx, log, &run)

	switch {
	case fatal != nil:
		return run, fmt.Errorf("pipeline: %w", fatal)
	case w.err != nil:
		return run, fmt.Errorf("pipeline: %w", w.err)
	case ctx.Err() != nil:
		return run, ctx.Err()
	}
	return run, nil
}

func (p *Pipeline) finish(ctx context.Context, log *slog.Logger, run *domain.Run) {
	run.FinishedAt = p.opts.Now()
	if p.deps.History != nil {
		// The run row is closed even when the run itself was cancelled.
		if err := p.deps.History.FinishRun(context.WithoutCancel(ctx), *run); err != nil {
			log.WarnContext(ctx, "history finish run failed", slog.String("error", err.Error()))
		}
	}
	log.InfoContext(ctx, "grading complete",
		slog.Int("listed", run.Listed),
		slog.Int("processed", run.Processed()),
		slog.Int("graded", run.Graded),
		slog.Int("skipped", run.Skipped),
		slog.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
	)
}

// orderedWriter records outcomes in feed order as the completed prefix grows.
type orderedWriter struct {
	p   *Pipeline
	run *domain.Run
	log *slog.Logger

	mu      sync.Mutex
	results []*outcome
	next    int
	err     error
}

func (w *orderedWriter) put(ctx context.Context, i int, out outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.results[i] = &out
	for w.next < len(w.results) && w.results[w.next] != nil {
		w.record(ctx, w.next, w.results[w.next])
		w.next++
	}
}

// drain records whatever finished after a gap left by submissions that were
// never started.
func (w *orderedWriter) drain(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for ; w.next < len(w.results); w.next++ {
		if out := w.results[w.next]; out != nil {
			w.record(ctx, w.next, out)
		}
	}
}

func (w *orderedWriter) record(ctx context.Context, pos int, out *outcome) {
	hctx := context.WithoutCancel(ctx)
	history := w.p.deps.History

	switch {
	case out.grade != nil:
		w.run.Graded++
		if err := w.p.deps.Ledger.RecordGrade(*out.grade); err != nil && w.err == nil {
			w.err = err
		}
		if history != nil {
			if err := history.RecordGrade(hctx, w.run.ID, pos, *out.grade); err != nil {
				w.log.WarnContext(ctx, "history record grade failed", slog.String("error", err.Error()))
			}
		}
	case out.skip != nil:
		w.run.Skipped++
		if err := w.p.deps.Ledger.RecordSkip(*out.skip); err != nil && w.err == nil {
			w.err = err
		}
		if history != nil {
			if err := history.RecordSkip(hctx, w.run.ID, pos, *out.skip); err != nil {
				w.log.WarnContext(ctx, "history record skip failed", slog.String("error", err.Error()))
			}
		}
	}
}

// process takes one submission through the whole pipeline.
func (p *Pipeline) process(ctx context.Context, run domain.Run, sub domain.Submission) outcome {
	log := p.log.With("run_id", run.ID.String(), "submission_id", sub.ID)

	skip := func(stage domain.Stage, reason string) outcome {
		log.WarnContext(ctx, "submission skipped", slog.String("stage", string(stage)), slog.String("reason", reason))
		return outcome{skip: &domain.SkipRecord{
			SubmissionID: sub.ID,
			UserID:       sub.UserID,
			StudentName:  sub.StudentName,
			Stage:        stage,
			Reason:       reason,
		}}
	}
	fail := func(stage domain.Stage, err error) outcome {
		out := skip(stage, err.Error())
		if errors.Is(err, domain.ErrConfig) {
			out.fatal = err
		}
		return out
	}

	if len(sub.Attachments) == 0 {
		return skip(domain.StageAttachments, "no attachments")
	}

	subDir := filepath.Join(p.opts.OutputDir, "submission_"+dirSafe(sub.ID))
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		return fail(domain.StageDownload, fmt.Errorf("create %s: %w", subDir, err))
	}

	var files []string
	for i, att := range sub.Attachments {
		attDir := filepath.Join(subDir, fmt.Sprintf("attachment_%d", i+1))
		path, err := p.deps.Files.Download(ctx, att, attDir)
		if err != nil {
			return fail(domain.StageDownload, err)
		}
		expanded, err := p.deps.Extractor.Expand(ctx, path, attDir)
		if err != nil {
			return fail(domain.StageExtract, err)
		}
		files = append(files, expanded...)
	}

	text, docPath, err := p.firstDocument(ctx, log, files)
	if text == "" {
		reason := "no extractable text"
		if err != nil {
			reason += ": " + err.Error()
		}
		return skip(domain.StageExtract, reason)
	}
	log.DebugContext(ctx, "document selected", slog.String("file", filepath.Base(docPath)), slog.Int("chars", len(text)))

	resp, err := p.deps.Grader.Score(ctx, text, p.opts.Rubric)
	if err != nil {
		out := fail(domain.StageScore, err)
		var outErr *domain.GraderOutputError
		if errors.As(err, &outErr) {
			if path := p.saveRaw(ctx, log, subDir, outErr.Raw); path != "" {
				out.skip.RawResponsePath = path
			}
		}
		return out
	}
	p.saveRaw(ctx, log, subDir, resp.Raw)

	scores := scoring.Normalize(p.opts.Rubric, resp.Criteria)
	total := scoring.Sum(scores)
	if resp.TotalScore != nil {
		total = *resp.TotalScore
	}
	maxScore := p.opts.Rubric.TotalPossible()

	body := report.Build(p.opts.Template, report.Data{
		StudentName:    sub.StudentName,
		AssignmentName: run.AssignmentName,
		SubmissionID:   sub.ID,
		UserID:         sub.UserID,
		FileName:       filepath.Base(docPath),
		TotalScore:     total,
		TotalPossible:  maxScore,
		Summary:        resp.Summary,
		RubricTable:    report.RubricTable(p.opts.Rubric, scores),
		GradedAt:       p.opts.Now(),
	})
	reportPath := filepath.Join(subDir, reportFile)
	if err := os.WriteFile(reportPath, []byte(body), 0o644); err != nil {
		return fail(domain.StageRender, fmt.Errorf("write report: %w", err))
	}

	log.InfoContext(ctx, "submission graded",
		slog.Float64("score", total),
		slog.Float64("max_score", maxScore),
	)
	return outcome{grade: &domain.GradeRecord{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		StudentName:  sub.StudentName,
		TotalScore:   total,
		MaxScore:     maxScore,
		ReportPath:   reportPath,
	}}
}

// firstDocument returns the text of the first file with non-blank content.
// Later files are ignored. The returned error is the last extraction
// failure seen, if any.
func (p *Pipeline) firstDocument(ctx context.Context, log *slog.Logger, files []string) (string, string, error) {
	var lastErr error
	for _, path := range files {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			continue
		}
		text, err := p.deps.Extractor.ExtractText(ctx, path)
		if err != nil {
			log.WarnContext(ctx, "extract failed", slog.String("file", filepath.Base(path)), slog.String("error", err.Error()))
			lastErr = err
			continue
		}
		if strings.TrimSpace(text) != "" {
			return text, path, nil
		}
	}
	return "", "", lastErr
}

func (p *Pipeline) saveRaw(ctx context.Context, log *slog.Logger, dir, raw string) string {
	if raw == "" {
		return ""
	}
	path := filepath.Join(dir, rawResponseFile)
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		log.WarnContext(ctx, "save raw response failed", slog.String("error", err.Error()))
		return ""
	}
	return path
}

// dirSafe escapes a submission id into a single path segment. The encoding
// is reversible, so distinct ids never share a directory.
func dirSafe(id string) string {
	return strings.ReplaceAll(url.PathEscape(id), ":", "%3A")
}
