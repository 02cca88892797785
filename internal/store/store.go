// Package store keeps a SQL history of grading runs: one row per run plus the
// grade and skip rows it produced. It supports SQLite and PostgreSQL through
// database/sql.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // driver: sqlite

	"github.com/heartmarshall/autograder/internal/config"
	"github.com/heartmarshall/autograder/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Driver names a supported database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Store records grading runs.
type Store struct {
	db     *sql.DB
	driver Driver
	sb     sq.StatementBuilderType
	log    *slog.Logger
}

// Open connects to the configured database and applies pending migrations.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*Store, error) {
	driver := Driver(cfg.Driver)

	var (
		drvName string
		dialect goose.Dialect
		format  sq.PlaceholderFormat
	)
	switch driver {
	case DriverSQLite:
		drvName, dialect, format = "sqlite", goose.DialectSQLite3, sq.Question
	case DriverPostgres:
		drvName, dialect, format = "pgx", goose.DialectPostgres, sq.Dollar
	default:
		return nil, fmt.Errorf("%w: unsupported store driver %q", domain.ErrConfig, cfg.Driver)
	}

	db, err := sql.Open(drvName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer at a time; also keeps in-memory databases on one connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: enable foreign keys: %w", err)
		}
	}

	s := &Store{
		db:     db,
		driver: driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(format),
		log:    logger.With("component", "store", "driver", string(driver)),
	}
	if err := s.migrate(ctx, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context, dialect goose.Dialect) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("store: migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(dialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("store: goose new provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: goose up: %w", err)
	}
	for _, r := range results {
		s.log.InfoContext(ctx, "migration applied",
			slog.Int64("version", r.Source.Version),
			slog.Duration("duration", r.Duration),
		)
	}
	return nil
}

// Driver returns the database backend in use.
func (s *Store) Driver() Driver {
	return s.driver
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun inserts the run row. Counts and FinishedAt are ignored.
func (s *Store) BeginRun(ctx context.Context, run domain.Run) error {
	q := s.sb.Insert("runs").
		Columns("id", "course_id", "assignment_id", "assignment_name", "started_at").
		Values(run.ID.String(), run.CourseID, run.AssignmentID, run.AssignmentName, toMillis(run.StartedAt))
	return s.exec(ctx, q, "begin run", run.ID.String())
}

// FinishRun stores the final counts and completion time of a run.
func (s *Store) FinishRun(ctx context.Context, run domain.Run) error {
	q := s.sb.Update("runs").
		Set("finished_at", toMillis(run.FinishedAt)).
		Set("listed", run.Listed).
		Set("graded", run.Graded).
		Set("skipped", run.Skipped).
		Where(sq.Eq{"id": run.ID.String()})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err, "finish run", run.ID.String())
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store: run %s: %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

// RecordGrade stores a grade row. position is the submission's index in the feed.
func (s *Store) RecordGrade(ctx context.Context, runID uuid.UUID, position int, rec domain.GradeRecord) error {
	q := s.sb.Insert("grades").
		Columns("run_id", "position", "submission_id", "user_id", "student_name", "total_score", "max_score", "report_path").
		Values(runID.String(), position, rec.SubmissionID, rec.UserID, rec.StudentName, rec.TotalScore, rec.MaxScore, rec.ReportPath)
	return s.exec(ctx, q, "record grade", rec.SubmissionID)
}

// RecordSkip stores a skip row. position is the submission's index in the feed.
func (s *Store) RecordSkip(ctx context.Context, runID uuid.UUID, position int, rec domain.SkipRecord) error {
	q := s.sb.Insert("skips").
		Columns("run_id", "position", "submission_id", "user_id", "student_name", "stage", "reason", "raw_response_path").
		Values(runID.String(), position, rec.SubmissionID, rec.UserID, rec.StudentName, string(rec.Stage), rec.Reason, rec.RawResponsePath)
	return s.exec(ctx, q, "record skip", rec.SubmissionID)
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	query, args, err := s.sb.
		Select("id", "course_id", "assignment_id", "assignment_name", "started_at", "finished_at", "listed", "graded", "skipped").
		From("runs").
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return domain.Run{}, fmt.Errorf("store: get run: %w", err)
	}

	var (
		run        domain.Run
		rawID      string
		startedAt  int64
		finishedAt sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&rawID, &run.CourseID, &run.AssignmentID, &run.AssignmentName,
		&startedAt, &finishedAt, &run.Listed, &run.Graded, &run.Skipped,
	)
	if err != nil {
		return domain.Run{}, mapError(err, "get run", id.String())
	}

	run.ID, err = uuid.Parse(rawID)
	if err != nil {
		return domain.Run{}, fmt.Errorf("store: run id %q: %w", rawID, err)
	}
	run.StartedAt = fromMillis(startedAt)
	if finishedAt.Valid {
		run.FinishedAt = fromMillis(finishedAt.Int64)
	}
	return run, nil
}

// Grades returns the grade rows of a run in feed order.
func (s *Store) Grades(ctx context.Context, runID uuid.UUID) ([]domain.GradeRecord, error) {
	return s.listGrades(ctx, sq.Eq{"g.run_id": runID.String()}, "g.position ASC")
}

// SubmissionHistory returns every grade ever recorded for a submission,
// oldest run first.
func (s *Store) SubmissionHistory(ctx context.Context, submissionID string) ([]domain.GradeRecord, error) {
	return s.listGrades(ctx, sq.Eq{"g.submission_id": submissionID}, "r.started_at ASC", "g.position ASC")
}

func (s *Store) listGrades(ctx context.Context, where sq.Eq, orderBy ...string) ([]domain.GradeRecord, error) {
	query, args, err := s.sb.
		Select("g.submission_id", "g.user_id", "g.student_name", "g.total_score", "g.max_score", "g.report_path").
		From("grades g").
		Join("runs r ON r.id = g.run_id").
		Where(where).
		OrderBy(orderBy...).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: list grades: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list grades", "")
	}
	defer rows.Close()

	var out []domain.GradeRecord
	for rows.Next() {
		var g domain.GradeRecord
		if err := rows.Scan(&g.SubmissionID, &g.UserID, &g.StudentName, &g.TotalScore, &g.MaxScore, &g.ReportPath); err != nil {
			return nil, fmt.Errorf("store: scan grade: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "list grades", "")
	}
	return out, nil
}

// Skips returns the skip rows of a run in feed order.
func (s *Store) Skips(ctx context.Context, runID uuid.UUID) ([]domain.SkipRecord, error) {
	query, args, err := s.sb.
		Select("submission_id", "user_id", "student_name", "stage", "reason", "raw_response_path").
		From("skips").
		Where(sq.Eq{"run_id": runID.String()}).
		OrderBy("position ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: list skips: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list skips", runID.String())
	}
	defer rows.Close()

	var out []domain.SkipRecord
	for rows.Next() {
		var (
			r     domain.SkipRecord
			stage string
		)
		if err := rows.Scan(&r.SubmissionID, &r.UserID, &r.StudentName, &stage, &r.Reason, &r.RawResponsePath); err != nil {
			return nil, fmt.Errorf("store: scan skip: %w", err)
		}
		r.Stage = domain.Stage(stage)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "list skips", runID.String())
	}
	return out, nil
}

func (s *Store) exec(ctx context.Context, q sq.Sqlizer, op, key string) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return mapError(err, op, key)
	}
	return nil
}

// mapError converts driver errors to domain errors.
// Context errors pass through unchanged.
func mapError(err error, op, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("store: %s %s: %w", op, key, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: %s %s: %w", op, key, domain.ErrNotFound)
	}
	return fmt.Errorf("store: %s %s: %w", op, key, err)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
