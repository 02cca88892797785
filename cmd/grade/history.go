package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/autograder/internal/app"
	"github.com/heartmarshall/autograder/internal/config"
	"github.com/heartmarshall/autograder/internal/domain"
	"github.com/heartmarshall/autograder/internal/report"
	"github.com/heartmarshall/autograder/internal/store"
)

// runHistory prints what the run history store recorded: one run with its
// grade and skip rows, or every grade a submission has received.
func runHistory(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("grade history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML or JSON config (env-only when empty)")
	runFlag := fs.String("run", "", "id of the run to show")
	submissionFlag := fs.String("submission", "", "id of the submission whose grades to list")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}
	if (*runFlag == "") == (*submissionFlag == "") {
		fmt.Fprintln(stderr, "grade history: exactly one of --run or --submission is required")
		return exitConfig
	}

	var runID uuid.UUID
	if *runFlag != "" {
		id, err := uuid.Parse(*runFlag)
		if err != nil {
			fmt.Fprintf(stderr, "grade history: invalid run id %q: %v\n", *runFlag, err)
			return exitConfig
		}
		runID = id
	}

	cfg, err := config.LoadHistory(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "grade history: %v\n", err)
		return exitConfig
	}
	logger := app.NewLogger(stderr, cfg.Log)

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("open history store", slog.String("error", err.Error()))
		return exitCode(err)
	}
	defer st.Close()

	if *runFlag != "" {
		err = printRun(ctx, st, runID, stdout)
	} else {
		err = printSubmission(ctx, st, *submissionFlag, stdout)
	}
	if errors.Is(err, domain.ErrNotFound) {
		fmt.Fprintf(stderr, "grade history: %v\n", err)
		return exitError
	}
	if err != nil {
		logger.Error("read history", slog.String("error", err.Error()))
		return exitCode(err)
	}
	return exitOK
}

func printRun(ctx context.Context, st *store.Store, id uuid.UUID, w io.Writer) error {
	run, err := st.GetRun(ctx, id)
	if err != nil {
		return err
	}
	grades, err := st.Grades(ctx, id)
	if err != nil {
		return err
	}
	skips, err := st.Skips(ctx, id)
	if err != nil {
		return err
	}

	finished := "in progress"
	if run.Finished() {
		finished = run.FinishedAt.Format(time.RFC3339)
	}
	fmt.Fprintf(w, "run %s (%s)\n", run.ID, st.Driver())
	fmt.Fprintf(w, "assignment: %s (course %d, assignment %d)\n", run.AssignmentName, run.CourseID, run.AssignmentID)
	fmt.Fprintf(w, "started:    %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "finished:   %s\n", finished)
	fmt.Fprintf(w, "listed %d, graded %d, skipped %d\n", run.Listed, run.Graded, run.Skipped)

	if len(grades) > 0 {
		fmt.Fprintln(w)
		if err := printGrades(w, grades); err != nil {
			return err
		}
	}
	if len(skips) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SUBMISSION\tUSER\tSTUDENT\tSTAGE\tREASON")
		for _, s := range skips {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.SubmissionID, s.UserID, s.StudentName, s.Stage, s.Reason)
		}
		return tw.Flush()
	}
	return nil
}

func printSubmission(ctx context.Context, st *store.Store, submissionID string, w io.Writer) error {
	grades, err := st.SubmissionHistory(ctx, submissionID)
	if err != nil {
		return err
	}
	if len(grades) == 0 {
		return fmt.Errorf("submission %s: %w", submissionID, domain.ErrNotFound)
	}
	return printGrades(w, grades)
}

func printGrades(w io.Writer, grades []domain.GradeRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBMISSION\tUSER\tSTUDENT\tSCORE\tREPORT")
	for _, g := range grades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s / %s\t%s\n",
			g.SubmissionID, g.UserID, g.StudentName,
			report.FormatNumber(g.TotalScore), report.FormatNumber(g.MaxScore),
			g.ReportPath,
		)
	}
	return tw.Flush()
}
