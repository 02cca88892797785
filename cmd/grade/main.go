// Command grade grades every submission of one Canvas assignment with a
// language model and writes per-student reports plus a CSV ledger.
//
// Usage:
//
//	grade --config config.yaml
//	grade history --config config.yaml --run <run id>
//	grade history --config config.yaml --submission <submission id>
//
// Exit codes: 0 = success, 1 = error, 2 = configuration error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/heartmarshall/autograder/internal/app"
	"github.com/heartmarshall/autograder/internal/canvas"
	"github.com/heartmarshall/autograder/internal/config"
	"github.com/heartmarshall/autograder/internal/domain"
	"github.com/heartmarshall/autograder/internal/extract"
	"github.com/heartmarshall/autograder/internal/grader"
	"github.com/heartmarshall/autograder/internal/ledger"
	"github.com/heartmarshall/autograder/internal/pipeline"
	"github.com/heartmarshall/autograder/internal/report"
	"github.com/heartmarshall/autograder/internal/rubric"
	"github.com/heartmarshall/autograder/internal/store"
)

const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "history" {
		return runHistory(ctx, args[1:], stdout, stderr)
	}

	fs := flag.NewFlagSet("grade", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML or JSON config (env-only when empty)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	if *showVersion {
		fmt.Fprintln(stdout, app.BuildVersion())
		return exitOK
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "grade: %v\n", err)
		return exitConfig
	}

	logger := app.NewLogger(stderr, cfg.Log)
	logger.Info("starting grader",
		slog.String("version", app.BuildVersion()),
		slog.String("provider", cfg.LLM.Provider),
		slog.String("model", cfg.LLM.Model),
		slog.Int64("course_id", cfg.Canvas.CourseID),
		slog.Int64("assignment_id", cfg.Canvas.AssignmentID),
	)

	summary, err := grade(ctx, cfg, logger)
	if err != nil {
		logger.Error("grading failed", slog.String("error", err.Error()))
		return exitCode(err)
	}

	fmt.Fprintf(stdout, "run %s: listed %d, graded %d, skipped %d\n",
		summary.ID, summary.Listed, summary.Graded, summary.Skipped)
	return exitOK
}

func exitCode(err error) int {
	if errors.Is(err, domain.ErrConfig) {
		return exitConfig
	}
	return exitError
}

// grade wires the collaborators and runs the pipeline once.
func grade(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Run, error) {
	rb, err := rubric.Load(cfg.RubricPath)
	if err != nil {
		return domain.Run{}, err
	}
	tmpl, err := report.LoadTemplate(cfg.Report.TemplatePath)
	if err != nil {
		return domain.Run{}, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	g, err := grader.New(cfg.LLM, logger)
	if err != nil {
		return domain.Run{}, err
	}

	// The ledger exists with its headers before anything is fetched.
	lg, err := ledger.Open(cfg.OutputDir)
	if err != nil {
		return domain.Run{}, err
	}
	defer func() {
		if err := lg.Close(); err != nil {
			logger.Error("close ledger", slog.String("error", err.Error()))
		}
	}()

	deps := pipeline.Deps{
		Extractor: extract.New(logger),
		Grader:    g,
		Ledger:    lg,
	}
	cv := canvas.NewClient(cfg.Canvas, logger)
	deps.Feed, deps.Files = cv, cv

	if cfg.Store.Enabled() {
		st, err := store.Open(ctx, cfg.Store, logger)
		if err != nil {
			return domain.Run{}, err
		}
		defer st.Close()
		logger.Info("run history enabled", slog.String("driver", string(st.Driver())))
		deps.History = st
	}

	p := pipeline.New(deps, pipeline.Options{
		Rubric:         rb,
		Template:       tmpl,
		OutputDir:      cfg.OutputDir,
		CourseID:       cfg.Canvas.CourseID,
		AssignmentID:   cfg.Canvas.AssignmentID,
		MaxSubmissions: cfg.Limits.MaxSubmissions,
		Workers:        cfg.Limits.Workers,
	}, logger)

	return p.Run(ctx)
}
