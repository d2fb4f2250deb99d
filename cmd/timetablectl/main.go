package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/ise-timetable-api/internal/scheduler"
	"github.com/noah-isme/ise-timetable-api/internal/service"
	"github.com/noah-isme/ise-timetable-api/pkg/export"
	"github.com/noah-isme/ise-timetable-api/pkg/logger"
)

type generateOptions struct {
	input   string
	seed    int64
	trials  int
	workers int
	out     string
	grid    string
	gridDir string
	verbose bool
	timeout time.Duration
}

type validateOptions struct {
	input   string
	master  string
	verbose bool
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "timetablectl",
		Short:         "Offline ISE timetable generation",
		Long:          "Runs the seven generation phases over a JSON master data fixture without a database.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(stdout)

	gen := generateOptions{workers: 1, gridDir: ".", timeout: 5 * time.Minute}
	cmdGenerate := &cobra.Command{
		Use:   "generate",
		Short: "generate timetables for every section of a fixture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd.Context(), cmd.OutOrStdout(), gen)
		},
	}
	cmdGenerate.Flags().StringVarP(&gen.input, "input", "i", "", "fixture file (JSON)")
	cmdGenerate.Flags().Int64Var(&gen.seed, "seed", 0, "seed for the lab search; 0 picks one from the clock")
	cmdGenerate.Flags().IntVar(&gen.trials, "trials", 0, "lab search orderings to evaluate")
	cmdGenerate.Flags().IntVar(&gen.workers, "workers", gen.workers, "concurrent lab search workers")
	cmdGenerate.Flags().StringVarP(&gen.out, "out", "o", "", "write timetables and report to this JSON file")
	cmdGenerate.Flags().StringVar(&gen.grid, "grid", "", "also write one weekly grid per section: csv, pdf or xlsx")
	cmdGenerate.Flags().StringVar(&gen.gridDir, "grid-dir", gen.gridDir, "directory for grid files")
	cmdGenerate.Flags().DurationVar(&gen.timeout, "timeout", gen.timeout, "abort the run after this long")
	cmdGenerate.Flags().BoolVarP(&gen.verbose, "verbose", "v", false, "log every phase")
	_ = cmdGenerate.MarkFlagRequired("input")
	root.AddCommand(cmdGenerate)

	val := validateOptions{}
	cmdValidate := &cobra.Command{
		Use:   "validate",
		Short: "re-run the validation phase over generated timetables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd.Context(), cmd.OutOrStdout(), val)
		},
	}
	cmdValidate.Flags().StringVarP(&val.input, "input", "i", "", "timetables file written by generate --out")
	cmdValidate.Flags().StringVar(&val.master, "master", "", "fixture with the master data; needed for workload cap checks")
	cmdValidate.Flags().BoolVarP(&val.verbose, "verbose", "v", false, "debug logging")
	_ = cmdValidate.MarkFlagRequired("input")
	root.AddCommand(cmdValidate)

	return root
}

func runGenerate(ctx context.Context, stdout io.Writer, opts generateOptions) error {
	if opts.workers < 1 {
		return fmt.Errorf("workers must be >= 1")
	}
	var format export.Format
	if opts.grid != "" {
		f, err := export.ParseFormat(opts.grid)
		if err != nil {
			return err
		}
		format = f
	}

	fx, err := loadFixture(opts.input)
	if err != nil {
		return err
	}
	cfg := scheduler.DefaultConfig()
	if fx.Config != nil {
		cfg = *fx.Config
	}
	if opts.seed != 0 {
		cfg.Seed = opts.seed
	}
	if opts.trials > 0 {
		cfg.LabTrials = opts.trials
	}
	cfg.LabWorkers = opts.workers

	log := zap.NewNop()
	if opts.verbose {
		if log, err = logger.ForCLI(true); err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	result, err := scheduler.NewPipeline(cfg, log).Run(ctx, fx.Input)
	if err != nil {
		return err
	}
	printReport(stdout, result.Report, result.Seed)

	if opts.out != "" {
		out := runOutput{RunID: result.RunID, Seed: result.Seed, Report: result.Report, Timetables: result.Timetables}
		if err := writeJSON(opts.out, out); err != nil {
			return fmt.Errorf("write %s: %w", opts.out, err)
		}
		fmt.Fprintf(stdout, "wrote %s\n", opts.out)
	}
	if format != "" {
		files, err := writeGrids(result, masterDataLabels(fx), format, opts.gridDir)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintf(stdout, "wrote %s\n", f)
		}
	}
	return nil
}

func runValidate(ctx context.Context, stdout io.Writer, opts validateOptions) error {
	out, err := loadRunOutput(opts.input)
	if err != nil {
		return err
	}
	in := inputFromTimetables(out)
	if opts.master != "" {
		fx, err := loadFixture(opts.master)
		if err != nil {
			return err
		}
		in = fx.Input
		in.RunID = out.RunID
	}

	log := zap.NewNop()
	if opts.verbose {
		if log, err = logger.ForCLI(true); err != nil {
			return err
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	report, err := scheduler.NewPipeline(scheduler.DefaultConfig(), log).Validate(ctx, in, out.Timetables)
	if err != nil {
		return err
	}
	printReport(stdout, report, out.Seed)
	if !report.Clean {
		return fmt.Errorf("validation found %d conflicts", len(report.Conflicts))
	}
	return nil
}

func masterDataLabels(fx *fixture) service.GridLabels {
	return service.NewGridLabels(masterData(fx.Input))
}

func writeGrids(result *scheduler.Result, labels service.GridLabels, format export.Format, dir string) ([]string, error) {
	exporter, err := export.ForFormat(format)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var files []string
	for _, tt := range result.Timetables {
		data, err := exporter.Render(service.BuildGrid(tt, labels))
		if err != nil {
			return files, fmt.Errorf("render %s: %w", tt.SectionID, err)
		}
		name := tt.SectionID
		if sec, ok := labels.Sections[tt.SectionID]; ok && sec.Name != "" {
			name = sec.Name
		}
		path := filepath.Join(dir, fmt.Sprintf("timetable_%s.%s", strings.ReplaceAll(name, " ", "_"), exporter.Extension()))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	return files, nil
}

func printReport(w io.Writer, report *scheduler.Report, seed int64) {
	if report == nil {
		return
	}
	fmt.Fprintf(w, "run %s  %s %s  seed %d\n", report.RunID, report.AcademicYear, report.SemesterType, seed)
	for _, phase := range report.Phases {
		fmt.Fprintf(w, "  phase %d %-22s placed %4d  unresolved %3d  %s\n",
			phase.Phase, phase.Name, phase.Placed, len(phase.Unresolved), phase.Duration.Round(time.Millisecond))
		for _, item := range phase.Unresolved {
			fmt.Fprintf(w, "      %s %s: %s\n", item.SectionID, item.Reason, item.Message)
		}
	}
	sections := make([]string, 0, len(report.SectionClean))
	for id := range report.SectionClean {
		sections = append(sections, id)
	}
	sort.Strings(sections)
	for _, id := range sections {
		state := "clean"
		if !report.SectionClean[id] {
			state = "CONFLICTS"
		}
		fmt.Fprintf(w, "  section %s: %s\n", id, state)
	}
	fmt.Fprintf(w, "clean=%t completed=%t\n", report.Clean, report.Completed)
}
