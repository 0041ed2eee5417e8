package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/subsim/internal/application/substructure"
	"github.com/turtacn/subsim/internal/infrastructure/storage/tabular"
	"github.com/turtacn/subsim/pkg/errors"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

type runOptions struct {
	input   string
	library string
	output  string
	json    bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Annotate a query table against a reference library",
		Example: `  subsim run --input queries.tsv --library reference.tsv --output annotated.tsv
  subsim run --input s3://inbox/q.tsv --library s3://libs/ref.tsv --output s3://results/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "query table (path or s3://bucket/key)")
	cmd.Flags().StringVarP(&opts.library, "library", "l", "", "reference table (default: engine.library_path)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "annotated table or directory (default: ./"+tabular.DefaultOutputName+")")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the run summary as JSON")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runRun(cmd *cobra.Command, opts *runOptions) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := cc.runContext(cmd.Context())
	defer cancel()

	app, err := NewApp(ctx, cc.Config, cc.Logger)
	if err != nil {
		return err
	}
	defer app.Close(cmd.Context())

	if _, err := app.LoadLibrary(ctx, opts.library); err != nil {
		return err
	}
	output := tabular.OutputLocation(opts.output)
	report, err := app.Runner.RunTable(ctx, opts.input, output)
	if err != nil {
		return err
	}

	if opts.json {
		return printJSON(cmd, report.Summary())
	}
	fmt.Fprint(cmd.OutOrStdout(), formatRunReport(report, output))
	return nil
}

func formatRunReport(r *mtypes.RunReport, output string) string {
	rows := [][]string{
		{"run", r.RunID.String()},
		{"library", r.LibraryVersion},
		{"mode", string(r.MatchMode)},
		{"processed", strconv.Itoa(r.Processed)},
		{"matched", strconv.Itoa(r.Matched)},
		{"skipped", strconv.Itoa(r.TotalSkipped())},
		{"cache hits", strconv.Itoa(r.CacheHits)},
		{"duration", r.Duration().String()},
		{"output", output},
	}
	rows = append(rows, skipRows(r.SkipCounts)...)
	return FormatTable([]string{"FIELD", "VALUE"}, rows)
}

func skipRows(counts map[mtypes.SkipReason]int) [][]string {
	reasons := make([]string, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	rows := make([][]string, 0, len(reasons))
	for _, reason := range reasons {
		rows = append(rows, []string{"skipped " + reason, strconv.Itoa(counts[mtypes.SkipReason(reason)])})
	}
	return rows
}

func newLibraryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Reference library operations",
	}
	cmd.AddCommand(newLibraryInspectCmd())
	return cmd
}

func newLibraryInspectCmd() *cobra.Command {
	var (
		location string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Build a reference library and print its statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := cc.runContext(cmd.Context())
			defer cancel()

			app, err := NewApp(ctx, cc.Config, cc.Logger)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			if location == "" {
				location = cc.Config.Engine.LibraryPath
			}
			if location == "" {
				return errors.New(errors.ErrCodeInvalidLibrary, "no library given").
					WithDetail("set --library or engine.library_path")
			}
			report, err := app.Runner.InspectLibrary(ctx, location)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, report)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatLibraryReport(report))
			return nil
		},
	}
	cmd.Flags().StringVarP(&location, "library", "l", "", "reference table (default: engine.library_path)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func formatLibraryReport(r *substructure.LibraryReport) string {
	rows := [][]string{
		{"version", r.Version},
		{"mode", string(r.Mode)},
		{"entries", strconv.Itoa(r.Entries)},
		{"classes", strconv.Itoa(r.Classes)},
		{"max indexed size", strconv.Itoa(r.MaxIndexed)},
		{"skipped", strconv.Itoa(len(r.Skipped))},
		{"duration", r.Duration.String()},
	}
	rows = append(rows, skipRows(r.SkipCounts)...)
	return FormatTable([]string{"FIELD", "VALUE"}, rows)
}
