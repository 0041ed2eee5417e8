package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/turtacn/subsim/internal/interfaces/watcher"
)

func newWatchCmd() *cobra.Command {
	var library, inbox, outputDir, pattern string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Annotate every table dropped into an inbox directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if inbox != "" {
				cc.Config.Inbox.Dir = inbox
			}
			if outputDir != "" {
				cc.Config.Inbox.OutputDir = outputDir
			}
			if pattern != "" {
				cc.Config.Inbox.Pattern = pattern
			}
			return runWatch(cmd.Context(), cc, library)
		},
	}
	cmd.Flags().StringVarP(&library, "library", "l", "", "reference table (default: engine.library_path)")
	cmd.Flags().StringVar(&inbox, "inbox", "", "directory to watch (default: inbox.dir)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "where annotated tables go (default: the inbox)")
	cmd.Flags().StringVar(&pattern, "pattern", "", "file name glob (default: inbox.pattern)")
	return cmd
}

func runWatch(ctx context.Context, cc *CLIContext, library string) error {
	app, err := NewApp(ctx, cc.Config, cc.Logger)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	w, err := watcher.New(cc.Config.Inbox, app.Runner, cc.Logger)
	if err != nil {
		return err
	}
	if _, err := app.LoadLibrary(ctx, library); err != nil {
		return err
	}
	app.ServeMetrics(ctx)
	return w.Run(ctx)
}
