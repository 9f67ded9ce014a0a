package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/soyeahso/coursemate/internal/app"
	"github.com/soyeahso/coursemate/internal/config"
	"github.com/soyeahso/coursemate/internal/hooks"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Load course transcript files (*.txt) from a directory",
		Long: "Load every .txt course transcript in a directory into the knowledge base. " +
			"Courses already present are skipped. A YAML report is printed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(nil, func(cfg config.Config, c *app.Container) error {
				loader, err := c.Loader()
				if err != nil {
					return err
				}
				hm, err := c.Hooks()
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				report, err := loader.LoadDir(ctx, args[0])
				if err != nil {
					return err
				}

				hm.Emit(ctx, hooks.EventCoursesLoaded, map[string]any{
					"dir":     args[0],
					"added":   len(report.Added),
					"skipped": len(report.Skipped),
					"failed":  len(report.Failed),
					"chunks":  report.Chunks,
				})

				data, err := yaml.Marshal(report)
				if err != nil {
					return err
				}
				cmd.OutOrStdout().Write(data)

				if len(report.Failed) > 0 {
					return fmt.Errorf("%d file(s) failed to load", len(report.Failed))
				}
				return nil
			})
		},
	}
}
