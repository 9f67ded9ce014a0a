package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/soyeahso/coursemate/internal/app"
	"github.com/soyeahso/coursemate/internal/config"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := func(cfg *config.Config) {
				if port != 0 {
					cfg.Gateway.Port = port
				}
				if bind != "" {
					cfg.Gateway.Bind = bind
				}
			}

			return withContainer(overrides, func(cfg config.Config, c *app.Container) error {
				srv, err := c.Gateway()
				if err != nil {
					return err
				}

				// Block until SIGINT/SIGTERM
				ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				courses, err := c.Courses()
				if err != nil {
					return err
				}
				titles, err := courses.CourseTitles(ctx)
				if err != nil {
					return err
				}
				if len(titles) == 0 {
					log.Warn().Msg("knowledge base is empty, load courses with `coursemate ingest <dir>`")
				} else {
					log.Info().Int("courses", len(titles)).Msg("knowledge base ready")
				}

				return srv.Start(ctx)
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}
