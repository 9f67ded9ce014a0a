package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/soyeahso/coursemate/internal/app"
	"github.com/soyeahso/coursemate/internal/config"
	"github.com/soyeahso/coursemate/internal/mcp"
	"github.com/soyeahso/coursemate/internal/search"
	"github.com/soyeahso/coursemate/internal/version"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the course search tools over MCP on stdin/stdout",
		Long: "Serve search_course_content and get_course_outline as a Model Context Protocol " +
			"server on stdin/stdout, so other MCP clients can query the knowledge base. " +
			"No LLM provider is needed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(nil, func(cfg config.Config, c *app.Container) error {
				courses, err := c.Courses()
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				srv := mcp.NewServer(search.NewRegistry(courses),
					mcp.ServerInfo{Name: "coursemate", Version: version.Version}, log)
				return srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}
