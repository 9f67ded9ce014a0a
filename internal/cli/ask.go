package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/soyeahso/coursemate/internal/app"
	"github.com/soyeahso/coursemate/internal/config"
	"github.com/soyeahso/coursemate/internal/generator"
	"github.com/soyeahso/coursemate/internal/rag"
	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var (
		sessionID string
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about the loaded courses and print the answer",
		Long: "Ask a question about the loaded courses. With session.store: sqlite, " +
			"--session continues an earlier conversation across runs.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(nil, func(cfg config.Config, c *app.Container) error {
				svc, err := c.Service()
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				req := rag.QueryRequest{
					Query:     strings.Join(args, " "),
					SessionID: sessionID,
				}
				if verbose {
					req.Observe = func(e generator.Event) { printStep(cmd.ErrOrStderr(), e) }
				}

				ans, err := svc.Query(ctx, req)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, ans.Answer)
				if len(ans.Sources) > 0 {
					fmt.Fprintln(out, "\nSources:")
					for _, s := range ans.Sources {
						fmt.Fprintf(out, "  - %s\n", formatSource(s))
					}
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "\n[session=%s duration=%s]\n",
					ans.SessionID, ans.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to continue")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each model call and tool call")

	return cmd
}

// formatSource renders a "label||link" citation as "label (link)".
func formatSource(s string) string {
	label, link, ok := strings.Cut(s, "||")
	if !ok || link == "" {
		return label
	}
	return fmt.Sprintf("%s (%s)", label, link)
}

func printStep(w io.Writer, e generator.Event) {
	switch e.Type {
	case generator.EventModelCall:
		tools := "tools on"
		if !e.Tools {
			tools = "tools off"
		}
		fmt.Fprintf(w, "[round %d] model call (%s)\n", e.Round, tools)
	case generator.EventToolCall:
		fmt.Fprintf(w, "[round %d] %s %s\n", e.Round, e.Tool, e.Input)
	case generator.EventToolResult:
		fmt.Fprintf(w, "[round %d] %s returned %d chars\n", e.Round, e.Tool, len(e.Output))
	}
}
