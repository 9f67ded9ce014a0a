package cli

import (
	"fmt"
	"strings"

	"github.com/soyeahso/coursemate/internal/config"
	"github.com/soyeahso/coursemate/internal/store"
	"github.com/soyeahso/coursemate/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show coursemate status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "coursemate %s (commit %s)\n\n", version.Version, version.Commit)

			// Show paths
			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			auth := "none"
			if cfg.Gateway.Auth.Token != "" {
				auth = "token"
			}
			fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s\n", cfg.Gateway.Port, cfg.Gateway.Bind, auth)
			fmt.Fprintf(out, "Session: store=%s maxHistory=%d\n", cfg.Session.Store, cfg.Session.MaxHistory)

			temp := 0.0
			if cfg.Generator.Temperature != nil {
				temp = *cfg.Generator.Temperature
			}
			fmt.Fprintf(out, "Loop:    maxRounds=%d maxTokens=%d temperature=%.2f parallelTools=%v\n",
				cfg.Generator.MaxRounds, cfg.Generator.MaxTokens, temp, cfg.Generator.ParallelTools)

			// LLM providers
			if len(cfg.LLM.Providers) > 0 {
				names := make([]string, 0, len(cfg.LLM.Providers))
				for _, p := range cfg.LLM.Providers {
					names = append(names, p.Name+"("+p.API+")")
				}
				fmt.Fprintf(out, "LLM:     model=%s providers=%s\n", cfg.LLM.Model, strings.Join(names, ", "))
				if len(cfg.LLM.Fallbacks) > 0 {
					fmt.Fprintf(out, "         fallbacks=%s\n", strings.Join(cfg.LLM.Fallbacks, ", "))
				}
			} else {
				fmt.Fprintln(out, "LLM:     (no providers configured)")
			}

			// Knowledge base
			dbPath := paths.DatabasePath(cfg.Store)
			db, err := store.Open(dbPath, log)
			if err != nil {
				fmt.Fprintf(out, "Store:   %s (error: %v)\n", dbPath, err)
			} else {
				defer db.Close()
				titles, err := store.NewCourseStore(db, cfg.Store.MaxResults).CourseTitles(cmd.Context())
				if err != nil {
					fmt.Fprintf(out, "Store:   %s (error: %v)\n", dbPath, err)
				} else {
					schema, _ := db.SchemaVersion(cmd.Context())
					fmt.Fprintf(out, "Store:   %s courses=%d schema=v%d\n", dbPath, len(titles), schema)
				}
			}

			// Validation
			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
