package cli

import (
	"fmt"
	"io"

	"github.com/soyeahso/coursemate/internal/app"
	"github.com/soyeahso/coursemate/internal/config"
	"github.com/soyeahso/coursemate/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coursemate",
		Short: "coursemate: answers questions about course materials",
		Long: "coursemate answers questions about course materials. It searches an ingested " +
			"course knowledge base through tool calls and serves answers over HTTP and WebSocket.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			level := logLevel
			if level == "" {
				level = "info"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.coursemate/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newCoursesCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newMCPCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// loadConfig loads and validates the config file. adjust, when non-nil,
// applies command flags before validation. The --log-level flag overrides
// the configured level, and the process logger is rebuilt from the logging
// section.
func loadConfig(adjust func(*config.Config)) (config.Config, io.Closer, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if adjust != nil {
		adjust(&cfg)
	}

	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, nil, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}

	l, closer, err := logging.NewWithOptions(logging.Options{
		Level: cfg.Logging.Level,
		Style: cfg.Logging.ConsoleStyle,
		File:  cfg.Logging.File,
	})
	if err != nil {
		return cfg, nil, err
	}
	log = l
	return cfg, closer, nil
}

// withContainer loads config, builds the service container and runs fn.
func withContainer(adjust func(*config.Config), fn func(cfg config.Config, c *app.Container) error) error {
	cfg, closer, err := loadConfig(adjust)
	if err != nil {
		return err
	}
	defer closer.Close()

	if cfg.Store.Path == "" {
		if err := paths.EnsureDirs(); err != nil {
			return fmt.Errorf("creating data directories: %w", err)
		}
	}

	c, err := app.New(cfg, paths, log)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(cfg, c)
}
