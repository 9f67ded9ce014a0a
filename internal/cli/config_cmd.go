package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/soyeahso/coursemate/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit config.yaml by dotted key",
		Long: `Read and write individual settings in config.yaml.

Keys are dotted paths such as gateway.port or generator.maxRounds.
Values given to "set" are stored as booleans or numbers when they parse as one.`,
	}

	cmd.AddCommand(
		keyCmd("get <key>", "Print a configuration value", 1, func(cmd *cobra.Command, raw map[string]any, key []string, args []string) (bool, error) {
			val, ok := config.GetValueAtPath(raw, key)
			if !ok {
				return false, fmt.Errorf("key %q not found", args[0])
			}
			return false, printValue(cmd.OutOrStdout(), val)
		}),
		keyCmd("set <key> <value>", "Set a configuration value", 2, func(cmd *cobra.Command, raw map[string]any, key []string, args []string) (bool, error) {
			value := parseValue(args[1])
			config.SetValueAtPath(raw, key, value)
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", args[0], value)
			return true, nil
		}),
		keyCmd("unset <key>", "Remove a configuration value", 1, func(cmd *cobra.Command, raw map[string]any, key []string, args []string) (bool, error) {
			if !config.UnsetValueAtPath(raw, key) {
				return false, fmt.Errorf("key %q not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])
			return true, nil
		}),
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), paths.Config)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the config file for problems",
			Args:  cobra.NoArgs,
			RunE:  runConfigValidate,
		},
	)
	return cmd
}

// keyEdit works on the raw YAML tree. Returning true writes the tree back.
type keyEdit func(cmd *cobra.Command, raw map[string]any, key []string, args []string) (bool, error)

func keyCmd(use, short string, nargs int, edit keyEdit) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := config.ParseConfigPath(args[0])
			if err != nil {
				return err
			}
			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				return err
			}

			changed, err := edit(cmd, raw, key, args)
			if err != nil || !changed {
				return err
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}
			return config.SaveRaw(paths.Config, raw)
		},
	}
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return err
	}

	issues := config.Validate(&cfg)
	if len(issues) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "config ok")
		return nil
	}
	for _, issue := range issues {
		fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", issue)
	}
	return fmt.Errorf("config has %d issue(s)", len(issues))
}

// printValue writes scalars on one line and maps or lists as YAML.
func printValue(w io.Writer, v any) error {
	switch v.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		_, err := fmt.Fprintln(w, v)
		return err
	}
}

// parseValue types a command-line value: true/false, then int, then float,
// else the string itself.
func parseValue(s string) any {
	switch {
	case strings.EqualFold(s, "true"):
		return true
	case strings.EqualFold(s, "false"):
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
