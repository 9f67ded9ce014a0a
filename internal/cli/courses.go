package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/coursemate/internal/app"
	"github.com/soyeahso/coursemate/internal/config"
	"github.com/soyeahso/coursemate/internal/search"
	"github.com/spf13/cobra"
)

func newCoursesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "courses",
		Short: "List the courses in the knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(nil, func(cfg config.Config, c *app.Container) error {
				courses, err := c.Courses()
				if err != nil {
					return err
				}
				titles, err := courses.CourseTitles(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d course(s)\n", len(titles))
				for _, t := range titles {
					fmt.Fprintf(out, "  %s\n", t)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(newCoursesShowCmd())
	cmd.AddCommand(newCoursesRemoveCmd())
	return cmd
}

func newCoursesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a course outline; the name may be partial",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(nil, func(cfg config.Config, c *app.Container) error {
				courses, err := c.Courses()
				if err != nil {
					return err
				}
				raw, err := json.Marshal(map[string]string{"course_title": strings.Join(args, " ")})
				if err != nil {
					return err
				}
				outline, err := search.NewOutlineTool(courses).Execute(cmd.Context(), raw)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), outline)
				return nil
			})
		},
	}
}

func newCoursesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a course and its content; the name may be partial",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(nil, func(cfg config.Config, c *app.Container) error {
				courses, err := c.Courses()
				if err != nil {
					return err
				}
				name := strings.Join(args, " ")
				title, ok := courses.ResolveCourseName(cmd.Context(), name)
				if !ok {
					return fmt.Errorf("no course found matching %q", name)
				}
				if err := courses.DeleteCourse(cmd.Context(), title); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", title)
				return nil
			})
		},
	}
}
