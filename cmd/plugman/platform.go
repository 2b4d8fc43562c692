package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/felixgeelhaar/plugman/internal/domain/hooks"
)

var (
	platformNameStyle = lipgloss.NewStyle().Bold(true)
	platformDimStyle  = lipgloss.NewStyle().Faint(true)
)

func newPlatformCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "platform",
		Aliases: []string{"platforms"},
		Short:   "Inspect and prepare the platforms of a project",
	}
	cmd.AddCommand(newPlatformListCmd(c), newPlatformPrepareCmd(c))
	return cmd
}

func newPlatformListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List the platforms of the project",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := c.newManager()
			if err != nil {
				return err
			}
			infos, err := m.Platforms(cmd.Context())
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				_, _ = fmt.Fprintln(c.out, "No platforms declared.")
				return nil
			}

			title := cases.Title(language.English)
			for _, info := range infos {
				name := title.String(info.Name)
				v := info.Version
				if v == "" {
					v = "unknown version"
				}
				if !c.settings.NoColor {
					name = platformNameStyle.Render(name)
					v = platformDimStyle.Render(v)
				}
				_, _ = fmt.Fprintf(c.out, "  %s %s\n", name, v)
			}
			return nil
		},
	}
}

func newPlatformPrepareCmd(c *cli) *cobra.Command {
	var noHooks bool
	cmd := &cobra.Command{
		Use:   "prepare [platform]...",
		Short: "Regenerate platform files from the installed plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.newManager()
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				infos, err := m.Platforms(cmd.Context())
				if err != nil {
					return err
				}
				for _, info := range infos {
					names = append(names, info.Name)
				}
			}

			opID := hooks.NewOperationID()
			for _, name := range names {
				if err := m.Prepare(cmd.Context(), name, noHooks, opID); err != nil {
					return fmt.Errorf("preparing %s: %w", name, err)
				}
				_, _ = fmt.Fprintf(c.out, "  ✓ prepared %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noHooks, "nohooks", false, "do not fire lifecycle hooks")
	return cmd
}
