package main

import (
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/plugman/internal/app"
)

type addFlags struct {
	variables  []string
	platforms  []string
	save       bool
	force      bool
	link       bool
	noHooks    bool
	noRegistry bool
	noPrepare  bool
}

type removeFlags struct {
	platforms []string
	save      bool
	force     bool
	noHooks   bool
	noPrepare bool
}

func newPluginCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plugin",
		Aliases: []string{"plugins"},
		Short:   "Manage the plugins of a project",
	}
	cmd.AddCommand(newPluginAddCmd(c), newPluginRemoveCmd(c), newPluginListCmd(c))
	return cmd
}

func newPluginAddCmd(c *cli) *cobra.Command {
	var f addFlags
	cmd := &cobra.Command{
		Use:   "add <spec>...",
		Short: "Fetch plugins and install them on every platform",
		Example: heredoc.Doc(`
			plugman plugin add com.example.camera
			plugman plugin add com.example.camera@^2.0.0 --save
			plugman plugin add ../camera-plugin --link
			plugman plugin add https://github.com/example/camera.git#v2.1.0:plugin
			plugman plugin add com.example.maps --variable API_KEY=abc123
		`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := parseVariables(f.variables)
			if err != nil {
				return err
			}
			m, err := c.newManager()
			if err != nil {
				return err
			}

			result, err := m.Add(cmd.Context(), app.AddRequest{
				Targets:     args,
				Platforms:   f.platforms,
				Variables:   vars,
				Save:        f.save,
				Force:       f.force,
				Link:        f.link,
				NoHooks:     f.noHooks,
				NoPrepare:   f.noPrepare,
				SearchPaths: c.settings.SearchPaths,
				NoRegistry:  f.noRegistry,
			})
			if result != nil {
				result.Print(c.out)
				printPrepareHint(c, result)
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&f.variables, "variable", nil, "install variable as NAME=VALUE (repeatable)")
	flags.StringSliceVar(&f.platforms, "platform", nil, "install on these platforms only")
	flags.BoolVar(&f.save, "save", false, "record the plugin in the project manifest")
	flags.BoolVar(&f.force, "force", false, "accept installed dependencies outside the required version range")
	flags.BoolVar(&f.link, "link", false, "symlink local plugins instead of copying them")
	flags.BoolVar(&f.noHooks, "nohooks", false, "do not fire lifecycle hooks")
	flags.BoolVar(&f.noRegistry, "noregistry", false, "never fetch from the registry")
	flags.BoolVar(&f.noPrepare, "noprepare", false, "skip the prepare step after installing")
	return cmd
}

func newPluginRemoveCmd(c *cli) *cobra.Command {
	var f removeFlags
	cmd := &cobra.Command{
		Use:     "remove <id>...",
		Aliases: []string{"rm", "uninstall"},
		Short:   "Uninstall plugins and the dependencies nothing else needs",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.newManager()
			if err != nil {
				return err
			}
			result, err := m.Remove(cmd.Context(), app.RemoveRequest{
				Targets:   args,
				Platforms: f.platforms,
				Save:      f.save,
				Force:     f.force,
				NoHooks:   f.noHooks,
				NoPrepare: f.noPrepare,
			})
			if result != nil {
				for _, t := range result.Targets {
					if t.Err == nil {
						_, _ = fmt.Fprintf(c.out, "  ✓ removed %s\n", t.Plugin)
					}
				}
				printPrepareHint(c, result)
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&f.platforms, "platform", nil, "remove from these platforms only")
	flags.BoolVar(&f.save, "save", false, "remove the plugin from the project manifest")
	flags.BoolVar(&f.force, "force", false, "remove even if other plugins depend on it")
	flags.BoolVar(&f.noHooks, "nohooks", false, "do not fire lifecycle hooks")
	flags.BoolVar(&f.noPrepare, "noprepare", false, "skip the prepare step after removing")
	return cmd
}

func newPluginListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List the plugins of the project",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := c.newManager()
			if err != nil {
				return err
			}
			listing, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(listing.Plugins) == 0 {
				_, _ = fmt.Fprintln(c.out, "No plugins added. Use `plugman plugin add <spec>`.")
				return nil
			}

			table := uitable.New()
			table.MaxColWidth = 50
			table.AddRow("ID", "VERSION", "NAME", "PLATFORMS")
			for _, p := range listing.Plugins {
				platforms := strings.Join(p.Platforms, ",")
				if platforms == "" {
					platforms = "-"
				}
				id := p.ID
				if !p.TopLevel && len(p.Platforms) > 0 {
					id += " (dependency)"
				}
				table.AddRow(id, p.Version, p.Name, platforms)
			}
			_, _ = fmt.Fprintln(c.out, table)
			return nil
		},
	}
}

func printPrepareHint(c *cli, result *app.BatchResult) {
	prepared := make(map[string]bool, len(result.Prepared))
	for _, p := range result.Prepared {
		prepared[p] = true
	}
	for _, p := range result.NeedsPrepare {
		if !prepared[p] {
			_, _ = fmt.Fprintf(c.out, "  %s needs `plugman platform prepare %s`\n", p, p)
		}
	}
}

// parseVariables turns NAME=VALUE pairs into a map.
func parseVariables(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --variable %q, expected NAME=VALUE", pair)
		}
		vars[name] = value
	}
	return vars, nil
}
