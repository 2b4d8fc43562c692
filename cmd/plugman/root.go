package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/plugman/internal/adapters/command"
	"github.com/felixgeelhaar/plugman/internal/adapters/filesystem"
	"github.com/felixgeelhaar/plugman/internal/adapters/logging"
	"github.com/felixgeelhaar/plugman/internal/adapters/registry"
	"github.com/felixgeelhaar/plugman/internal/app"
	"github.com/felixgeelhaar/plugman/internal/domain/fetch"
	"github.com/felixgeelhaar/plugman/internal/domain/project"
	"github.com/felixgeelhaar/plugman/internal/ports"
	"github.com/felixgeelhaar/plugman/internal/settings"
)

// cli holds the state shared by the commands of one invocation.
type cli struct {
	settingsFile string
	settings     settings.Settings
	logger       ports.Logger
	out          io.Writer
	errOut       io.Writer
}

// Execute runs the root command against the process arguments.
func Execute() error {
	return newRootCmd(os.Stdout, os.Stderr).Execute()
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}
	v := settings.New()

	root := &cobra.Command{
		Use:   "plugman",
		Short: "Install and remove plugins across the platforms of a project",
		Long: heredoc.Doc(`
			plugman fetches plugins from local directories, git repositories or an
			npm-compatible registry, resolves their dependencies and engine
			requirements, and installs them into every platform of a project.
		`),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := settings.BindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			file, explicit := c.settingsFile, c.settingsFile != ""
			if !explicit {
				file = settings.DefaultFile()
			}
			s, err := settings.Load(v, file, explicit)
			if err != nil {
				return err
			}
			c.settings = s
			c.logger = logging.NewConsoleLogger(
				logging.WithOutput(c.errOut),
				logging.WithLevel(ports.ParseLevel(s.LogLevel)),
				logging.WithJSONFormat(s.LogFormat == "json"),
				logging.WithColor(!s.NoColor),
			)
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&c.settingsFile, "settings", "", "settings file (default: $XDG_CONFIG_HOME/plugman/config.yaml)")
	flags.String(settings.KeyProject, "", "project root (default: current directory)")
	flags.String(settings.KeyRegistry, "", "registry URL, overrides .npmrc")
	flags.StringSlice(settings.KeySearchPath, nil, "directories searched for plugins before the registry")
	flags.String(settings.KeyLogLevel, "info", "log level (debug, info, warn, error)")
	flags.String(settings.KeyLogFormat, "text", "log format (text, json)")
	flags.Bool(settings.KeyNoColor, false, "disable colored output")

	_ = root.RegisterFlagCompletionFunc(settings.KeyLogLevel, func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = root.RegisterFlagCompletionFunc(settings.KeyLogFormat, func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(newPluginCmd(c), newPlatformCmd(c), newVersionCmd(c))
	return root
}

// projectRoot returns the configured project root or the working directory.
func (c *cli) projectRoot() (string, error) {
	if c.settings.Project != "" {
		return c.settings.Project, nil
	}
	return os.Getwd()
}

// loadProject reads the project manifest.
func (c *cli) loadProject() (*project.Manifest, error) {
	root, err := c.projectRoot()
	if err != nil {
		return nil, err
	}
	m, err := project.Load(root)
	if errors.Is(err, project.ErrManifestNotFound) {
		return nil, fmt.Errorf("%s is not a plugman project (no %s or %s): %w", root, project.YAMLFile, project.TOMLFile, err)
	}
	return m, err
}

// newManager wires the production collaborators for the current project.
func (c *cli) newManager() (*app.Manager, error) {
	manifest, err := c.loadProject()
	if err != nil {
		return nil, err
	}

	npmrc, err := registry.LoadNpmrc(registry.NpmrcPaths(manifest.Root())...)
	if err != nil {
		return nil, fmt.Errorf("reading .npmrc: %w", err)
	}
	if c.settings.Registry != "" {
		npmrc.URL = c.settings.Registry
	}

	runner := command.NewRealRunner(fetch.SafeGitEnv()...)
	return app.NewManager(app.ManagerConfig{
		Project:     manifest,
		FS:          filesystem.NewRealFileSystem(),
		Runner:      runner,
		Git:         fetch.NewGitCloner(runner),
		Registry:    registry.NewClient(npmrc, registry.WithLogger(c.logger)),
		Logger:      c.logger,
		ToolVersion: toolVersion(),
	})
}

// printError prints an error message to stderr.
func printError(err error) {
	printErrorTo(os.Stderr, err)
}

// printErrorTo prints one line per joined error.
func printErrorTo(w io.Writer, err error) {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			printErrorTo(w, e)
		}
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %s\n", strings.TrimSpace(err.Error()))
}
