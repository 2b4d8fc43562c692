// Package settings loads the user-level CLI settings shared by every project.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PLUGMAN_LOG_LEVEL.
const EnvPrefix = "PLUGMAN"

// Setting keys. Each is also the name of the persistent flag bound to it.
const (
	KeyRegistry   = "registry"
	KeySearchPath = "searchpath"
	KeyLogLevel   = "log-level"
	KeyLogFormat  = "log-format"
	KeyNoColor    = "no-color"
	KeyProject    = "project"
)

// Settings are the resolved user settings.
type Settings struct {
	// Registry overrides the registry URL from .npmrc.
	Registry    string
	SearchPaths []string
	LogLevel    string
	LogFormat   string
	NoColor     bool
	// Project is the project root; empty means the working directory.
	Project string
}

// DefaultFile returns $XDG_CONFIG_HOME/plugman/config.yaml, falling back
// to ~/.config when XDG_CONFIG_HOME is unset.
func DefaultFile() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "plugman", "config.yaml")
}

// New returns a viper instance with defaults and environment overrides.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyNoColor, false)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every setting key to the flag of the same name in flags.
// Flags that are not defined are skipped.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, key := range []string{KeyRegistry, KeySearchPath, KeyLogLevel, KeyLogFormat, KeyNoColor, KeyProject} {
		flag := flags.Lookup(key)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding flag %s: %w", key, err)
		}
	}
	return nil
}

// Load reads file into v and resolves the settings. Flags bound with
// BindFlags win over the environment, which wins over the file.
// A missing file is an error only when explicit is true.
func Load(v *viper.Viper, file string, explicit bool) (Settings, error) {
	if file != "" {
		if _, err := os.Stat(file); err == nil || explicit {
			v.SetConfigFile(file)
			if err := v.ReadInConfig(); err != nil {
				return Settings{}, fmt.Errorf("reading settings %s: %w", file, err)
			}
		}
	}

	s := Settings{
		Registry:    strings.TrimSpace(v.GetString(KeyRegistry)),
		SearchPaths: v.GetStringSlice(KeySearchPath),
		LogLevel:    v.GetString(KeyLogLevel),
		LogFormat:   v.GetString(KeyLogFormat),
		NoColor:     v.GetBool(KeyNoColor),
		Project:     v.GetString(KeyProject),
	}
	return s, s.Validate()
}

// ErrInvalidLogFormat is returned for log formats other than text and json.
var ErrInvalidLogFormat = errors.New("log-format must be text or json")

// Validate checks enumerated values.
func (s Settings) Validate() error {
	switch s.LogFormat {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("%w, got %q", ErrInvalidLogFormat, s.LogFormat)
	}
}
