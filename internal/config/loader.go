package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. NODEFLOW_LOG_LEVEL.
const EnvPrefix = "NODEFLOW"

// apiKeyEnv are the variables the backend key is taken from when no
// nodeflow setting provides one, in order of preference.
var apiKeyEnv = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

// Loader resolves a Config. Precedence, highest first: bound CLI flags,
// NODEFLOW_* variables, the project file, the user file, Defaults. An
// explicit file given with WithConfigFile replaces both files.
type Loader struct {
	v          *viper.Viper
	configFile string
	files      []string
	lookupEnv  func(string) (string, bool)
	homeDir    func() (string, error)
}

// NewLoader creates a loader with its own viper instance.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader on v, which may already carry CLI
// flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, lookupEnv: os.LookupEnv, homeDir: os.UserHomeDir}
}

// WithConfigFile reads only path instead of the user and project files.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Load resolves the configuration from all sources.
func (l *Loader) Load() (*Config, error) {
	if err := l.setDefaults(); err != nil {
		return nil, err
	}
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.readFiles(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		for _, name := range apiKeyEnv {
			if key, ok := l.lookupEnv(name); ok && key != "" {
				cfg.LLM.APIKey = key
				break
			}
		}
	}
	return &cfg, nil
}

// Files lists the configuration files Load read, lowest precedence first.
func (l *Loader) Files() []string {
	return l.files
}

func (l *Loader) readFiles() error {
	l.files = nil
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", l.configFile, err)
		}
		l.files = append(l.files, l.configFile)
		return nil
	}

	for _, path := range l.searchPaths() {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		l.v.SetConfigFile(path)
		if err := l.v.MergeInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", path, err)
		}
		l.files = append(l.files, path)
	}
	return nil
}

// searchPaths returns the user file then the project file.
func (l *Loader) searchPaths() []string {
	var paths []string
	if home, err := l.homeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "nodeflow", "config.yaml"))
	}
	return append(paths, ProjectConfigPath("."))
}

// setDefaults registers every key of Defaults with viper. Registration is
// what lets AutomaticEnv reach keys that no file mentions.
func (l *Loader) setDefaults() error {
	raw, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decoding defaults: %w", err)
	}
	registerDefaults(l.v, "", tree)
	return nil
}

func registerDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for key, val := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if sub, ok := val.(map[string]any); ok {
			registerDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}
