// Package config loads server configuration from a YAML file merged
// with CONDUCTOR_* environment variables; environment wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every tunable of the server.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `mapstructure:"addr" yaml:"addr"`
	// DataDir is the storage root; task state lives under
	// <data_dir>/tasks/<id>/.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// AgentCommand is the default command used when a task does not
	// supply its own.
	AgentCommand string `mapstructure:"agent_command" yaml:"agent_command"`
	// GitToken authenticates clone, push, and PR creation against the
	// hosting provider. It must never appear in logs or API responses.
	GitToken string `mapstructure:"git_token" yaml:"git_token"`
	// GitAuthorName and GitAuthorEmail identify commits made on promote.
	GitAuthorName  string `mapstructure:"git_author_name" yaml:"git_author_name"`
	GitAuthorEmail string `mapstructure:"git_author_email" yaml:"git_author_email"`
	// BranchPrefix prefixes every generated work branch.
	BranchPrefix string `mapstructure:"branch_prefix" yaml:"branch_prefix"`
}

// Load reads configuration from path when given, otherwise from the
// default locations (~/.conductor/config.yaml, ./config.yaml), then
// overlays CONDUCTOR_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("addr", "127.0.0.1:7777")
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("agent_command", "")
	v.SetDefault("git_token", "")
	v.SetDefault("git_author_name", "conductor")
	v.SetDefault("git_author_email", "conductor@localhost")
	v.SetDefault("branch_prefix", "conductor/")

	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".conductor"))
		}
		v.AddConfigPath(".")
		// Default locations are optional
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Common provider token variables work out of the box
	if cfg.GitToken == "" {
		for _, name := range []string{"GITHUB_TOKEN", "GITLAB_TOKEN"} {
			if t := os.Getenv(name); t != "" {
				cfg.GitToken = t
				break
			}
		}
	}

	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "conductor/"
	}

	return &cfg, nil
}

// defaultDataDir is ~/.conductor, falling back to a relative directory
// when the home directory cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".conductor")
}
