// Package config resolves the effective settings of one harvest invocation.
//
// Precedence, lowest to highest: built-in defaults, an optional harvest.yml
// in the workspace root, HARVEST_* environment variables. Command-line flags
// overlay the result in the CLI layer. Nothing here is global: Load returns
// a value and touches no process-wide state.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/harvest/internal/catalog"
)

// FileName is the optional per-workspace configuration file.
const FileName = "harvest.yml"

// Output formats for reports and listings.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Settings holds one invocation's effective configuration.
type Settings struct {
	// Workspace is the resolved workspace root. It comes from the CLI, never
	// from the file: the file lives inside the workspace it configures.
	Workspace string `mapstructure:"-"`

	DAGPath string        `mapstructure:"dag"`
	Format  string        `mapstructure:"format"`
	Verbose bool          `mapstructure:"verbose"`
	Workers int           `mapstructure:"workers"`
	Timeout time.Duration `mapstructure:"timeout"` // zero means no per-step timeout
	Strict  bool          `mapstructure:"strict"`
}

// Load resolves settings for the given workspace root.
func Load(workspace string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("dag", catalog.DefaultDAGPath)
	v.SetDefault("format", FormatText)
	v.SetDefault("verbose", false)
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("timeout", time.Duration(0))
	v.SetDefault("strict", false)

	v.SetEnvPrefix("HARVEST")
	v.AutomaticEnv()

	path := filepath.Join(workspace, FileName)
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := v.ReadConfig(f); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	s := &Settings{Workspace: workspace}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects settings no invocation can run with.
func (s *Settings) Validate() error {
	if s.Format != FormatText && s.Format != FormatJSON {
		return fmt.Errorf("invalid format %q: want %q or %q", s.Format, FormatText, FormatJSON)
	}
	if s.Workers < 1 {
		return fmt.Errorf("invalid workers %d: want at least 1", s.Workers)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("invalid timeout %s: want zero or positive", s.Timeout)
	}
	return nil
}
