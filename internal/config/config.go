// Package config loads arbor's layered configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/jward/arbor/internal/langctx"
)

// FileName is the project configuration file. It also marks the root of a
// language context.
const FileName = langctx.ProjectFile

// EnvPrefix prefixes environment overrides. A double underscore separates
// nested keys: ARBOR_LOG__LEVEL=debug sets log.level.
const EnvPrefix = "ARBOR_"

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type WatchConfig struct {
	QuietMS   int `koanf:"quiet_ms"`
	MaxWaitMS int `koanf:"max_wait_ms"`
}

func (w WatchConfig) Quiet() time.Duration   { return time.Duration(w.QuietMS) * time.Millisecond }
func (w WatchConfig) MaxWait() time.Duration { return time.Duration(w.MaxWaitMS) * time.Millisecond }

// Config holds all configuration for the application.
type Config struct {
	DB         string              `koanf:"db"`
	ScriptsDir string              `koanf:"scripts_dir"`
	OutDir     string              `koanf:"out_dir"`
	Goal       string              `koanf:"goal"`
	Parallel   bool                `koanf:"parallel"`
	Workers    int                 `koanf:"workers"`
	Ignore     []string            `koanf:"ignore"`
	DialectExt string              `koanf:"dialect_ext"`
	Log        LogConfig           `koanf:"log"`
	Debug      langctx.DebugConfig `koanf:"debug"`
	Watch      WatchConfig         `koanf:"watch"`
}

// Defaults returns the default configuration values.
func Defaults() map[string]any {
	return map[string]any{
		"db":          ".arbor/arbor.db",
		"scripts_dir": "scripts",
		"out_dir":     ".arbor/out",
		"goal":        "compile",
		"parallel":    false,
		"workers":     0,
		"ignore":      []string{".git", "node_modules", "vendor", "__pycache__", "target", "bin", ".arbor"},
		"dialect_ext": ".dialect",
		"log": map[string]any{
			"level":  "info",
			"format": "text",
		},
		"debug": map[string]any{
			"analysis":   false,
			"files":      false,
			"collection": false,
			"resolution": false,
			"timing":     false,
		},
		"watch": map[string]any{
			"quiet_ms":    300,
			"max_wait_ms": 2000,
		},
	}
}

// flagKeys maps flag names that do not spell their key.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
}

// Load loads configuration from defaults, dir/arbor.toml, environment
// variables and flags. Priority: Flags > Env > Config File > Defaults.
// Relative paths in the result are resolved against dir.
func Load(dir string, f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file (optional)
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	// 3. Environment variables
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.ProviderWithFlag(f, ".", k, func(fl *pflag.Flag) (string, any) {
			return flagKey(fl.Name), posflag.FlagVal(f, fl)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.resolve(dir)
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func flagKey(name string) string {
	if k, ok := flagKeys[name]; ok {
		return k
	}
	return strings.ReplaceAll(name, "-", "_")
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 0, got %d", c.Workers)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	if c.DialectExt != "" && !strings.HasPrefix(c.DialectExt, ".") {
		return fmt.Errorf("config: dialect_ext must start with '.', got %q", c.DialectExt)
	}
	if c.Watch.QuietMS <= 0 || c.Watch.MaxWaitMS < c.Watch.QuietMS {
		return fmt.Errorf("config: need 0 < watch.quiet_ms <= watch.max_wait_ms")
	}
	return nil
}

func (c *Config) resolve(dir string) {
	for _, p := range []*string{&c.DB, &c.ScriptsDir, &c.OutDir} {
		if *p != "" && *p != ":memory:" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]any
}

func makeMapProvider(m map[string]any) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]any, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("not implemented")
}
