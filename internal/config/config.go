// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package config loads and validates the bot configuration from a YAML
// file, with optional flag overrides layered on top.
package config

import (
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Error codes for configuration failures.
const (
	CodeReadFailed    = "CONFIG_READ_FAILED"
	CodeInvalidConfig = "CONFIG_INVALID"
	CodeUnknownBot    = "CONFIG_UNKNOWN_BOT"
)

// Config is the process-wide configuration.
type Config struct {
	// LogFormat selects the slog handler: "json" or "text".
	LogFormat string `koanf:"log_format" json:"log_format,omitempty" jsonschema:"enum=json,enum=text"`
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `koanf:"log_level" json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`

	// HTTPAddr is the listen address for the plugin route table.
	HTTPAddr string `koanf:"http_addr" json:"http_addr,omitempty"`
	// MetricsAddr is the listen address for metrics and health probes.
	// Empty disables the observability server.
	MetricsAddr string `koanf:"metrics_addr" json:"metrics_addr,omitempty"`

	// WatchConfig enables automatic reload when the config file changes.
	WatchConfig bool `koanf:"watch_config" json:"watch_config,omitempty"`

	// ScriptDir is the directory scanned for Lua plugin directories.
	// Empty disables scripted plugins.
	ScriptDir string `koanf:"script_dir" json:"script_dir,omitempty"`

	Bots []*Bot `koanf:"bots" json:"bots"`
}

// Bot configures one IRC connection.
type Bot struct {
	// Name identifies the connection in logs, metrics, and admin
	// commands. Unique per process.
	Name string `koanf:"name" json:"name" jsonschema:"required"`

	Server Server `koanf:"server" json:"server"`

	Nick string `koanf:"nick" json:"nick" jsonschema:"required"`
	User string `koanf:"user" json:"user,omitempty"`
	Real string `koanf:"real" json:"real,omitempty"`

	Channels []string `koanf:"channels" json:"channels,omitempty"`

	// Prefixes lists the command sigils; a privmsg starting with any of
	// them (or addressing the bot by nick) is routed as a command.
	Prefixes []string `koanf:"prefixes" json:"prefixes,omitempty"`

	// Plugins lists the plugin names to load, in load order.
	Plugins []string `koanf:"plugins" json:"plugins,omitempty"`

	// Ignore holds hostmask glob patterns; events from matching senders
	// are dropped before any hook runs.
	Ignore []string `koanf:"ignore" json:"ignore,omitempty"`

	// Owners holds hostmask glob patterns that are always authorized for
	// operator commands.
	Owners []string `koanf:"owners" json:"owners,omitempty"`

	// AuthPassword is the bcrypt hash checked by the baseline auth
	// command. Empty disables password authentication.
	AuthPassword string `koanf:"auth_password" json:"auth_password,omitempty"`

	// AuthTTL bounds how long a password authorization lasts. Accepts
	// Go duration strings ("4h") or nanoseconds.
	AuthTTL time.Duration `koanf:"auth_ttl" json:"auth_ttl,omitempty" jsonschema:"oneof_type=string;integer"`

	// Settings is passed through to plugins uninterpreted.
	Settings map[string]any `koanf:"settings" json:"settings,omitempty"`

	ignoreGlobs []glob.Glob
	ownerGlobs  []glob.Glob
}

// Server locates the IRC server for one connection.
type Server struct {
	// Addr is the host:port to dial.
	Addr string `koanf:"addr" json:"addr" jsonschema:"required"`
	// TLS dials with TLS when set.
	TLS bool `koanf:"tls" json:"tls,omitempty"`
	// Password is the server password sent during registration, if any.
	Password string `koanf:"password" json:"password,omitempty"`
}

// Defaults applied after unmarshal.
const (
	defaultLogFormat = "json"
	defaultLogLevel  = "info"
	defaultHTTPAddr  = ":8080"
	defaultAuthTTL   = 4 * time.Hour
)

var defaultPrefixes = []string{"!"}

// Load reads the configuration file at path, overlays values from flags
// when non-nil, validates the result, and compiles the hostmask
// patterns. Flag names map to config keys with dashes replaced by
// underscores, and an explicitly set flag beats the file. The returned
// Config is ready for use.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, oops.Code(CodeReadFailed).With("path", path).Wrap(err)
	}
	if flags != nil {
		overlay := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(overlay, nil); err != nil {
			return nil, oops.Code(CodeReadFailed).With("path", path).Hint("flag overlay failed").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalidConfig).With("path", path).Wrap(err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = defaultHTTPAddr
	}
	for _, b := range c.Bots {
		if len(b.Prefixes) == 0 {
			b.Prefixes = append([]string(nil), defaultPrefixes...)
		}
		if b.User == "" {
			b.User = b.Nick
		}
		if b.Real == "" {
			b.Real = b.Nick
		}
		if b.AuthTTL <= 0 {
			b.AuthTTL = defaultAuthTTL
		}
	}
}

// Validate checks semantic constraints and compiles hostmask patterns.
func (c *Config) Validate() error {
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code(CodeInvalidConfig).With("log_format", c.LogFormat).New("log_format must be 'json' or 'text'")
	}
	seen := make(map[string]bool, len(c.Bots))
	for i, b := range c.Bots {
		if b.Name == "" {
			return oops.Code(CodeInvalidConfig).With("index", i).New("bot name is required")
		}
		if seen[b.Name] {
			return oops.Code(CodeInvalidConfig).With("name", b.Name).New("duplicate bot name")
		}
		seen[b.Name] = true
		if b.Server.Addr == "" {
			return oops.Code(CodeInvalidConfig).With("name", b.Name).New("server.addr is required")
		}
		if b.Nick == "" {
			return oops.Code(CodeInvalidConfig).With("name", b.Name).New("nick is required")
		}
		if err := b.compile(); err != nil {
			return err
		}
	}
	return nil
}

// compile builds the glob matchers for the ignore and owner patterns.
func (b *Bot) compile() error {
	b.ignoreGlobs = make([]glob.Glob, 0, len(b.Ignore))
	for _, p := range b.Ignore {
		g, err := glob.Compile(p)
		if err != nil {
			return oops.Code(CodeInvalidConfig).With("name", b.Name).With("pattern", p).Hint("invalid ignore pattern").Wrap(err)
		}
		b.ignoreGlobs = append(b.ignoreGlobs, g)
	}
	b.ownerGlobs = make([]glob.Glob, 0, len(b.Owners))
	for _, p := range b.Owners {
		g, err := glob.Compile(p)
		if err != nil {
			return oops.Code(CodeInvalidConfig).With("name", b.Name).With("pattern", p).Hint("invalid owner pattern").Wrap(err)
		}
		b.ownerGlobs = append(b.ownerGlobs, g)
	}
	return nil
}

// Ignored reports whether the sender mask matches any ignore pattern.
func (b *Bot) Ignored(mask string) bool {
	for _, g := range b.ignoreGlobs {
		if g.Match(mask) {
			return true
		}
	}
	return false
}

// IsOwner reports whether the sender mask matches an owner pattern.
func (b *Bot) IsOwner(mask string) bool {
	for _, g := range b.ownerGlobs {
		if g.Match(mask) {
			return true
		}
	}
	return false
}

// Bot returns the configuration for the named connection.
func (c *Config) Bot(name string) (*Bot, error) {
	for _, b := range c.Bots {
		if b.Name == name {
			return b, nil
		}
	}
	return nil, oops.Code(CodeUnknownBot).With("name", name).Errorf("no bot named %q in configuration", name)
}

// Source re-reads per-connection configuration during reload.
type Source interface {
	Bot(name string) (*Bot, error)
}

// FileSource is a Source backed by the configuration file. Each call
// re-reads and re-validates the file, so a reload picks up edits.
type FileSource struct {
	Path  string
	Flags *pflag.FlagSet
}

// Bot loads the file and returns the named bot's section.
func (s *FileSource) Bot(name string) (*Bot, error) {
	cfg, err := Load(s.Path, s.Flags)
	if err != nil {
		return nil, err
	}
	return cfg.Bot(name)
}
