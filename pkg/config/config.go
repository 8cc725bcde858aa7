// Package config loads the description of the emulated device an update
// script runs against: its filesystem roots, system properties, permission
// table and server settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/amend/pkg/permissions"
)

// Format is a configuration file format.
type Format int

const (
	FormatAuto Format = iota
	FormatYAML
	FormatTOML
)

func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatTOML:
		return "toml"
	default:
		return "auto"
	}
}

// Default values.
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8789
)

// DefaultCompatibleVersions are the script versions accepted by
// compatible_with when none are configured.
var DefaultCompatibleVersions = []string{"0.1", "0.2"}

// Config describes an emulated device.
type Config struct {
	// Roots maps root names (without the trailing colon) to their backing
	// storage.
	Roots map[string]Root `yaml:"roots" toml:"roots"`

	// Properties answers getprop.
	Properties map[string]string `yaml:"properties" toml:"properties"`

	// Permissions restricts what a checked script may touch.
	Permissions []PermissionEntry `yaml:"permissions" toml:"permissions"`

	// Marks is the SQLite database that persists update marks. Empty keeps
	// marks in memory.
	Marks string `yaml:"marks" toml:"marks"`

	// UpdateForced is the answer of update_forced. Defaults to true.
	UpdateForced *bool `yaml:"update_forced" toml:"update_forced"`

	CompatibleVersions []string `yaml:"compatible_versions" toml:"compatible_versions"`

	// FirmwareDir receives radio and hboot images.
	FirmwareDir string `yaml:"firmware_dir" toml:"firmware_dir"`

	// Package is the update package PKG: paths refer to.
	Package string `yaml:"package" toml:"package"`

	Server ServerConfig `yaml:"server" toml:"server"`
}

// Root is either a filesystem root (Dir, mounted at Mount on the device)
// or a raw partition backed by an image file.
type Root struct {
	Dir       string `yaml:"dir" toml:"dir"`
	Mount     string `yaml:"mount" toml:"mount"`
	Partition string `yaml:"partition" toml:"partition"`
}

// Raw reports whether the root is a raw partition.
func (r Root) Raw() bool {
	return r.Partition != ""
}

// PermissionEntry allows a set of permissions below a device path.
type PermissionEntry struct {
	Path  string   `yaml:"path" toml:"path"`
	Allow []string `yaml:"allow" toml:"allow"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads a YAML or TOML configuration file. Relative paths inside the
// file are resolved against the file's directory.
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(content, detectFormat(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes configuration content and applies defaults.
func Parse(content []byte, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("YAML parse error: %w", err)
		}
	case FormatTOML, FormatAuto:
		if _, err := toml.Decode(string(content), &cfg); err != nil {
			return nil, fmt.Errorf("TOML parse error: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %d", int(format))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// detectFormat determines the configuration format from file extension.
func detectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Default returns a sandbox layout below baseDir: one directory per
// filesystem root and an image file per raw partition.
func Default(baseDir string) *Config {
	dir := func(name string) string { return filepath.Join(baseDir, name) }
	img := func(name string) string { return filepath.Join(baseDir, "partitions", name+".img") }

	cfg := &Config{
		Roots: map[string]Root{
			"BOOT":     {Partition: img("boot")},
			"RECOVERY": {Partition: img("recovery")},
			"MISC":     {Partition: img("misc")},
			"CACHE":    {Dir: dir("cache"), Mount: "/cache"},
			"DATA":     {Dir: dir("data"), Mount: "/data"},
			"SDCARD":   {Dir: dir("sdcard"), Mount: "/sdcard"},
			"SYSTEM":   {Dir: dir("system"), Mount: "/system"},
			"TMP":      {Dir: dir("tmp"), Mount: "/tmp"},
		},
		FirmwareDir: dir("firmware"),
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Roots == nil {
		c.Roots = map[string]Root{}
	}
	if c.Properties == nil {
		c.Properties = map[string]string{}
	}
	if c.UpdateForced == nil {
		forced := true
		c.UpdateForced = &forced
	}
	if len(c.CompatibleVersions) == 0 {
		c.CompatibleVersions = append([]string(nil), DefaultCompatibleVersions...)
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
}

func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for name, r := range c.Roots {
		r.Dir = abs(r.Dir)
		r.Partition = abs(r.Partition)
		c.Roots[name] = r
	}
	c.Marks = abs(c.Marks)
	c.FirmwareDir = abs(c.FirmwareDir)
	c.Package = abs(c.Package)
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	for _, name := range c.RootNames() {
		r := c.Roots[name]
		if strings.ContainsAny(name, ":/") {
			return fmt.Errorf("root %q: name must not contain ':' or '/'", name)
		}
		if r.Raw() && r.Dir != "" {
			return fmt.Errorf("root %q: partition and dir are mutually exclusive", name)
		}
		if !r.Raw() && r.Dir == "" {
			return fmt.Errorf("root %q: needs a dir or a partition", name)
		}
	}
	if _, err := c.PermissionTable(); err != nil {
		return err
	}
	return nil
}

// RootNames returns the configured root names in sorted order.
func (c *Config) RootNames() []string {
	names := make([]string, 0, len(c.Roots))
	for name := range c.Roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Forced returns the configured update_forced answer.
func (c *Config) Forced() bool {
	return c.UpdateForced == nil || *c.UpdateForced
}

// PermissionTable builds the permission table from the configured entries.
func (c *Config) PermissionTable() (*permissions.Table, error) {
	tab := permissions.NewTable()
	set := make([]permissions.Permission, 0, len(c.Permissions))
	for _, e := range c.Permissions {
		bits, err := permissions.Parse(e.Allow)
		if err != nil {
			return nil, fmt.Errorf("permission %q: %w", e.Path, err)
		}
		set = append(set, permissions.Permission{Path: e.Path, Allowed: bits})
	}
	if err := tab.Register(set...); err != nil {
		return nil, fmt.Errorf("permissions: %w", err)
	}
	return tab, nil
}

// ApplyEnv overrides server settings from HOST and PORT.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
}
