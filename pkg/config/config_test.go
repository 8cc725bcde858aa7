package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lemonberrylabs/amend/pkg/permissions"
)

const yamlConfig = `
roots:
  SYSTEM:
    dir: system
    mount: /system
  BOOT:
    partition: /abs/boot.img
properties:
  ro.build.id: TEST1
permissions:
  - path: /system
    allow: [stat, read]
marks: marks.db
update_forced: false
server:
  port: 9000
`

const tomlConfig = `
marks = "marks.db"
compatible_versions = ["1.0"]

[roots.SYSTEM]
dir = "system"
mount = "/system"

[roots.BOOT]
partition = "/abs/boot.img"

[properties]
"ro.build.id" = "TEST1"

[[permissions]]
path = "/system"
allow = ["stat", "read"]

[server]
host = "127.0.0.1"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFormats(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		file    string
		content string
		forced  bool
		host    string
		port    int
		version string
	}{
		{"device.yaml", yamlConfig, false, DefaultHost, 9000, "0.1"},
		{"device.toml", tomlConfig, true, "127.0.0.1", DefaultPort, "1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			cfg, err := Load(writeFile(t, dir, tt.file, tt.content))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			sys := cfg.Roots["SYSTEM"]
			if sys.Dir != filepath.Join(dir, "system") || sys.Mount != "/system" || sys.Raw() {
				t.Errorf("SYSTEM root = %+v", sys)
			}
			if boot := cfg.Roots["BOOT"]; !boot.Raw() || boot.Partition != "/abs/boot.img" {
				t.Errorf("BOOT root = %+v", boot)
			}
			if cfg.Properties["ro.build.id"] != "TEST1" {
				t.Errorf("properties = %v", cfg.Properties)
			}
			if cfg.Marks != filepath.Join(dir, "marks.db") {
				t.Errorf("marks = %q", cfg.Marks)
			}
			if cfg.Forced() != tt.forced {
				t.Errorf("Forced = %v, want %v", cfg.Forced(), tt.forced)
			}
			if cfg.Server.Host != tt.host || cfg.Server.Port != tt.port {
				t.Errorf("server = %+v", cfg.Server)
			}
			if cfg.CompatibleVersions[0] != tt.version {
				t.Errorf("versions = %v", cfg.CompatibleVersions)
			}

			tab, err := cfg.PermissionTable()
			if err != nil {
				t.Fatal(err)
			}
			if got := tab.Allowed("/system/app", false); got != permissions.PermSetRead {
				t.Errorf("allowed = %s", permissions.Format(got))
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad yaml", "bad.yaml", "roots: [unclosed"},
		{"bad toml", "bad.toml", "roots = = 1"},
		{"root without storage", "empty.yaml", "roots:\n  SYSTEM: {mount: /system}\n"},
		{"root with both", "both.yaml", "roots:\n  SYSTEM: {dir: a, partition: b}\n"},
		{"bad root name", "name.yaml", "roots:\n  \"SYS:\": {dir: a}\n"},
		{"unknown permission", "perm.yaml", "permissions:\n  - {path: /x, allow: [fly]}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, dir, tt.file, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestDefault(t *testing.T) {
	base := t.TempDir()
	cfg := Default(base)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !cfg.Forced() {
		t.Error("default should force updates")
	}
	if got := cfg.Roots["SYSTEM"].Dir; got != filepath.Join(base, "system") {
		t.Errorf("SYSTEM dir = %q", got)
	}
	if !cfg.Roots["BOOT"].Raw() {
		t.Error("BOOT should be a raw partition")
	}
	names := cfg.RootNames()
	if len(names) != 8 || names[0] != "BOOT" || names[len(names)-1] != "TMP" {
		t.Errorf("root names = %v", names)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("HOST", "127.0.0.2")
	t.Setenv("PORT", "1234")
	cfg := Default(t.TempDir())
	cfg.ApplyEnv()
	if got := cfg.Server.Addr(); got != "127.0.0.2:1234" {
		t.Errorf("Addr = %q", got)
	}

	t.Setenv("PORT", "not-a-port")
	cfg = Default(t.TempDir())
	cfg.ApplyEnv()
	if cfg.Server.Port != DefaultPort {
		t.Errorf("invalid PORT applied: %d", cfg.Server.Port)
	}
}
