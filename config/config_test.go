package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "mirrorfs.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Socket != "/run/mirrorfs/agent.sock" {
		t.Errorf("socket = %q", c.Socket)
	}
	if c.LogLevel != "info" {
		t.Errorf("log_level = %q", c.LogLevel)
	}
	if c.Mapping.HostPath != "/" || c.Mapping.ContainerRoot != "/" {
		t.Errorf("mapping = %+v", c.Mapping)
	}
	if c.ReadOnly {
		t.Error("read_only should default off")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	p := writeConfig(t, `
socket: /tmp/test.sock
log_level: debug
read_only: true
mapping:
  container_root: /app
  host_path: /srv/app
managed:
  - /app/
local:
  - /app/cache/
`)
	c, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.Socket != "/tmp/test.sock" {
		t.Errorf("socket = %q", c.Socket)
	}
	if c.LogLevel != "debug" {
		t.Errorf("log_level = %q", c.LogLevel)
	}
	if !c.ReadOnly {
		t.Error("read_only not set")
	}
	if c.Mapping.ContainerRoot != "/app" || c.Mapping.HostPath != "/srv/app" {
		t.Errorf("mapping = %+v", c.Mapping)
	}
	if len(c.Managed) != 1 || c.Managed[0] != "/app/" {
		t.Errorf("managed = %v", c.Managed)
	}
	if len(c.Local) != 1 || c.Local[0] != "/app/cache/" {
		t.Errorf("local = %v", c.Local)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	p := writeConfig(t, "log_level: warn\n")
	c, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.LogLevel != "warn" {
		t.Errorf("log_level = %q", c.LogLevel)
	}
	if c.Socket != "/run/mirrorfs/agent.sock" {
		t.Errorf("socket lost its default: %q", c.Socket)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file should fail")
	}
	for name, content := range map[string]string{
		"bad yaml":       ":\n  - [",
		"bad level":      "log_level: verbose\n",
		"empty socket":   "socket: \"\"\n",
		"empty hostpath": "mapping:\n  host_path: \"\"\n",
	} {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("%s should fail", name)
		}
	}
}
