package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDefaultValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "appspawn.yaml", `
socketDir: /run/appspawn
childResultTimeout: 2s
allowedUids: [0, 20010029]
developerMode: true
launcher: ["/system/bin/app_main", "--bundle"]
sandbox:
  enabled: true
  mounts:
    - {src: /system/lib, dst: /system/lib, type: bind, readOnly: true}
    - {dst: /tmp, type: tmpfs, options: size=16m}
rlimits:
  openFile: 1024
log:
  level: debug
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SocketDir != "/run/appspawn" {
		t.Errorf("SocketDir = %v", cfg.SocketDir)
	}
	if cfg.ChildResultTimeout.D() != 2*time.Second {
		t.Errorf("ChildResultTimeout = %v", cfg.ChildResultTimeout)
	}
	// untouched values keep their default
	if cfg.ReassemblyTimeout.D() != 5*time.Second || cfg.AppSpawnSocket != "AppSpawn" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if !cfg.DeveloperMode || !cfg.Sandbox.Enabled || len(cfg.Sandbox.Mounts) != 2 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !cfg.Sandbox.Mounts[0].ReadOnly || cfg.Sandbox.Mounts[1].Options != "size=16m" {
		t.Errorf("unexpected mounts %+v", cfg.Sandbox.Mounts)
	}
	if cfg.RLimits.OpenFile != 1024 {
		t.Errorf("RLimits = %+v", cfg.RLimits)
	}
	if !reflect.DeepEqual(cfg.AllowedUIDs, []uint32{0, 20010029}) {
		t.Errorf("AllowedUIDs = %v", cfg.AllowedUIDs)
	}
}

func TestLoadJSONC(t *testing.T) {
	p := writeFile(t, "appspawn.jsonc", `{
	// native processes are spawned by the debugger only
	"nativeSpawn": true,
	"reassemblyTimeout": "500ms",
	"cgroup": {"root": "/dev/pids"}, /* trailing comma below */
	"seccomp": {"enabled": true, "deny": ["reboot"],},
}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.NativeSpawn || cfg.ReassemblyTimeout.D() != 500*time.Millisecond {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Cgroup.Root != "/dev/pids" || !cfg.Seccomp.Enabled || len(cfg.Seccomp.Deny) != 1 {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name, file, content string
	}{
		{"ext", "appspawn.toml", ""},
		{"syntax", "appspawn.yaml", "socketDir: [\n"},
		{"duration", "appspawn.json", `{"childResultTimeout": "soon"}`},
		{"negative", "appspawn.json", `{"childResultTimeout": "-1s"}`},
		{"mountType", "appspawn.yaml", "sandbox:\n  mounts:\n    - {dst: /x, type: overlay}\n"},
		{"logLevel", "appspawn.yaml", "log:\n  level: loud\n"},
		{"launcher", "appspawn.json", `{"launcher": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tt.file, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected missing file error")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Error("empty path should return defaults")
	}
}

func TestAllowUID(t *testing.T) {
	cfg := Default()
	cfg.AllowedUIDs = []uint32{5523}
	for uid, want := range map[uint32]bool{0: true, 5523: true, 1000: false} {
		if got := cfg.AllowUID(uid); got != want {
			t.Errorf("AllowUID(%d) = %v, want %v", uid, got, want)
		}
	}
}

func TestEnviron(t *testing.T) {
	cfg := Default()
	cfg.Env = map[string]string{"B": "2", "A": "1"}
	if got := cfg.Environ(); !reflect.DeepEqual(got, []string{"A=1", "B=2"}) {
		t.Errorf("Environ = %v", got)
	}
}

func TestSocketPath(t *testing.T) {
	cfg := Default()
	if got := cfg.SocketPath(cfg.AppSpawnSocket); got != "/dev/unix/socket/AppSpawn" {
		t.Errorf("SocketPath = %v", got)
	}
}
