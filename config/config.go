// Package config provides the configuration of the spawn daemon.
//
// Configuration is loaded from a single file given by the --config flag.
// Every field has a default from Default(); values in the file override the
// defaults. YAML (.yaml, .yml) and JSON with comments (.json, .jsonc) are
// accepted.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/criyle/go-appspawn/pkg/rlimit"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the configuration of one daemon instance and of the children it
// spawns. A snapshot travels with every spawn payload.
type Config struct {
	SocketDir       string `yaml:"socketDir" json:"socketDir"`
	AppSpawnSocket  string `yaml:"appSpawnSocket" json:"appSpawnSocket"`
	NWebSpawnSocket string `yaml:"nwebSpawnSocket" json:"nwebSpawnSocket"`
	SocketMode      uint32 `yaml:"socketMode" json:"socketMode"`

	// MsgDir holds the shared regions of cold start spawns
	MsgDir string `yaml:"msgDir" json:"msgDir"`

	ChildResultTimeout Duration `yaml:"childResultTimeout" json:"childResultTimeout"`
	ReassemblyTimeout  Duration `yaml:"reassemblyTimeout" json:"reassemblyTimeout"`
	MaxConnections     int      `yaml:"maxConnections" json:"maxConnections"`
	// AllowedUIDs lists the peers that may send requests, empty means root only
	AllowedUIDs   []uint32 `yaml:"allowedUids" json:"allowedUids"`
	DiedQueueSize int      `yaml:"diedQueueSize" json:"diedQueueSize"`

	DeveloperMode bool `yaml:"developerMode" json:"developerMode"`
	NativeSpawn   bool `yaml:"nativeSpawn" json:"nativeSpawn"`
	ColdStart     bool `yaml:"coldStart" json:"coldStart"`

	// Launcher is the command a child execs once its pipeline finished
	Launcher     []string          `yaml:"launcher" json:"launcher"`
	NWebLauncher []string          `yaml:"nwebLauncher" json:"nwebLauncher"`
	Env          map[string]string `yaml:"env" json:"env"`

	Sandbox   SandboxConfig   `yaml:"sandbox" json:"sandbox"`
	Cgroup    CgroupConfig    `yaml:"cgroup" json:"cgroup"`
	RLimits   rlimit.RLimits  `yaml:"rlimits" json:"rlimits"`
	Seccomp   SeccompConfig   `yaml:"seccomp" json:"seccomp"`
	Watchdog  WatchdogConfig  `yaml:"watchdog" json:"watchdog"`
	Secondary SecondaryConfig `yaml:"secondary" json:"secondary"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// SandboxConfig is the mount plan handed to the sandbox collaborator
type SandboxConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Root may use <currentUserId> and <PackageName>
	Root   string        `yaml:"root" json:"root"`
	Mounts []MountConfig `yaml:"mounts" json:"mounts"`
}

// MountConfig is one mount of the sandbox
type MountConfig struct {
	Source   string `yaml:"src" json:"src"`
	Target   string `yaml:"dst" json:"dst"`
	Type     string `yaml:"type" json:"type"` // bind, tmpfs or proc
	Options  string `yaml:"options,omitempty" json:"options,omitempty"`
	ReadOnly bool   `yaml:"readOnly,omitempty" json:"readOnly,omitempty"`
}

// CgroupConfig locates the per app cgroups, an empty root disables them
type CgroupConfig struct {
	Root string `yaml:"root" json:"root"`
}

// SeccompConfig is the deny list installed in applications
type SeccompConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Action  string   `yaml:"action" json:"action"`
	Deny    []string `yaml:"deny" json:"deny"`
}

// WatchdogConfig drives the kernel watchdog file
type WatchdogConfig struct {
	Enabled  bool           `yaml:"enabled" json:"enabled"`
	Interval Duration       `yaml:"interval" json:"interval"`
	Files    []WatchdogFile `yaml:"files" json:"files"`
}

// WatchdogFile is a candidate watchdog control file
type WatchdogFile struct {
	Path string `yaml:"path" json:"path"`
	On   string `yaml:"on" json:"on"`
	Kick string `yaml:"kick" json:"kick"`
}

// SecondaryConfig controls the nwebspawn helper started by the main daemon
type SecondaryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // text or json
}

// Default returns the built in configuration
func Default() *Config {
	return &Config{
		SocketDir:          "/dev/unix/socket",
		AppSpawnSocket:     "AppSpawn",
		NWebSpawnSocket:    "NWebSpawn",
		SocketMode:         0660,
		MsgDir:             "/mnt/appspawn",
		ChildResultTimeout: Duration(5 * time.Second),
		ReassemblyTimeout:  Duration(5 * time.Second),
		MaxConnections:     64,
		AllowedUIDs:        []uint32{0, 1000, 5523},
		DiedQueueSize:      5,
		ColdStart:          true,
		Launcher:           []string{"/bin/sleep", "infinity"},
		Env: map[string]string{
			"PATH":   "/usr/local/bin:/usr/bin:/bin",
			"HOME":   "/data/storage/el2/base",
			"TMPDIR": "/data/storage/el2/base/cache",
		},
		Sandbox: SandboxConfig{
			Root: "/mnt/sandbox/<currentUserId>/<PackageName>",
		},
		Seccomp: SeccompConfig{
			Action: "errno",
			Deny: []string{
				"reboot", "kexec_load", "init_module", "finit_module", "delete_module",
				"swapon", "swapoff", "acct",
			},
		},
		Watchdog: WatchdogConfig{
			Enabled:  true,
			Interval: Duration(10 * time.Second),
			Files: []WatchdogFile{
				{Path: "/sys/kernel/appspawn_watchdog/appspawn", On: "on", Kick: "kick"},
				{Path: "/sys/kernel/hungtask/userlist", On: "on,30", Kick: "kick"},
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file at path over the defaults
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), cfg)
	default:
		return nil, fmt.Errorf("config: unknown file type %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that have no usable zero value
func (c *Config) Validate() error {
	switch {
	case c.SocketDir == "":
		return fmt.Errorf("socketDir is empty")
	case c.AppSpawnSocket == "" || c.NWebSpawnSocket == "":
		return fmt.Errorf("socket name is empty")
	case c.ChildResultTimeout <= 0:
		return fmt.Errorf("childResultTimeout must be positive")
	case c.ReassemblyTimeout <= 0:
		return fmt.Errorf("reassemblyTimeout must be positive")
	case c.MaxConnections <= 0:
		return fmt.Errorf("maxConnections must be positive")
	case len(c.Launcher) == 0:
		return fmt.Errorf("launcher is empty")
	}
	for _, m := range c.Sandbox.Mounts {
		switch m.Type {
		case "bind", "tmpfs", "proc":
		default:
			return fmt.Errorf("sandbox mount %q: unknown type %q", m.Target, m.Type)
		}
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	return nil
}

// SocketPath returns the path of the named socket
func (c *Config) SocketPath(name string) string {
	return filepath.Join(c.SocketDir, name)
}

// AllowUID returns whether peers with uid may send requests
func (c *Config) AllowUID(uid uint32) bool {
	if uid == 0 {
		return true
	}
	for _, u := range c.AllowedUIDs {
		if u == uid {
			return true
		}
	}
	return false
}

// Environ returns the base environment as KEY=VALUE in a stable order
func (c *Config) Environ() []string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return lvl, nil
}

// NewLogger creates the logger writing to stderr
func (l LogConfig) NewLogger() *slog.Logger {
	lvl, err := l.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if l.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, options)
	} else {
		handler = slog.NewTextHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
