package modules

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/criyle/go-appspawn/daemon"
	"github.com/criyle/go-appspawn/hook"
	"github.com/criyle/go-appspawn/message"
	"github.com/criyle/go-appspawn/pkg/unixsocket"
	"github.com/criyle/go-appspawn/types"
	"github.com/tidwall/jsonc"
	"golang.org/x/sys/unix"
)

// Environment exported to applications
const (
	EnvFds       = "APPSPAWN_FDS"
	EnvStartTime = "APPSPAWN_START_TIME"
)

const appUmask = 0002

// Common sets up the process properties every application gets
func Common() Module {
	return Module{
		Name: "common",
		Install: func(m *daemon.Mgr) error {
			h := m.Hooks
			return first(
				h.AddSpawn(hook.ParentPreFork, hook.PrioHighest, "common.check", checkRequest),
				h.AddSpawn(hook.ParentPostFork, hook.PrioHighest, "common.closefds", closePassedFds),
				h.AddSpawn(hook.ChildPreColdBoot, hook.PrioHighest, "common.cloexec", closeInherited),
				h.AddSpawn(hook.ChildExecute, hook.PrioHighest, "common.env", setEnv),
				h.AddSpawn(hook.ChildExecute, hook.PrioProperty, "common.identity", setIdentity),
				h.AddSpawn(hook.ChildPreRun, hook.PrioHighest, "common.time", recordStart),
			)
		},
	}
}

func checkRequest(m *daemon.Mgr, c *daemon.SpawningCtx) error {
	if len(c.Files) > unixsocket.MaxFds {
		return types.Errorf(types.ArgInvalid, "common: %d fds passed", len(c.Files))
	}
	if c.IsNative() {
		cmd, _ := c.Req.ExtString(message.ExtRenderCmd)
		if cmd == "" || len(cmd) >= message.RenderCmdLen {
			return types.Errorf(types.ArgInvalid, "common: invalid %s", message.ExtRenderCmd)
		}
	}
	return nil
}

// closePassedFds closes the daemon copies once the child inherited them
func closePassedFds(m *daemon.Mgr, c *daemon.SpawningCtx) error {
	c.CloseFiles()
	return nil
}

// closeInherited marks every fd the cold child inherited, except stdio and
// the passed fds, close on exec
func closeInherited(m *daemon.Mgr, c *daemon.SpawningCtx) error {
	keep := make(map[int]bool, len(c.Files))
	for _, f := range c.Files {
		keep[int(f.Fd())] = true
	}
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return types.Errorf(types.SystemError, "common: %v", err)
	}
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil || fd < 3 || keep[fd] {
			continue
		}
		unix.CloseOnExec(fd)
	}
	return nil
}

// setEnv builds the application environment: the base environment, the
// passed fds and the AppEnv extension
func setEnv(m *daemon.Mgr, c *daemon.SpawningCtx) error {
	env := m.Config.Environ()
	if len(c.Files) > 0 {
		fds := make([]string, 0, len(c.Files))
		for _, f := range c.Files {
			fds = append(fds, strconv.Itoa(int(f.Fd())))
		}
		env = append(env, EnvFds+"="+strings.Join(fds, ","))
	}
	if s, ok := c.Req.ExtString(message.ExtAppEnv); ok && s != "" {
		var appEnv map[string]string
		if err := json.Unmarshal(jsonc.ToJSON([]byte(s)), &appEnv); err != nil {
			return types.Errorf(types.ArgInvalid, "common: invalid %s: %v", message.ExtAppEnv, err)
		}
		for k, v := range appEnv {
			if k == "" || strings.ContainsAny(k, "=\x00") {
				return types.Errorf(types.ArgInvalid, "common: invalid env name %q", k)
			}
			env = setenv(env, k, v)
		}
	}
	c.Env = env
	return nil
}

func setenv(env []string, k, v string) []string {
	for i, e := range env {
		if strings.HasPrefix(e, k+"=") {
			env[i] = k + "=" + v
			return env
		}
	}
	return append(env, k+"="+v)
}

// setIdentity sets umask, process name, groups, gid and uid. Without root
// the identity of the daemon is kept.
func setIdentity(m *daemon.Mgr, c *daemon.SpawningCtx) error {
	unix.Umask(appUmask)
	if len(c.Argv) > 0 && c.ProcessName() != "" {
		c.Argv[0] = c.ProcessName()
	}
	d := c.Req.Dac
	if d == nil {
		return nil
	}
	if os.Geteuid() != 0 {
		m.Logger.Debug("not root, identity unchanged", "uid", d.UID, "gid", d.GID)
		return nil
	}
	gids := make([]int, 0, len(d.Gids))
	for _, g := range d.Gids {
		gids = append(gids, int(g))
	}
	// the syscall package applies credentials to every thread
	if err := syscall.Setgroups(gids); err != nil {
		return types.Errorf(types.SystemError, "common: setgroups %v", err)
	}
	if err := syscall.Setresgid(int(d.GID), int(d.GID), int(d.GID)); err != nil {
		return types.Errorf(types.SystemError, "common: setresgid %v", err)
	}
	if err := syscall.Setresuid(int(d.UID), int(d.UID), int(d.UID)); err != nil {
		return types.Errorf(types.SystemError, "common: setresuid %v", err)
	}
	return nil
}

func recordStart(m *daemon.Mgr, c *daemon.SpawningCtx) error {
	c.Env = setenv(c.Env, EnvStartTime, strconv.FormatInt(time.Now().UnixMilli(), 10))
	return nil
}
