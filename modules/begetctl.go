package modules

import (
	"os"
	"strings"

	"github.com/criyle/go-appspawn/daemon"
	"github.com/criyle/go-appspawn/hook"
	"github.com/criyle/go-appspawn/message"
	"github.com/criyle/go-appspawn/types"
	"golang.org/x/sys/unix"
)

const (
	ptsPrefix = "/dev/pts/"
	shell     = "/bin/sh"
)

type begetctlModule struct {
	// PtsPrefix restricts the terminals a debug shell may attach to
	PtsPrefix string
	pty       *os.File
}

// Begetctl turns a debug command child into a shell on the requested
// terminal
func Begetctl() Module {
	return begetctl(ptsPrefix)
}

func begetctl(prefix string) Module {
	mod := &begetctlModule{PtsPrefix: prefix}
	return Module{
		Name: "begetctl",
		Install: func(m *daemon.Mgr) error {
			return first(
				m.Hooks.AddSpawn(hook.ChildPreReply, hook.PrioLowest, "begetctl.open", mod.open),
				m.Hooks.AddSpawn(hook.ChildPreRun, hook.PrioLowest, "begetctl.shell", mod.shell),
			)
		},
	}
}

func isDebug(c *daemon.SpawningCtx) bool {
	return c.Flags&daemon.SpawnDebug != 0 && c.Req.HasFlag(message.FlagBegetctlBoot)
}

// open checks the terminal before the child reports success
func (b *begetctlModule) open(m *daemon.Mgr, c *daemon.SpawningCtx) error {
	if !isDebug(c) {
		return nil
	}
	path, _ := c.Req.ExtString(message.ExtPtyName)
	if !strings.HasPrefix(path, b.PtsPrefix) || strings.Contains(path, "..") {
		return types.Errorf(types.ArgInvalid, "begetctl: invalid terminal %q", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return types.Errorf(types.ArgInvalid, "begetctl: %v", err)
	}
	b.pty = f
	return nil
}

// shell makes the terminal the stdio of the child and replaces the
// launcher with a shell
func (b *begetctlModule) shell(m *daemon.Mgr, c *daemon.SpawningCtx) error {
	if b.pty == nil {
		return nil
	}
	fd := int(b.pty.Fd())
	for i := 0; i < 3; i++ {
		if err := unix.Dup3(fd, i, 0); err != nil {
			return types.Errorf(types.SystemError, "begetctl: dup %v", err)
		}
	}
	b.pty.Close()
	b.pty = nil
	c.Path = shell
	c.Argv = []string{"sh"}
	return nil
}
