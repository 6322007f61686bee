package modules

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/criyle/go-appspawn/config"
	"github.com/criyle/go-appspawn/daemon"
	"github.com/criyle/go-appspawn/hook"
	"github.com/criyle/go-appspawn/message"
	"github.com/criyle/go-appspawn/pkg/mount"
	"github.com/criyle/go-appspawn/types"
)

// Preparer sets up the filesystem view of the child. Prepare runs once in
// the child before the identity is dropped.
type Preparer interface {
	Prepare(m *daemon.Mgr, c *daemon.SpawningCtx) error
}

// MountSandbox enters a private mount namespace built from the configured
// mount plan and changes root into it
type MountSandbox struct{}

// Prepare implements Preparer
func (MountSandbox) Prepare(m *daemon.Mgr, c *daemon.SpawningCtx) error {
	b, err := MountPlan(m.Config.Sandbox)
	if err != nil {
		return err
	}
	vars := SandboxVars(c)
	return mount.Enter(expand(m.Config.Sandbox.Root, vars), b.Expand(vars).FilterNotExist().Mounts)
}

func expand(s string, vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "<"+k+">", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// SandboxVars returns the variables expanded in the sandbox root and mounts
func SandboxVars(c *daemon.SpawningCtx) map[string]string {
	vars := map[string]string{
		"PackageName": c.BundleName(),
		"ProcessName": c.ProcessName(),
	}
	if d := c.Req.Dac; d != nil {
		vars["currentUserId"] = strconv.Itoa(int(d.UID / daemon.UIDBase))
		vars["uid"] = strconv.Itoa(int(d.UID))
	}
	return vars
}

// MountPlan converts the configured mounts into a mount builder
func MountPlan(cfg config.SandboxConfig) (*mount.Builder, error) {
	b := mount.NewBuilder()
	for _, mc := range cfg.Mounts {
		switch mc.Type {
		case "", "bind":
			if mc.Source == "" || mc.Target == "" {
				return nil, types.Errorf(types.SandboxInvalid, "sandbox: bind mount needs src and dst")
			}
			b.WithBind(mc.Source, mc.Target, mc.ReadOnly)
		case "tmpfs":
			b.WithTmpfs(mc.Target, mc.Options)
		case "proc":
			b.WithProcRW(!mc.ReadOnly)
		default:
			return nil, types.Errorf(types.SandboxInvalid, "sandbox: unknown mount type %q", mc.Type)
		}
	}
	return b, nil
}

type sandboxModule struct {
	sandbox Preparer
	plan    *mount.Builder
}

// Sandbox installs the sandbox boundary with s as the collaborator
func Sandbox(s Preparer) Module {
	mod := &sandboxModule{sandbox: s}
	return Module{
		Name: "sandbox",
		Install: func(m *daemon.Mgr) error {
			return first(
				m.Hooks.AddServer(hook.ServerPreload, hook.PrioSandbox, "sandbox.plan", mod.preload),
				m.Hooks.AddSpawn(hook.ChildExecute, hook.PrioSandbox, "sandbox.prepare", mod.prepare),
			)
		},
	}
}

func (s *sandboxModule) preload(m *daemon.Mgr) error {
	if !m.Config.Sandbox.Enabled {
		return nil
	}
	plan, err := MountPlan(m.Config.Sandbox)
	if err != nil {
		return err
	}
	s.plan = plan
	m.AddDumper(s)
	return nil
}

func (s *sandboxModule) prepare(m *daemon.Mgr, c *daemon.SpawningCtx) error {
	if !m.Config.Sandbox.Enabled || c.Req.HasFlag(message.FlagNoSandbox) {
		return nil
	}
	err := s.sandbox.Prepare(m, c)
	if err == nil {
		return nil
	}
	if c.Req.HasFlag(message.FlagIgnoreSandbox) {
		m.Logger.Warn("sandbox failure ignored", "process", c.ProcessName(), "error", err)
		return nil
	}
	if types.Code(err) == types.SystemError {
		return types.Errorf(types.SandboxMountFail, "sandbox: %v", err)
	}
	return err
}

func (s *sandboxModule) Name() string {
	return "sandbox"
}

func (s *sandboxModule) Dump(w io.Writer) {
	fmt.Fprintln(w, s.plan)
}
