package modules

import (
	"fmt"
	"io"

	"github.com/criyle/go-appspawn/daemon"
	"github.com/criyle/go-appspawn/hook"
	"github.com/criyle/go-appspawn/message"
	"github.com/criyle/go-appspawn/pkg/seccomp"
	"github.com/criyle/go-appspawn/types"
)

type seccompModule struct {
	builder *seccomp.Builder
	filter  seccomp.Filter
}

// Seccomp installs the syscall deny list in applications
func Seccomp() Module {
	mod := &seccompModule{}
	return Module{
		Name: "seccomp",
		Install: func(m *daemon.Mgr) error {
			return first(
				m.Hooks.AddServer(hook.ServerPreload, hook.PrioLowest, "seccomp.check", mod.preload),
				m.Hooks.AddSpawn(hook.ChildExecute, hook.PrioLowest, "seccomp.load", mod.load),
			)
		},
	}
}

func policy(m *daemon.Mgr) (*seccomp.Builder, error) {
	action, err := seccomp.ParseAction(m.Config.Seccomp.Action)
	if err != nil {
		return nil, types.Errorf(types.SandboxInvalid, "%v", err)
	}
	return &seccomp.Builder{Deny: m.Config.Seccomp.Deny, Action: action}, nil
}

func (s *seccompModule) preload(m *daemon.Mgr) error {
	if !m.Config.Seccomp.Enabled {
		return nil
	}
	b, err := policy(m)
	if err != nil {
		return err
	}
	if s.filter, err = b.Build(); err != nil {
		return types.Errorf(types.SandboxInvalid, "%v", err)
	}
	s.builder = b
	m.AddDumper(s)
	return nil
}

func (s *seccompModule) load(m *daemon.Mgr, c *daemon.SpawningCtx) error {
	if !m.Config.Seccomp.Enabled || c.Req.HasFlag(message.FlagDebuggable) || c.Req.HasFlag(message.FlagNoSandbox) {
		return nil
	}
	b, err := policy(m)
	if err != nil {
		return err
	}
	if err := b.Load(); err != nil {
		return types.Errorf(types.SandboxLoadFail, "%v", err)
	}
	return nil
}

func (s *seccompModule) Name() string {
	return "seccomp"
}

func (s *seccompModule) Dump(w io.Writer) {
	fmt.Fprintf(w, "deny=%v action=%v instructions=%d\n", s.builder.Deny, s.builder.Action, len(s.filter))
}
