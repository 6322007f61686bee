package modules

import (
	"github.com/criyle/go-appspawn/daemon"
	"github.com/criyle/go-appspawn/hook"
	"github.com/criyle/go-appspawn/types"
)

// RLimit applies the configured resource limits in the child
func RLimit() Module {
	return Module{
		Name: "rlimit",
		Install: func(m *daemon.Mgr) error {
			return m.Hooks.AddSpawn(hook.ChildExecute, hook.PrioCommon, "rlimit.apply", applyRLimits)
		},
	}
}

func applyRLimits(m *daemon.Mgr, c *daemon.SpawningCtx) error {
	if err := m.Config.RLimits.Apply(); err != nil {
		return types.Errorf(types.SystemError, "%v", err)
	}
	return nil
}
