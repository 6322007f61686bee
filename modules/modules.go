// Package modules contains the built in hook modules of the daemon. Every
// module registers its hooks on the daemon content when installed; the
// daemon itself knows nothing about them.
package modules

import (
	"github.com/criyle/go-appspawn/daemon"
)

// Module is a named set of hooks
type Module struct {
	Name    string
	Install func(m *daemon.Mgr) error
}

// Builtin returns the modules installed by the appspawn binary
func Builtin() []Module {
	return []Module{
		Common(),
		Sandbox(MountSandbox{}),
		Cgroup(),
		RLimit(),
		Seccomp(),
		Begetctl(),
	}
}

// Install registers mods on m, or the built in modules when mods is empty
func Install(m *daemon.Mgr, mods ...Module) error {
	if len(mods) == 0 {
		mods = Builtin()
	}
	for _, mod := range mods {
		if err := mod.Install(m); err != nil {
			return err
		}
		m.Logger.Debug("module installed", "module", mod.Name)
	}
	return nil
}

// first returns the first non nil error
func first(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
