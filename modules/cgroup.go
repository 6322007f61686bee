package modules

import (
	"fmt"
	"io"
	"sort"

	"github.com/criyle/go-appspawn/daemon"
	"github.com/criyle/go-appspawn/hook"
	"github.com/criyle/go-appspawn/pkg/cgroup"
)

type cgroupModule struct {
	enabled bool
	typ     cgroup.Type
	apps    map[int]*cgroup.App
}

// Cgroup puts every application into its own pids cgroup
func Cgroup() Module {
	mod := &cgroupModule{apps: make(map[int]*cgroup.App)}
	return Module{
		Name: "cgroup",
		Install: func(m *daemon.Mgr) error {
			return first(
				m.Hooks.AddServer(hook.ServerPreload, hook.PrioCommon, "cgroup.detect", mod.preload),
				m.Hooks.AddProcess(hook.AppAdd, hook.PrioCommon, "cgroup.add", mod.add),
				m.Hooks.AddProcess(hook.AppDied, hook.PrioCommon, "cgroup.remove", mod.remove),
			)
		},
	}
}

func (c *cgroupModule) preload(m *daemon.Mgr) error {
	c.enabled = m.Config.Cgroup.Root != "" && !m.Mode.IsNWeb()
	if !c.enabled {
		return nil
	}
	c.typ = cgroup.DetectType()
	m.Logger.Info("cgroup enabled", "root", m.Config.Cgroup.Root, "type", c.typ)
	m.AddDumper(c)
	return nil
}

func (c *cgroupModule) add(m *daemon.Mgr, p *daemon.Process) error {
	if !c.enabled || p.Helper {
		return nil
	}
	b := cgroup.Builder{Root: m.Config.Cgroup.Root, UserID: p.UserID(), Name: p.Name}
	app, err := b.Build(p.Pid)
	if err != nil {
		return err
	}
	c.apps[p.Pid] = app
	return nil
}

func (c *cgroupModule) remove(m *daemon.Mgr, p *daemon.Process) error {
	app, ok := c.apps[p.Pid]
	if !ok {
		return nil
	}
	delete(c.apps, p.Pid)
	if n, err := app.KillAll(); err != nil {
		m.Logger.Debug("failed to read cgroup processes", "path", app.Path, "error", err)
	} else if n > 0 {
		m.Logger.Info("killed processes left in cgroup", "path", app.Path, "count", n)
	}
	return app.Destroy()
}

func (c *cgroupModule) Name() string {
	return "cgroup"
}

func (c *cgroupModule) Dump(w io.Writer) {
	pids := make([]int, 0, len(c.apps))
	for pid := range c.apps {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	fmt.Fprintf(w, "type=%v apps=%d\n", c.typ, len(pids))
	for _, pid := range pids {
		fmt.Fprintf(w, "%d %s\n", pid, c.apps[pid].Path)
	}
}
