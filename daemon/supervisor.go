package daemon

import (
	"time"

	"github.com/criyle/go-appspawn/hook"
	"golang.org/x/sys/unix"
)

// reapChildren collects every exited child
func (m *Mgr) reapChildren() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil || pid <= 0 {
			return
		}
		m.childExited(pid, ws)
	}
}

// childExited reconciles an exit notification with the spawning contexts
// and the process records
func (m *Mgr) childExited(pid int, ws unix.WaitStatus) {
	if ctx := m.byPid[pid]; ctx != nil && !ctx.State.Done() {
		// resolved by the result channel, which sees EOF at the latest now
		ctx.exited, ctx.status = true, ws
		m.Logger.Debug("child exited before reporting", "id", ctx.ID, "pid", pid,
			"status", statusString(ws))
		return
	}
	if p := m.procs[pid]; p != nil {
		m.processDied(p, ws)
		return
	}
	m.Logger.Debug("reaped unknown child", "pid", pid, "status", statusString(ws))
}

// processDied retires a record
func (m *Mgr) processDied(p *Process, ws unix.WaitStatus) {
	delete(m.procs, p.Pid)
	p.Exited, p.Status, p.Ended = true, ws, time.Now()
	m.Logger.Info("process died", "pid", p.Pid, "process", p.Name, "status", statusString(ws))
	if err := m.Hooks.ExecuteProcess(hook.AppDied, m, p); err != nil {
		m.Logger.Warn("app died hooks failed", "pid", p.Pid, "error", err)
	}
	if !m.answerQueries(p) {
		m.died.push(p)
	}
	if p.Helper {
		m.helper = 0
		m.shutdown("secondary service died")
	}
}
