package daemon

import (
	"os"

	"github.com/criyle/go-appspawn/message"
	"github.com/criyle/go-appspawn/types"
	"golang.org/x/sys/unix"
)

// dispatch handles a decoded request. The response slot is reserved before
// anything else so that responses leave in request order.
func (m *Mgr) dispatch(c *conn, req *message.Request, raw []byte, files []*os.File) {
	slot := c.reserve(req.Header)
	m.Logger.Debug("request received", "conn", c.id, "request", req, "fds", len(files))

	if err := message.Validate(req); err != nil {
		closeFiles(files)
		m.Logger.Warn("invalid request", "conn", c.id, "id", req.ID, "error", err)
		m.respond(c, slot, types.Result{Code: types.Code(err)})
		return
	}
	switch req.Type {
	case message.TypeDump:
		closeFiles(files)
		m.dumpRequest(req)
		m.respond(c, slot, types.Result{})

	case message.TypeGetRenderTerminationStatus:
		closeFiles(files)
		m.terminationStatus(c, slot, req)

	default:
		m.startSpawn(c, slot, req, raw, files)
	}
}

// terminationStatus answers from the died queue, or kills the live process
// and answers once it was reaped
func (m *Mgr) terminationStatus(c *conn, slot *response, req *message.Request) {
	pid := int(req.Termination.Pid)
	if !m.Mode.IsNWeb() {
		m.respond(c, slot, types.Result{Code: types.MsgInvalid, Pid: pid})
		return
	}
	if pid <= 0 {
		m.respond(c, slot, types.Result{Pid: pid})
		return
	}
	if p := m.died.take(pid); p != nil {
		m.respond(c, slot, types.Result{Code: types.ErrCode(p.ExitCode()), Pid: pid})
		return
	}
	if p := m.procs[pid]; p != nil && !p.Helper {
		m.queries[pid] = append(m.queries[pid], pendingQuery{conn: c, slot: slot})
		m.signal(pid, unix.SIGKILL)
		return
	}
	m.respond(c, slot, types.Result{Code: -1, Pid: pid})
}

// answerQueries responds to the termination queries waiting on p and
// reports whether there were any
func (m *Mgr) answerQueries(p *Process) bool {
	qs, ok := m.queries[p.Pid]
	if !ok {
		return false
	}
	delete(m.queries, p.Pid)
	for _, q := range qs {
		m.respond(q.conn, q.slot, types.Result{Code: types.ErrCode(p.ExitCode()), Pid: p.Pid})
	}
	return true
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}
