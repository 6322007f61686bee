package daemon

import (
	"errors"
	"os"
	"time"

	"github.com/criyle/go-appspawn/hook"
	"github.com/criyle/go-appspawn/message"
	"github.com/criyle/go-appspawn/types"
	"golang.org/x/sys/unix"
)

// startSpawn creates the spawning context of a spawn request and drives it
// to WaitingChildResult or to a terminal state
func (m *Mgr) startSpawn(c *conn, slot *response, req *message.Request, raw []byte, files []*os.File) {
	m.nextClientID++
	ctx := &SpawningCtx{
		ID:    m.nextClientID,
		Req:   req,
		Raw:   raw,
		Files: files,
		State: StateCreated,
		Start: time.Now(),
		conn:  c,
		slot:  slot,
	}
	m.ctxs[ctx.ID] = ctx
	c.ctxs[ctx.ID] = ctx

	if code := m.admit(ctx); code != types.OK {
		m.resolve(ctx, types.Result{Code: code})
		return
	}
	ctx.Flags = m.spawnFlags(req)

	ctx.State = StateSpawning
	if err := m.Hooks.ExecuteSpawn(hook.ParentPreFork, hook.StopOnError, m, ctx); err != nil {
		m.Logger.Warn("pre fork hooks failed", "id", ctx.ID, "error", err)
		m.resolve(ctx, types.Result{Code: types.Code(err)})
		return
	}

	sp := m.Spawner.Spawn(m, ctx)
	ctx.release = sp.Release
	switch sp.Outcome {
	case FailedBeforeFork:
		m.Logger.Warn("spawn failed", "id", ctx.ID, "error", sp.Err)
		m.resolve(ctx, types.Result{Code: codeOr(sp.Err, types.ForkFail)})
		return

	case FailedAfterFork:
		m.Logger.Warn("spawn failed after fork", "id", ctx.ID, "pid", sp.Pid, "error", sp.Err)
		ctx.channel = sp.Result
		m.signal(sp.Pid, unix.SIGKILL)
		m.resolve(ctx, types.Result{Code: codeOr(sp.Err, types.ForkFail)})
		return
	}

	if m.byPid[sp.Pid] != nil || m.procs[sp.Pid] != nil {
		// the pid is still owned by a context or record
		m.Logger.Error("spawned pid already tracked", "id", ctx.ID, "pid", sp.Pid)
		m.signal(sp.Pid, unix.SIGKILL)
		ctx.channel = sp.Result
		m.resolve(ctx, types.Result{Code: types.ForkFail})
		return
	}
	ctx.Pid = sp.Pid
	ctx.channel = sp.Result
	m.byPid[ctx.Pid] = ctx

	if err := m.Hooks.ExecuteSpawn(hook.ParentPostFork, hook.Options{}, m, ctx); err != nil {
		m.Logger.Warn("post fork hooks failed", "id", ctx.ID, "error", err)
	}
	ctx.State = StateWaitingChildResult

	id, pid := ctx.ID, ctx.Pid
	ctx.timer = time.AfterFunc(m.Config.ChildResultTimeout.D(), func() {
		m.post(func() { m.onChildTimeout(id, pid) })
	})
	ctx.channel.Watch(func(code int32, err error) {
		m.post(func() { m.onChildResult(id, pid, code, err) })
	})
}

// admit checks the request against the mode and configuration
func (m *Mgr) admit(ctx *SpawningCtx) types.ErrCode {
	req := ctx.Req
	switch req.Type {
	case message.TypeSpawnNativeProcess:
		if !m.Config.NativeSpawn {
			return types.NativeNotSupport
		}
	case message.TypeBegetCmd:
		if !m.Config.DeveloperMode {
			return types.DebugModeNotSupport
		}
	}
	return types.OK
}

func (m *Mgr) spawnFlags(req *message.Request) uint32 {
	var f uint32
	if req.HasFlag(message.FlagColdBoot) && m.Config.ColdStart {
		f |= SpawnCold
	}
	if req.Type == message.TypeSpawnNativeProcess {
		f |= SpawnNative
	}
	if m.Mode.IsNWeb() {
		f |= SpawnNWeb
	}
	if req.Type == message.TypeBegetCmd {
		f |= SpawnDebug
	}
	return f
}

func (m *Mgr) onChildResult(id uint32, pid int, code int32, err error) {
	ctx := m.ctxs[id]
	if ctx == nil || ctx.Pid != pid || ctx.State != StateWaitingChildResult {
		m.Logger.Debug("stale child result", "id", id, "pid", pid)
		return
	}
	switch {
	case err != nil:
		m.Logger.Warn("child exited without result", "id", id, "pid", pid, "error", err)
		m.killChild(ctx)
		m.resolve(ctx, types.Result{Code: types.ChildCrash})

	case code != 0:
		m.Logger.Warn("child reported failure", "id", id, "pid", pid, "code", types.ErrCode(code))
		m.killChild(ctx)
		m.resolve(ctx, types.Result{Code: types.ErrCode(code)})

	default:
		m.resolve(ctx, types.Result{Pid: pid})
	}
}

func (m *Mgr) onChildTimeout(id uint32, pid int) {
	ctx := m.ctxs[id]
	if ctx == nil || ctx.Pid != pid || ctx.State != StateWaitingChildResult {
		return
	}
	m.Logger.Warn("child result timeout", "id", id, "pid", pid,
		"timeout", m.Config.ChildResultTimeout.D())
	m.killChild(ctx)
	m.resolve(ctx, types.Result{Code: types.SpawnTimeout})
}

// killChild kills the child of ctx unless it was already reaped
func (m *Mgr) killChild(ctx *SpawningCtx) {
	if ctx.Pid > 0 && !ctx.exited {
		m.signal(ctx.Pid, unix.SIGKILL)
	}
}

// resolve moves ctx to its terminal state, responds and releases it
func (m *Mgr) resolve(ctx *SpawningCtx, res types.Result) {
	if ctx.State.Done() {
		return
	}
	ctx.End = time.Now()
	ctx.Result = res
	if res.Code == types.OK {
		ctx.State = StateResolved
	} else {
		ctx.State = StateFailed
	}
	if ctx.State == StateResolved {
		m.addProcess(ctx)
	}
	if err := m.Hooks.ExecuteSpawn(hook.ParentPreReply, hook.Options{}, m, ctx); err != nil {
		m.Logger.Warn("pre reply hooks failed", "id", ctx.ID, "error", err)
	}
	m.respond(ctx.conn, ctx.slot, res)
	if err := m.Hooks.ExecuteSpawn(hook.ParentPostReply, hook.Options{}, m, ctx); err != nil {
		m.Logger.Warn("post reply hooks failed", "id", ctx.ID, "error", err)
	}
	m.Logger.Info("spawn finished", "id", ctx.ID, "process", ctx.ProcessName(),
		"result", res, "duration", ctx.End.Sub(ctx.Start))
	m.releaseCtx(ctx)
	if ctx.State == StateResolved && ctx.exited {
		if p := m.procs[ctx.Pid]; p != nil {
			m.processDied(p, ctx.status)
		}
	}
}

// cancel aborts ctx without a response, its child is killed
func (m *Mgr) cancel(ctx *SpawningCtx) {
	if ctx.State.Done() {
		return
	}
	m.Logger.Info("spawn cancelled", "id", ctx.ID, "pid", ctx.Pid, "state", ctx.State)
	m.killChild(ctx)
	ctx.State = StateFailed
	ctx.End = time.Now()
	ctx.slot = nil
	m.releaseCtx(ctx)
}

func (m *Mgr) releaseCtx(ctx *SpawningCtx) {
	ctx.free()
	delete(m.ctxs, ctx.ID)
	if ctx.Pid > 0 && m.byPid[ctx.Pid] == ctx {
		delete(m.byPid, ctx.Pid)
	}
	if ctx.conn != nil {
		delete(ctx.conn.ctxs, ctx.ID)
	}
}

// addProcess creates the record of a resolved spawn
func (m *Mgr) addProcess(ctx *SpawningCtx) {
	p := &Process{
		Pid:       ctx.Pid,
		Name:      ctx.ProcessName(),
		Bundle:    ctx.BundleName(),
		Started:   ctx.Start,
		SpawnTime: ctx.End.Sub(ctx.Start),
	}
	if d := ctx.Req.Dac; d != nil {
		p.UID, p.GID = d.UID, d.GID
	}
	m.procs[p.Pid] = p
	if err := m.Hooks.ExecuteProcess(hook.AppAdd, m, p); err != nil {
		m.Logger.Warn("app add hooks failed", "pid", p.Pid, "error", err)
	}
}

func codeOr(err error, def types.ErrCode) types.ErrCode {
	var c types.ErrCode
	if errors.As(err, &c) {
		return c
	}
	return def
}
