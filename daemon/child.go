package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/criyle/go-appspawn/config"
	"github.com/criyle/go-appspawn/hook"
	"github.com/criyle/go-appspawn/message"
	"github.com/criyle/go-appspawn/pkg/memfd"
	"github.com/criyle/go-appspawn/pkg/pipe"
	"github.com/criyle/go-appspawn/pkg/shm"
	"github.com/criyle/go-appspawn/types"
	"golang.org/x/sys/unix"
)

// ColdArgs are the positional arguments of a cold start child:
//
//	-mode app_cold|nweb_cold -fd <resultFd> <flags> <size> -param <process> <clientId>
type ColdArgs struct {
	Mode        Mode
	ResultFd    int
	Flags       uint32
	Size        int
	ProcessName string
	ClientID    uint32
}

// ParseColdArgs parses the arguments following the binary name
func ParseColdArgs(args []string) (*ColdArgs, error) {
	if len(args) != 9 || args[0] != "-mode" || args[2] != "-fd" || args[6] != "-param" {
		return nil, fmt.Errorf("daemon: invalid cold start arguments %q", args)
	}
	mode, err := ParseMode(args[1])
	if err != nil {
		return nil, err
	}
	if !mode.IsCold() {
		return nil, fmt.Errorf("daemon: %v is not a cold start mode", mode)
	}
	a := &ColdArgs{Mode: mode, ProcessName: args[7]}
	if a.ResultFd, err = strconv.Atoi(args[3]); err != nil || a.ResultFd < 3 {
		return nil, fmt.Errorf("daemon: invalid result fd %q", args[3])
	}
	flags, err := strconv.ParseUint(args[4], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("daemon: invalid flags %q", args[4])
	}
	a.Flags = uint32(flags)
	if a.Size, err = strconv.Atoi(args[5]); err != nil || a.Size <= 0 {
		return nil, fmt.Errorf("daemon: invalid region size %q", args[5])
	}
	id, err := strconv.ParseUint(args[8], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("daemon: invalid client id %q", args[8])
	}
	a.ClientID = uint32(id)
	return a, nil
}

// RunChild runs the child pipeline of a spawned process: it loads the
// payload, runs the child stages, reports the result and execs the
// launcher. It only returns on failure. cold is nil for a warm child.
func (m *Mgr) RunChild(cold *ColdArgs) error {
	runtime.LockOSThread()

	resultFd := ResultFd
	if cold != nil {
		resultFd = cold.ResultFd
	}
	result := os.NewFile(uintptr(resultFd), "result")
	reported := false
	report := func(code types.ErrCode) {
		if reported {
			return
		}
		reported = true
		if err := pipe.WriteResult(result, int32(code)); err != nil {
			m.Logger.Error("failed to report result", "error", err)
		}
		result.Close()
	}

	ctx, err := m.loadChild(cold, resultFd)
	if err != nil {
		report(types.Code(err))
		return err
	}
	stage := func(s hook.Stage) error {
		if err := m.Hooks.ExecuteSpawn(s, hook.StopOnError, m, ctx); err != nil {
			m.Logger.Error("child stage failed", "stage", s, "process", ctx.ProcessName(), "error", err)
			report(types.Code(err))
			return err
		}
		return nil
	}
	if ctx.IsCold() {
		if err := stage(hook.ChildPreColdBoot); err != nil {
			return err
		}
	}
	if err := stage(hook.ChildExecute); err != nil {
		return err
	}
	if err := stage(hook.ChildPreReply); err != nil {
		return err
	}
	report(types.OK)

	m.Hooks.ExecuteSpawn(hook.ChildPostReply, hook.Options{}, m, ctx)
	m.Hooks.ExecuteSpawn(hook.ChildPreRun, hook.Options{}, m, ctx)

	path := ctx.Path
	if lp, err := exec.LookPath(path); err == nil {
		path = lp
	}
	m.Logger.Debug("exec launcher", "path", path, "args", ctx.Argv)
	err = unix.Exec(path, ctx.Argv, ctx.Env)
	runtime.KeepAlive(ctx.Files)
	return fmt.Errorf("daemon: failed to exec %s %v", path, err)
}

// loadChild rebuilds the spawning context from the payload
func (m *Mgr) loadChild(cold *ColdArgs, resultFd int) (*SpawningCtx, error) {
	var (
		p    *shm.Payload
		base int
		err  error
	)
	if cold != nil {
		dir := os.Getenv(EnvMsgDir)
		if dir == "" {
			dir = m.Config.MsgDir
		}
		mp, err := shm.Attach(shm.RegionPath(dir, cold.ProcessName, cold.ClientID), cold.Size)
		if err != nil {
			return nil, types.Errorf(types.SystemError, "%v", err)
		}
		p, err = mp.Payload()
		mp.Detach()
		if err != nil {
			return nil, types.Errorf(types.MsgInvalid, "%v", err)
		}
		if p.ClientID != cold.ClientID {
			return nil, types.Errorf(types.MsgInvalid, "daemon: region of client %d, expected %d",
				p.ClientID, cold.ClientID)
		}
		base = resultFd + 1
	} else {
		f := os.NewFile(PayloadFd, "payload")
		b, err := memfd.ReadSealed(f)
		f.Close()
		if err != nil {
			return nil, types.Errorf(types.SystemError, "%v", err)
		}
		if p, err = shm.Parse(b); err != nil {
			return nil, types.Errorf(types.MsgInvalid, "%v", err)
		}
		base = PayloadFd + 1
	}

	if len(p.Config) > 0 {
		cfg := config.Default()
		if err := shm.UnmarshalConfig(p.Config, cfg); err != nil {
			return nil, types.Errorf(types.MsgInvalid, "%v", err)
		}
		m.Config = cfg
		m.died.size = cfg.DiedQueueSize
		m.Logger = cfg.Log.NewLogger().With("mode", m.Mode.String(), "pid", os.Getpid())
		m.Hooks.SetLogger(m.Logger)
	}

	req, _, err := message.Decode(p.Message)
	if err != nil {
		return nil, types.Errorf(types.MsgInvalid, "%v", err)
	}
	ctx := &SpawningCtx{
		ID:    p.ClientID,
		Req:   req,
		Raw:   p.Message,
		Flags: p.Flags,
		State: StateSpawning,
		Pid:   os.Getpid(),
		Start: time.Now(),
		Env:   m.Config.Environ(),
	}
	for i := 0; i < p.FdCount; i++ {
		ctx.Files = append(ctx.Files, os.NewFile(uintptr(base+i), "fd"+strconv.Itoa(i)))
	}
	if ctx.Argv, err = m.launcher(ctx); err != nil {
		return nil, err
	}
	ctx.Path = ctx.Argv[0]
	return ctx, nil
}

// launcher returns the command the child execs
func (m *Mgr) launcher(ctx *SpawningCtx) ([]string, error) {
	if ctx.IsNative() {
		cmd, ok := ctx.Req.ExtString(message.ExtRenderCmd)
		if !ok || cmd == "" {
			return nil, types.Errorf(types.ArgInvalid, "daemon: native spawn without %s", message.ExtRenderCmd)
		}
		return []string{"/bin/sh", "-c", cmd}, nil
	}
	l := m.Config.Launcher
	if ctx.Flags&SpawnNWeb != 0 && len(m.Config.NWebLauncher) > 0 {
		l = m.Config.NWebLauncher
	}
	if len(l) == 0 {
		return nil, types.Errorf(types.ArgInvalid, "daemon: no launcher configured")
	}
	return append([]string(nil), l...), nil
}
