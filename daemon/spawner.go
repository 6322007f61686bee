package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/criyle/go-appspawn/pkg/memfd"
	"github.com/criyle/go-appspawn/pkg/pipe"
	"github.com/criyle/go-appspawn/pkg/shm"
	"github.com/criyle/go-appspawn/types"
)

// Outcome is the result of a spawn operation
type Outcome int

// Spawn outcomes
const (
	Succeeded Outcome = iota
	FailedBeforeFork
	FailedAfterFork
)

// Fixed descriptors of a spawned child
const (
	ResultFd  = 3
	PayloadFd = 4
)

// Environment of spawned children
const (
	// EnvMsgDir tells a cold child where its region lives
	EnvMsgDir = "APPSPAWN_MSG_DIR"
)

// ResultChannel is the daemon side of the single shot child report
type ResultChannel interface {
	// Watch calls fn exactly once with the result or the read error
	Watch(fn func(int32, error))
	Close()
}

// Spawned is what a spawn operation produced
type Spawned struct {
	Outcome Outcome
	Pid     int
	Result  ResultChannel
	// Release frees the transport resources once the context is done
	Release func()
	Err     error
}

// Spawner creates the child of a spawning context
type Spawner interface {
	Spawn(m *Mgr, c *SpawningCtx) Spawned
}

// ExecSpawner re-executes the binary as the child: the warm path hands
// the payload over a sealed memfd, the cold path through a named region
type ExecSpawner struct {
	// ExecFile defaults to /proc/self/exe
	ExecFile string
	// Stderr of the child, defaults to os.Stderr
	Stderr *os.File
}

// Spawn implements Spawner
func (s *ExecSpawner) Spawn(m *Mgr, c *SpawningCtx) Spawned {
	exe := s.ExecFile
	if exe == "" {
		exe = "/proc/self/exe"
	}
	stderr := s.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	failed := func(err error) Spawned {
		return Spawned{Outcome: FailedBeforeFork, Err: err}
	}

	cfg, err := shm.MarshalConfig(m.Config)
	if err != nil {
		return failed(err)
	}
	payload := &shm.Payload{
		ClientID: c.ID,
		Flags:    c.Flags,
		Message:  c.Raw,
		Config:   cfg,
		FdCount:  len(c.Files),
	}
	result, err := pipe.NewResult()
	if err != nil {
		return failed(types.Errorf(types.ForkFail, "%v", err))
	}

	var (
		args    []string
		extra   = []*os.File{result.W}
		release func()
	)
	if c.IsCold() {
		if err := os.MkdirAll(m.Config.MsgDir, 0711); err != nil {
			result.Close()
			return failed(fmt.Errorf("daemon: failed to create message dir %v", err))
		}
		path := shm.RegionPath(m.Config.MsgDir, c.ProcessName(), c.ID)
		region, err := shm.Create(path, payload)
		if err != nil {
			result.Close()
			return failed(err)
		}
		release = func() { region.Remove() }
		mode := ModeAppCold
		if c.Flags&SpawnNWeb != 0 {
			mode = ModeNWebCold
		}
		args = []string{exe, "-mode", mode.String(), "-fd", strconv.Itoa(ResultFd),
			strconv.FormatUint(uint64(c.Flags), 10), strconv.Itoa(region.Size),
			"-param", c.ProcessName(), strconv.FormatUint(uint64(c.ID), 10)}
	} else {
		b, err := shm.Serialize(payload)
		if err != nil {
			result.Close()
			return failed(err)
		}
		f, err := memfd.Sealed("appspawn_payload", b)
		if err != nil {
			result.Close()
			return failed(err)
		}
		defer f.Close()
		extra = append(extra, f)
		args = []string{exe, "--mode", ModeChild.String()}
	}
	extra = append(extra, c.Files...)

	cmd := &exec.Cmd{
		Path:       exe,
		Args:       args,
		Env:        append(m.Config.Environ(), EnvMsgDir+"="+m.Config.MsgDir),
		Stderr:     stderr,
		ExtraFiles: extra,
	}
	if err := cmd.Start(); err != nil {
		result.Close()
		if release != nil {
			release()
		}
		return failed(types.Errorf(types.ForkFail, "daemon: failed to start child %v", err))
	}
	result.CloseWriter()
	pid := cmd.Process.Pid
	// exits are collected by the SIGCHLD handler
	cmd.Process.Release()

	return Spawned{
		Outcome: Succeeded,
		Pid:     pid,
		Result:  result,
		Release: release,
	}
}
