package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"time"
)

// startHelper launches the binary in nwebspawn mode and tracks it as the
// helper record, its death stops this daemon
func (m *Mgr) startHelper() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemon: failed to locate executable %v", err)
	}
	args := append([]string{exe, "--mode", ModeNWebSpawn.String()}, m.HelperArgs...)
	cmd := &exec.Cmd{
		Path:   exe,
		Args:   args,
		Env:    os.Environ(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("daemon: failed to start secondary service %v", err)
	}
	pid := cmd.Process.Pid
	// reaped by the SIGCHLD handler, never by cmd.Wait
	cmd.Process.Release()
	m.addHelper(pid)
	return nil
}

func (m *Mgr) addHelper(pid int) {
	m.helper = pid
	m.procs[pid] = &Process{
		Pid:     pid,
		UID:     uint32(os.Getuid()),
		GID:     uint32(os.Getgid()),
		Name:    ModeNWebSpawn.String(),
		Started: time.Now(),
		Helper:  true,
	}
	m.Logger.Info("secondary service started", "pid", pid)
}
