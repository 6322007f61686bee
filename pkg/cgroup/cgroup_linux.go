package cgroup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Builder describes the cgroup of one application process
type Builder struct {
	Root   string
	UserID int
	Name   string
}

// App is the cgroup directory of one process
type App struct {
	Path string
	Pid  int
}

// Path returns the cgroup directory for pid
func (b *Builder) Path(pid int) string {
	return filepath.Join(b.Root, strconv.Itoa(b.UserID), filepath.Base(b.Name), "app_"+strconv.Itoa(pid))
}

// Build creates the directory and moves pid into it
func (b *Builder) Build(pid int) (*App, error) {
	if b.Root == "" || b.Name == "" {
		return nil, fmt.Errorf("cgroup: invalid builder %+v", *b)
	}
	p := b.Path(pid)
	if err := os.MkdirAll(p, dirPerm); err != nil {
		return nil, fmt.Errorf("cgroup: failed to create %v: %w", p, err)
	}
	app := &App{Path: p, Pid: pid}
	if err := app.AddProc(pid); err != nil {
		remove(p)
		return nil, err
	}
	return app, nil
}

// AddProc writes pid to cgroup.procs
func (a *App) AddProc(pid int) error {
	if err := writeFile(filepath.Join(a.Path, cgroupProcs), []byte(strconv.Itoa(pid)), filePerm); err != nil {
		return fmt.Errorf("cgroup: failed to add %d to %v: %w", pid, a.Path, err)
	}
	return nil
}

// Procs reads the pids remaining in the cgroup
func (a *App) Procs() ([]int, error) {
	b, err := readFile(filepath.Join(a.Path, cgroupProcs))
	if err != nil {
		return nil, err
	}
	var ret []int
	for _, s := range strings.Fields(string(b)) {
		pid, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("cgroup: invalid pid %q in %v", s, a.Path)
		}
		ret = append(ret, pid)
	}
	return ret, nil
}

// KillAll sends SIGKILL to every process left in the cgroup and returns
// the number of processes signalled
func (a *App) KillAll() (int, error) {
	procs, err := a.Procs()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, pid := range procs {
		if pid == a.Pid || pid <= 0 {
			continue
		}
		if err := unix.Kill(pid, unix.SIGKILL); err == nil {
			n++
		}
	}
	return n, nil
}

// Destroy removes the app directory and the bundle directory if it
// became empty
func (a *App) Destroy() error {
	if err := remove(a.Path); err != nil {
		return fmt.Errorf("cgroup: failed to remove %v: %w", a.Path, err)
	}
	// other processes of the same bundle keep the parent busy
	remove(filepath.Dir(a.Path))
	return nil
}

// Open returns the App for an existing cgroup directory
func (b *Builder) Open(pid int) *App {
	return &App{Path: b.Path(pid), Pid: pid}
}

// DetectType detects current mounted cgroup type in systemd default path
func DetectType() Type {
	var st unix.Statfs_t
	if err := unix.Statfs(basePath, &st); err != nil {
		// ignore errors, defaulting to CgroupV1
		return TypeV1
	}
	if st.Type == unix.CGROUP2_SUPER_MAGIC {
		return TypeV2
	}
	return TypeV1
}

const (
	removeRetry = 5
	removeWait  = 10 * time.Millisecond
)

func remove(name string) error {
	if name == "" {
		return nil
	}
	err := unix.Rmdir(name)
	// the kernel may still hold the group for a short while after a kill
	for i := 0; i < removeRetry && (errors.Is(err, unix.EINTR) || errors.Is(err, unix.EBUSY)); i++ {
		time.Sleep(removeWait)
		err = unix.Rmdir(name)
	}
	if errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

func readFile(p string) ([]byte, error) {
	data, err := os.ReadFile(p)
	for err != nil && errors.Is(err, unix.EINTR) {
		data, err = os.ReadFile(p)
	}
	return data, err
}

func writeFile(p string, content []byte, perm os.FileMode) error {
	err := os.WriteFile(p, content, perm)
	for err != nil && errors.Is(err, unix.EINTR) {
		err = os.WriteFile(p, content, perm)
	}
	return err
}
