package daemon

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// UIDBase is the uid range of one user, the user id of an application is
// its uid divided by UIDBase
const UIDBase = 200000

// Process is the record of a successfully spawned child
type Process struct {
	Pid     int
	UID     uint32
	GID     uint32
	Name    string
	Bundle  string
	Started time.Time
	// SpawnTime is the time from request to child report
	SpawnTime time.Duration
	// Helper marks the secondary service started by the daemon itself
	Helper bool

	Exited bool
	Status unix.WaitStatus
	Ended  time.Time
}

// UserID returns the user id the application runs for
func (p *Process) UserID() int {
	return int(p.UID / UIDBase)
}

// ExitCode returns the status reported to termination status queries
func (p *Process) ExitCode() int32 {
	return int32(p.Status)
}

func (p *Process) String() string {
	if p.Exited {
		return fmt.Sprintf("Process[%d %s exited %v]", p.Pid, p.Name, statusString(p.Status))
	}
	return fmt.Sprintf("Process[%d %s uid=%d]", p.Pid, p.Name, p.UID)
}

func statusString(s unix.WaitStatus) string {
	switch {
	case s.Signaled():
		return "signal " + s.Signal().String()
	case s.Exited():
		return fmt.Sprintf("exit %d", s.ExitStatus())
	}
	return fmt.Sprintf("status %#x", uint32(s))
}

// diedQueue keeps the latest exited records, the oldest is dropped first
type diedQueue struct {
	size  int
	procs []*Process
}

func (q *diedQueue) push(p *Process) {
	if q.size <= 0 {
		return
	}
	if len(q.procs) >= q.size {
		copy(q.procs, q.procs[len(q.procs)-q.size+1:])
		q.procs = q.procs[:q.size-1]
	}
	q.procs = append(q.procs, p)
}

// take removes and returns the record of pid
func (q *diedQueue) take(pid int) *Process {
	for i, p := range q.procs {
		if p.Pid == pid {
			q.procs = append(q.procs[:i], q.procs[i+1:]...)
			return p
		}
	}
	return nil
}
