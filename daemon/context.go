package daemon

import (
	"os"
	"time"

	"github.com/criyle/go-appspawn/message"
	"github.com/criyle/go-appspawn/types"
	"golang.org/x/sys/unix"
)

// State is the state of a spawning context
type State int

// Spawning states
const (
	StateCreated State = iota
	StateSpawning
	StateWaitingChildResult
	StateResolved
	StateFailed
)

var stateString = []string{
	"Created",
	"Spawning",
	"WaitingChildResult",
	"Resolved",
	"Failed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateString) {
		return stateString[s]
	}
	return "State(?)"
}

// Done reports whether the state is terminal
func (s State) Done() bool {
	return s == StateResolved || s == StateFailed
}

// Spawning flags derived by the daemon and carried to the child
const (
	SpawnCold uint32 = 1 << iota
	SpawnNative
	SpawnNWeb
	SpawnDebug
)

// SpawningCtx is the in flight state of one spawn request. In the daemon it
// lives from the accepted request to the response; in the child it carries
// the request through the child stages.
type SpawningCtx struct {
	ID    uint32
	Req   *message.Request
	Raw   []byte
	Flags uint32
	State State

	// Files are the fds passed by the client. In the child they are the
	// inherited descriptors in order.
	Files []*os.File

	Pid    int
	Result types.Result
	Start  time.Time
	End    time.Time

	// Path, Argv and Env are what the child execs after its pipeline,
	// modules may rewrite them
	Path string
	Argv []string
	Env  []string

	conn    *conn
	slot    *response
	channel ResultChannel
	release func()
	timer   *time.Timer

	// exit recorded by the supervisor while waiting for the result
	exited bool
	status unix.WaitStatus
}

// IsCold reports whether the child goes through the cold start path
func (c *SpawningCtx) IsCold() bool {
	return c.Flags&SpawnCold != 0
}

// IsNative reports whether the request spawns a native process
func (c *SpawningCtx) IsNative() bool {
	return c.Flags&SpawnNative != 0
}

// BundleName returns the bundle name of the request
func (c *SpawningCtx) BundleName() string {
	if c.Req == nil || c.Req.Bundle == nil {
		return ""
	}
	return c.Req.Bundle.Name
}

// ProcessName returns the process name of the request
func (c *SpawningCtx) ProcessName() string {
	if c.Req == nil {
		return ""
	}
	return c.Req.ProcessName
}

// CloseFiles closes the passed fds
func (c *SpawningCtx) CloseFiles() {
	for _, f := range c.Files {
		f.Close()
	}
	c.Files = nil
}

// free releases everything the context holds except its response slot
func (c *SpawningCtx) free() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.release != nil {
		c.release()
		c.release = nil
	}
	c.CloseFiles()
}
