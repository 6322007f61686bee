package daemon

import (
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/criyle/go-appspawn/config"
	"github.com/criyle/go-appspawn/hook"
	"golang.org/x/sys/unix"
)

// Hooks is the hook registry of the daemon content
type Hooks = hook.Registry[*Mgr, *SpawningCtx, *Process]

// Dumper contributes a section to the diagnostic dump
type Dumper interface {
	Name() string
	Dump(w io.Writer)
}

// Kicker keeps the kernel watchdog alive
type Kicker interface {
	Open() error
	Kick() error
}

// Mgr is the daemon content. Except for the option setters and the
// accessors documented otherwise, it must only be used from the goroutine
// running Run, or from hooks called by it.
type Mgr struct {
	Mode   Mode
	Config *config.Config
	Hooks  *Hooks
	Logger *slog.Logger

	// Spawner creates children, it defaults to an ExecSpawner
	Spawner Spawner
	// Watchdog is kicked from the loop when set
	Watchdog Kicker
	// HelperArgs are appended to the command line of the secondary service
	HelperArgs []string
	// DumpDir holds the terminals a dump request may write to
	DumpDir string

	kill func(pid int, sig syscall.Signal) error

	listener *unixListener
	limited  net.Listener
	events   chan func()
	done     chan struct{}
	stopping bool
	started  time.Time

	conns   map[*conn]struct{}
	ctxs    map[uint32]*SpawningCtx
	byPid   map[int]*SpawningCtx
	procs   map[int]*Process
	died    diedQueue
	queries map[int][]pendingQuery
	dumpers []Dumper
	helper  int

	nextClientID uint32
	nextConnID   uint32
}

type pendingQuery struct {
	conn *conn
	slot *response
}

// Option configures a Mgr
type Option func(*Mgr)

// WithSpawner replaces the child spawner
func WithSpawner(s Spawner) Option {
	return func(m *Mgr) {
		m.Spawner = s
	}
}

// WithLogger sets the logger of the daemon and its hooks
func WithLogger(l *slog.Logger) Option {
	return func(m *Mgr) {
		m.Logger = l
	}
}

// WithKill replaces the function used to signal children
func WithKill(kill func(pid int, sig syscall.Signal) error) Option {
	return func(m *Mgr) {
		m.kill = kill
	}
}

// WithWatchdog sets the watchdog kicked by the loop
func WithWatchdog(k Kicker) Option {
	return func(m *Mgr) {
		m.Watchdog = k
	}
}

// New creates the daemon content for mode
func New(mode Mode, cfg *config.Config, opts ...Option) *Mgr {
	if cfg == nil {
		cfg = config.Default()
	}
	m := &Mgr{
		Mode:    mode,
		Config:  cfg,
		kill:    unix.Kill,
		events:  make(chan func(), 64),
		done:    make(chan struct{}),
		conns:   make(map[*conn]struct{}),
		ctxs:    make(map[uint32]*SpawningCtx),
		byPid:   make(map[int]*SpawningCtx),
		procs:   make(map[int]*Process),
		died:    diedQueue{size: cfg.DiedQueueSize},
		queries: make(map[int][]pendingQuery),
		started: time.Now(),
		DumpDir: "/dev/pts",
	}
	for _, o := range opts {
		o(m)
	}
	if m.Logger == nil {
		m.Logger = cfg.Log.NewLogger()
	}
	m.Logger = m.Logger.With("mode", mode.String())
	m.Hooks = hook.New[*Mgr, *SpawningCtx, *Process](m.Logger)
	if m.Spawner == nil {
		m.Spawner = &ExecSpawner{}
	}
	return m
}

// AddDumper registers a dump section, typically from a ServerPreload hook
func (m *Mgr) AddDumper(d Dumper) {
	m.dumpers = append(m.dumpers, d)
}

// Process returns the record of a live spawned process
func (m *Mgr) Process(pid int) *Process {
	return m.procs[pid]
}

// Processes returns the number of live records
func (m *Mgr) Processes() int {
	return len(m.procs)
}

// Died returns the records in the died queue, oldest first
func (m *Mgr) Died() []*Process {
	return append([]*Process(nil), m.died.procs...)
}

// SocketPath returns the socket served in the current mode
func (m *Mgr) SocketPath() string {
	if m.Mode.IsNWeb() {
		return m.Config.SocketPath(m.Config.NWebSpawnSocket)
	}
	return m.Config.SocketPath(m.Config.AppSpawnSocket)
}

func (m *Mgr) signal(pid int, sig syscall.Signal) {
	if pid <= 0 {
		return
	}
	if err := m.kill(pid, sig); err != nil && err != unix.ESRCH {
		m.Logger.Warn("failed to signal child", "pid", pid, "signal", sig, "error", err)
	}
}
