package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/criyle/go-appspawn/hook"
	"github.com/criyle/go-appspawn/pkg/unixsocket"
	"golang.org/x/net/netutil"
	"golang.org/x/sys/unix"
)

const defaultKickInterval = 10 * time.Second

// ErrStopped is returned when the loop was stopped before the call ran
var ErrStopped = errors.New("daemon: stopped")

// unixListener remembers the last accepted connection so that the accept
// loop reaches the unix socket behind the limit wrapper
type unixListener struct {
	*net.UnixListener
	last *net.UnixConn
}

func (l *unixListener) Accept() (net.Conn, error) {
	c, err := l.AcceptUnix()
	l.last = c
	return c, err
}

// Listen creates the socket of the current mode
func (m *Mgr) Listen() error {
	l, err := unixsocket.Listen(m.SocketPath(), os.FileMode(m.Config.SocketMode))
	if err != nil {
		return err
	}
	m.listener = &unixListener{UnixListener: l}
	m.limited = m.listener
	if m.Config.MaxConnections > 0 {
		m.limited = netutil.LimitListener(m.listener, m.Config.MaxConnections)
	}
	m.Logger.Info("listening", "socket", m.SocketPath())
	return nil
}

// Run serves requests until ctx is done, a termination signal arrives or
// the secondary service dies. It returns nil on an orderly shutdown.
func (m *Mgr) Run(ctx context.Context) error {
	defer close(m.done)
	if err := m.Hooks.ExecuteServer(hook.ServerPreload, m); err != nil {
		if m.limited != nil {
			m.limited.Close()
		}
		return err
	}
	if m.listener == nil {
		if err := m.Listen(); err != nil {
			return err
		}
	}
	sig := make(chan os.Signal, 16)
	signal.Notify(sig, unix.SIGCHLD, unix.SIGTERM, unix.SIGINT)
	defer signal.Stop(sig)

	var kick <-chan time.Time
	if m.Watchdog != nil {
		if err := m.Watchdog.Open(); err != nil {
			m.Logger.Warn("watchdog unavailable", "error", err)
		} else {
			d := m.Config.Watchdog.Interval.D()
			if d <= 0 {
				d = defaultKickInterval
			}
			t := time.NewTicker(d)
			defer t.Stop()
			kick = t.C
		}
	}
	if m.Mode == ModeAppSpawn && m.Config.Secondary.Enabled {
		if err := m.startHelper(); err != nil {
			m.Logger.Error("failed to start secondary service", "error", err)
		}
	}
	go m.acceptLoop(m.limited)

	// children may have exited before the handler was installed
	m.reapChildren()
	for !m.stopping {
		select {
		case f := <-m.events:
			f()
		case s := <-sig:
			m.onSignal(s.(syscall.Signal))
		case <-kick:
			if err := m.Watchdog.Kick(); err != nil {
				m.Logger.Warn("failed to kick watchdog", "error", err)
			}
		case <-ctx.Done():
			m.shutdown("context done")
		}
	}
	return nil
}

// post queues f to run on the loop goroutine. It reports false when the
// loop has stopped and f will never run.
func (m *Mgr) post(f func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- f:
		return true
	case <-m.done:
		return false
	}
}

// Call runs f on the loop goroutine and waits for it
func (m *Mgr) Call(f func()) error {
	ch := make(chan struct{})
	if !m.post(func() {
		f()
		close(ch)
	}) {
		return ErrStopped
	}
	select {
	case <-ch:
		return nil
	case <-m.done:
		select {
		case <-ch:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Done is closed when the loop returned
func (m *Mgr) Done() <-chan struct{} {
	return m.done
}

func (m *Mgr) onSignal(s syscall.Signal) {
	switch s {
	case unix.SIGCHLD:
		m.reapChildren()
	case unix.SIGTERM, unix.SIGINT:
		m.shutdown("signal " + s.String())
	}
}

func (m *Mgr) acceptLoop(l net.Listener) {
	for {
		c, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.Logger.Error("accept failed", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		uc := m.listener.last
		if !m.post(func() { m.onAccept(c, uc) }) {
			c.Close()
			return
		}
	}
}

// shutdown stops serving: every child is killed, connections are closed
// and the loop exits after the current event
func (m *Mgr) shutdown(reason string) {
	if m.stopping {
		return
	}
	m.stopping = true
	m.Logger.Info("shutting down", "reason", reason)
	if m.limited != nil {
		m.limited.Close()
	}
	for _, ctx := range m.ctxs {
		m.cancel(ctx)
	}
	for pid, p := range m.procs {
		if p.Helper {
			m.signal(pid, unix.SIGTERM)
		} else {
			m.signal(pid, unix.SIGKILL)
		}
	}
	for c := range m.conns {
		m.closeConn(c, nil)
	}
	if err := m.Hooks.ExecuteServer(hook.ServerExit, m); err != nil {
		m.Logger.Warn("server exit hooks failed", "error", err)
	}
}
