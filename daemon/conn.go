package daemon

import (
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/criyle/go-appspawn/message"
	"github.com/criyle/go-appspawn/pkg/unixsocket"
	"github.com/criyle/go-appspawn/types"
	"golang.org/x/sys/unix"
)

const (
	readBufSize  = 16 << 10
	writeTimeout = time.Second
)

// conn is an accepted client connection
type conn struct {
	id     uint32
	sock   *unixsocket.Socket
	closer net.Conn
	uid    uint32
	pid    int32

	buf   []byte
	files []*os.File

	// reassembly timer, gen invalidates callbacks of stopped timers
	timer *time.Timer
	gen   uint64

	lastID uint32
	seen   bool

	queue  []*response
	ctxs   map[uint32]*SpawningCtx
	closed bool
}

// response is a reserved position in the response order of a connection
type response struct {
	hdr   message.Header
	res   types.Result
	ready bool
}

func (m *Mgr) onAccept(nc net.Conn, uc *net.UnixConn) {
	if m.stopping {
		nc.Close()
		return
	}
	m.nextConnID++
	c := &conn{
		id:     m.nextConnID,
		sock:   unixsocket.NewSocket(uc),
		closer: nc,
		ctxs:   make(map[uint32]*SpawningCtx),
	}
	cred, err := c.sock.PeerCred()
	if err != nil {
		m.Logger.Warn("failed to get peer credential", "conn", c.id, "error", err)
		nc.Close()
		return
	}
	if !m.Config.AllowUID(cred.Uid) {
		m.Logger.Warn("peer not allowed", "conn", c.id, "uid", cred.Uid, "pid", cred.Pid)
		nc.Close()
		return
	}
	c.uid, c.pid = cred.Uid, cred.Pid
	m.conns[c] = struct{}{}
	m.Logger.Debug("connection accepted", "conn", c.id, "uid", c.uid, "pid", c.pid)
	go m.readLoop(c)
}

// readLoop receives bytes and fds and hands them to the loop
func (m *Mgr) readLoop(c *conn) {
	buf := make([]byte, readBufSize)
	for {
		n, msg, err := c.sock.RecvMsg(buf)
		if n > 0 || len(msg.Fds) > 0 {
			data := append([]byte(nil), buf[:n]...)
			fds := msg.Fds
			if !m.post(func() { m.onReceive(c, data, fds) }) {
				closeFds(fds)
				return
			}
		}
		if err == nil && n == 0 && len(msg.Fds) == 0 {
			err = io.EOF
		}
		if err != nil {
			m.post(func() { m.closeConn(c, err) })
			return
		}
	}
}

func (m *Mgr) onReceive(c *conn, data []byte, fds []int) {
	if c.closed {
		closeFds(fds)
		return
	}
	for _, fd := range fds {
		c.files = append(c.files, os.NewFile(uintptr(fd), "passed-fd"))
	}
	c.buf = append(c.buf, data...)
	for {
		req, n, err := message.Decode(c.buf)
		if errors.Is(err, message.ErrNeedMore) {
			if len(c.buf) > 0 {
				m.armReassembly(c)
			}
			return
		}
		if err != nil {
			m.Logger.Warn("protocol error", "conn", c.id, "error", err)
			m.closeConn(c, err)
			return
		}
		m.disarmReassembly(c)
		raw := append([]byte(nil), c.buf[:n]...)
		c.buf = append(c.buf[:0], c.buf[n:]...)
		if c.seen && req.ID != c.lastID+1 {
			m.Logger.Warn("message id gap", "conn", c.id, "last", c.lastID, "id", req.ID)
		}
		c.lastID, c.seen = req.ID, true

		files := c.files
		c.files = nil
		m.dispatch(c, req, raw, files)
		if c.closed {
			return
		}
	}
}

func (m *Mgr) armReassembly(c *conn) {
	if c.timer != nil {
		return
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(m.Config.ReassemblyTimeout.D(), func() {
		m.post(func() {
			if c.closed || c.timer == nil || c.gen != gen {
				return
			}
			m.Logger.Warn("message reassembly timeout", "conn", c.id, "buffered", len(c.buf))
			m.closeConn(c, types.Timeout)
		})
	})
}

func (m *Mgr) disarmReassembly(c *conn) {
	if c.timer == nil {
		return
	}
	c.timer.Stop()
	c.timer = nil
	c.gen++
}

// reserve appends a response slot in request order
func (c *conn) reserve(h message.Header) *response {
	r := &response{hdr: h}
	c.queue = append(c.queue, r)
	return r
}

// respond completes slot r and flushes every ready response at the head
func (m *Mgr) respond(c *conn, r *response, res types.Result) {
	if c == nil || r == nil || c.closed {
		return
	}
	r.res, r.ready = res, true
	for len(c.queue) > 0 && c.queue[0].ready {
		head := c.queue[0]
		c.queue = c.queue[1:]
		c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := c.sock.Write(message.EncodeResponse(head.hdr, head.res)); err != nil {
			m.Logger.Warn("failed to send response", "conn", c.id, "id", head.hdr.ID, "error", err)
			m.closeConn(c, err)
			return
		}
		m.Logger.Debug("response sent", "conn", c.id, "id", head.hdr.ID, "result", head.res)
	}
}

// closeConn closes the connection and cancels its in flight spawns
func (m *Mgr) closeConn(c *conn, err error) {
	if c.closed {
		return
	}
	c.closed = true
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		m.Logger.Info("connection closed", "conn", c.id, "error", err)
	} else {
		m.Logger.Debug("connection closed", "conn", c.id)
	}
	m.disarmReassembly(c)
	for _, ctx := range c.ctxs {
		m.cancel(ctx)
	}
	for _, f := range c.files {
		f.Close()
	}
	c.files = nil
	c.buf = nil
	c.queue = nil
	c.closer.Close()
	delete(m.conns, c)
}

func closeFds(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
