// Package unixsocket wraps Linux unix stream sockets used by spawn clients
// to send requests together with file descriptors, and provides the peer
// credential of a connection.
package unixsocket

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// oob size default to page size
const oobSize = 4 << 10

// MaxFds is the max number of fds accepted with a single read
const MaxFds = 16

// Socket wraps a unix socket connection
type Socket struct {
	*net.UnixConn
	sendBuff []byte
	recvBuff []byte
}

// Msg is the oob data attached to a read or write
type Msg struct {
	Fds  []int       // unix rights
	Cred *unix.Ucred // unix credential
}

// NewSocket wraps an established connection
func NewSocket(conn *net.UnixConn) *Socket {
	return &Socket{
		UnixConn: conn,
		sendBuff: make([]byte, oobSize),
		recvBuff: make([]byte, oobSize),
	}
}

// Listen creates a stream listener at path, replacing a stale socket file,
// and sets its permission to mode
func Listen(path string, mode os.FileMode) (*net.UnixListener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0711); err != nil {
		return nil, fmt.Errorf("unixsocket: failed to create socket dir %v", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("unixsocket: failed to remove stale socket %v", err)
	}
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("unixsocket: failed to listen %v", err)
	}
	if err := os.Chmod(path, mode); err != nil {
		l.Close()
		return nil, fmt.Errorf("unixsocket: failed to chmod %v", err)
	}
	return l, nil
}

// Dial connects to the stream socket at path
func Dial(path string) (*Socket, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	return NewSocket(conn), nil
}

// NewSocketPair creates a connected unix stream socketpair
func NewSocketPair() (*Socket, *Socket, error) {
	fd, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("NewSocketPair: failed to call socketpair %v", err)
	}
	ins, err := fileConn(fd[0])
	if err != nil {
		unix.Close(fd[1])
		return nil, nil, fmt.Errorf("NewSocketPair: failed to create sender %v", err)
	}
	outs, err := fileConn(fd[1])
	if err != nil {
		ins.Close()
		return nil, nil, fmt.Errorf("NewSocketPair: failed to create receiver %v", err)
	}
	return ins, outs, nil
}

func fileConn(fd int) (*Socket, error) {
	file := os.NewFile(uintptr(fd), "unix-socket")
	if file == nil {
		return nil, fmt.Errorf("%d is not a valid fd", fd)
	}
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, err
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("%d is not a valid unix socket connection", fd)
	}
	return NewSocket(unixConn), nil
}

// PeerCred returns the credential of the connected peer (SO_PEERCRED)
func (s *Socket) PeerCred() (*unix.Ucred, error) {
	sysconn, err := s.SyscallConn()
	if err != nil {
		return nil, err
	}
	var (
		cred    *unix.Ucred
		credErr error
	)
	err = sysconn.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, err
	}
	return cred, credErr
}

// SendMsg sendmsg to unix socket and encode possible unix right / credential
func (s *Socket) SendMsg(b []byte, m Msg) error {
	oob := bytes.NewBuffer(s.sendBuff[:0])
	if len(m.Fds) > 0 {
		oob.Write(unix.UnixRights(m.Fds...))
	}
	if m.Cred != nil {
		oob.Write(unix.UnixCredentials(m.Cred))
	}
	_, _, err := s.WriteMsgUnix(b, oob.Bytes(), nil)
	return err
}

// RecvMsg recvmsg from unix socket and parse possible unix right / credential.
// Received fds are close on exec.
func (s *Socket) RecvMsg(b []byte) (int, Msg, error) {
	var msg Msg
	n, oobn, _, _, err := s.ReadMsgUnix(b, s.recvBuff)
	if err != nil {
		return 0, msg, err
	}
	msgs, err := unix.ParseSocketControlMessage(s.recvBuff[:oobn])
	if err != nil {
		return 0, msg, err
	}
	msg, err = parseMsg(msgs)
	if err != nil {
		return 0, msg, err
	}
	return n, msg, nil
}

func parseMsg(msgs []unix.SocketControlMessage) (msg Msg, err error) {
	defer func() {
		if err != nil {
			closeFds(msg.Fds)
			msg.Fds = nil
		}
	}()
	for _, m := range msgs {
		if m.Header.Level != unix.SOL_SOCKET {
			continue
		}

		switch m.Header.Type {
		case unix.SCM_CREDENTIALS:
			cred, err := unix.ParseUnixCredentials(&m)
			if err != nil {
				return msg, err
			}
			msg.Cred = cred

		case unix.SCM_RIGHTS:
			fds, err := unix.ParseUnixRights(&m)
			if err != nil {
				return msg, err
			}
			for _, fd := range fds {
				unix.CloseOnExec(fd)
			}
			msg.Fds = append(msg.Fds, fds...)
		}
	}
	if len(msg.Fds) > MaxFds {
		return msg, fmt.Errorf("unixsocket: %d fds exceeds %d", len(msg.Fds), MaxFds)
	}
	return msg, nil
}

func closeFds(fds []int) {
	for _, f := range fds {
		unix.Close(f)
	}
}
