package client

import (
	"fmt"
	"io"
	"time"

	"github.com/criyle/go-appspawn/message"
	"github.com/criyle/go-appspawn/pkg/unixsocket"
	"github.com/criyle/go-appspawn/types"
)

// DefaultTimeout bounds the wait for a response
const DefaultTimeout = 10 * time.Second

// Client is a connection to the daemon. It is not safe for concurrent use.
type Client struct {
	sock *unixsocket.Socket
	next uint32
	// Timeout bounds each response read, zero disables it
	Timeout time.Duration
}

// Dial connects to the daemon socket at path
func Dial(path string) (*Client, error) {
	s, err := unixsocket.Dial(path)
	if err != nil {
		return nil, fmt.Errorf("client: failed to connect %v", err)
	}
	return &Client{sock: s, Timeout: DefaultTimeout}, nil
}

// Send writes the request and waits for its response
func (c *Client) Send(r *Request) (types.Result, error) {
	id, err := c.Write(r)
	if err != nil {
		return types.Result{}, err
	}
	h, res, err := c.Read()
	if err != nil {
		return res, err
	}
	if h.ID != id {
		return res, fmt.Errorf("client: response id %d, expected %d", h.ID, id)
	}
	return res, nil
}

// Write sends the request without waiting and returns its message id
func (c *Client) Write(r *Request) (uint32, error) {
	c.next++
	id := c.next
	b, err := r.Encode(id)
	if err != nil {
		return 0, err
	}
	defer func() {
		for _, f := range r.files {
			f.Close()
		}
		r.files = nil
	}()
	// fds ride on the first block
	var fds []int
	for _, f := range r.files {
		fds = append(fds, int(f.Fd()))
	}
	for _, blk := range blocks(b) {
		if err := c.sock.SendMsg(blk, unixsocket.Msg{Fds: fds}); err != nil {
			return 0, fmt.Errorf("client: failed to send %v", err)
		}
		fds = nil
	}
	return id, nil
}

// blocks splits an encoded request into the blocks written to the socket
func blocks(b []byte) [][]byte {
	var ret [][]byte
	for len(b) > message.MaxBlockLen {
		ret = append(ret, b[:message.MaxBlockLen])
		b = b[message.MaxBlockLen:]
	}
	return append(ret, b)
}

// WriteRaw sends raw bytes as they are
func (c *Client) WriteRaw(b []byte) error {
	_, err := c.sock.Write(b)
	return err
}

// Read reads the next response
func (c *Client) Read() (message.Header, types.Result, error) {
	if c.Timeout > 0 {
		c.sock.SetReadDeadline(time.Now().Add(c.Timeout))
	}
	buf := make([]byte, message.ResponseSize)
	if _, err := io.ReadFull(c.sock, buf); err != nil {
		return message.Header{}, types.Result{}, fmt.Errorf("client: failed to read response %w", err)
	}
	return message.DecodeResponse(buf)
}

// Close closes the connection
func (c *Client) Close() error {
	return c.sock.Close()
}
