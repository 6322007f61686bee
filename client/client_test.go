package client

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/criyle/go-appspawn/message"
	"github.com/criyle/go-appspawn/pkg/unixsocket"
	"github.com/criyle/go-appspawn/types"
)

// echoServer answers every request with its message id as pid
func echoServer(t *testing.T) (string, chan *message.Request) {
	dir, err := os.MkdirTemp("", "cl")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "sock")
	l, err := unixsocket.Listen(path, 0600)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	reqs := make(chan *message.Request, 16)
	go func() {
		c, err := l.AcceptUnix()
		if err != nil {
			return
		}
		defer c.Close()
		s := unixsocket.NewSocket(c)
		var buf []byte
		rb := make([]byte, 4096)
		for {
			n, msg, err := s.RecvMsg(rb)
			for _, fd := range msg.Fds {
				os.NewFile(uintptr(fd), "").Close()
			}
			if err != nil || n == 0 {
				return
			}
			buf = append(buf, rb[:n]...)
			for {
				req, l, err := message.Decode(buf)
				if err != nil {
					break
				}
				buf = buf[l:]
				reqs <- req
				s.Write(message.EncodeResponse(req.Header, types.Result{Pid: int(req.ID)}))
			}
		}
	}()
	return path, reqs
}

func TestSend(t *testing.T) {
	path, reqs := echoServer(t)
	c, err := Dial(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	for i := 1; i <= 3; i++ {
		r := NewSpawnRequest("com.example.app", "com.example.app", 20010000, 20010000).
			SetFlag(message.FlagColdBoot).
			AddStringExtension(message.ExtRenderCmd, "sleep 1")
		res, err := c.Send(r)
		if err != nil {
			t.Fatal(err)
		}
		if res.Code != types.OK || res.Pid != i {
			t.Fatalf("response %d: %v", i, res)
		}
		req := <-reqs
		if req.ID != uint32(i) {
			t.Errorf("message id %d, expected %d", req.ID, i)
		}
		if err := message.Validate(req); err != nil {
			t.Errorf("invalid request sent: %v", err)
		}
		if !req.HasFlag(message.FlagColdBoot) {
			t.Error("cold boot flag lost")
		}
		if s, _ := req.ExtString(message.ExtRenderCmd); s != "sleep 1" {
			t.Errorf("render-cmd %q", s)
		}
	}
}

func TestSendFiles(t *testing.T) {
	path, reqs := echoServer(t)
	c, err := Dial(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	req := NewSpawnRequest("p", "b", 0, 0).Attach(r, w)
	if _, err := c.Send(req); err != nil {
		t.Fatal(err)
	}
	<-reqs
	if _, err := w.Write([]byte("x")); !errors.Is(err, os.ErrClosed) {
		t.Errorf("attached files were not closed: %v", err)
	}
}

func TestBlocks(t *testing.T) {
	for _, n := range []int{message.HeaderSize, message.MaxBlockLen, message.MaxBlockLen + 1, 3*message.MaxBlockLen + 100} {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(i)
		}
		blks := blocks(b)
		if want := (n + message.MaxBlockLen - 1) / message.MaxBlockLen; len(blks) != want {
			t.Errorf("%d: %d blocks, expected %d", n, len(blks), want)
		}
		var joined []byte
		for _, blk := range blks {
			if len(blk) == 0 || len(blk) > message.MaxBlockLen {
				t.Errorf("%d: block of %d bytes", n, len(blk))
			}
			joined = append(joined, blk...)
		}
		if !bytes.Equal(joined, b) {
			t.Errorf("%d: blocks do not join to the request", n)
		}
	}
}

func TestSendLargeRequest(t *testing.T) {
	path, reqs := echoServer(t)
	c, err := Dial(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	blob := bytes.Repeat([]byte("0123456789"), 1000)
	req := NewSpawnRequest("p", "b", 0, 0).
		AddExtension("blob", blob).
		Attach(w)
	if b, err := req.Encode(1); err != nil || len(b) <= 2*message.MaxBlockLen {
		t.Fatalf("request of %d bytes: %v", len(b), err)
	}
	res, err := c.Send(req)
	if err != nil {
		t.Fatal(err)
	}
	got := <-reqs
	if res.Pid != int(got.ID) {
		t.Errorf("response %v for message %d", res, got.ID)
	}
	if ext, ok := got.Ext("blob"); !ok || !bytes.Equal(ext.Data, blob) {
		t.Error("extension mangled across blocks")
	}
}

func TestReadTimeout(t *testing.T) {
	dir, err := os.MkdirTemp("", "cl")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "sock")
	l, err := unixsocket.Listen(path, 0600)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go func() {
		c, err := l.Accept()
		if err == nil {
			io.Copy(io.Discard, c)
		}
	}()

	c, err := Dial(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.Timeout = 50 * time.Millisecond
	if _, err := c.Send(NewRequest(message.TypeDump, "dump")); err == nil {
		t.Fatal("expected timeout")
	}
}
