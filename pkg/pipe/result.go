// Package pipe provides the single shot result channel between a spawned
// child and the daemon: the child writes one 4-byte little endian code,
// the daemon reads it once and closes its end.
package pipe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ResultSize is the size of a result report
const ResultSize = 4

// ErrNoResult is returned when the writer is closed before a result is written
var ErrNoResult = errors.New("pipe: writer closed without result")

// Result is the read end of a single shot result channel
type Result struct {
	R *os.File
	W *os.File

	once sync.Once
}

// NewResult creates the os pipe, W should be handed to the child and closed
// in the parent after the child started
func NewResult() (*Result, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("pipe: failed to create result pipe %v", err)
	}
	return &Result{R: r, W: w}, nil
}

// CloseWriter closes the write end kept by the parent
func (p *Result) CloseWriter() {
	if p.W != nil {
		p.W.Close()
		p.W = nil
	}
}

// Close closes both ends. Closing the read end unblocks a pending Wait.
func (p *Result) Close() {
	p.CloseWriter()
	p.once.Do(func() {
		p.R.Close()
	})
}

// Wait blocks until a result is read or the channel is closed. It must be
// called at most once.
func (p *Result) Wait() (int32, error) {
	return ReadResult(p.R)
}

// Watch reads the result in a goroutine and calls fn exactly once
func (p *Result) Watch(fn func(int32, error)) {
	go func() {
		fn(p.Wait())
	}()
}

// ReadResult reads a single result code from r
func ReadResult(r io.Reader) (int32, error) {
	var buf [ResultSize]byte
	_, err := io.ReadFull(r, buf[:])
	switch {
	case err == io.EOF:
		return 0, ErrNoResult
	case err == io.ErrUnexpectedEOF:
		return 0, fmt.Errorf("pipe: short result: %w", ErrNoResult)
	case err != nil:
		return 0, fmt.Errorf("pipe: failed to read result %v", err)
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// WriteResult writes a single result code to w
func WriteResult(w io.Writer, code int32) error {
	var buf [ResultSize]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(code))
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("pipe: failed to write result %v", err)
	}
	return nil
}
