package pipe

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestResult_WriteAndWait(t *testing.T) {
	p, err := NewResult()
	if err != nil {
		t.Fatalf("NewResult error: %v", err)
	}
	defer p.Close()

	w := p.W
	p.W = nil
	go func() {
		WriteResult(w, -7)
		w.Close()
	}()

	code, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if code != -7 {
		t.Errorf("code = %d, want -7", code)
	}
}

func TestResult_ClosedWithoutResult(t *testing.T) {
	p, err := NewResult()
	if err != nil {
		t.Fatalf("NewResult error: %v", err)
	}
	defer p.Close()
	p.CloseWriter()

	_, err = p.Wait()
	if !errors.Is(err, ErrNoResult) {
		t.Errorf("Wait error = %v, want ErrNoResult", err)
	}
}

func TestResult_Watch(t *testing.T) {
	p, err := NewResult()
	if err != nil {
		t.Fatalf("NewResult error: %v", err)
	}
	defer p.Close()

	type res struct {
		code int32
		err  error
	}
	done := make(chan res, 1)
	p.Watch(func(code int32, err error) {
		done <- res{code, err}
	})
	if err := WriteResult(p.W, 0); err != nil {
		t.Fatal(err)
	}
	p.CloseWriter()

	select {
	case r := <-done:
		if r.err != nil || r.code != 0 {
			t.Errorf("Watch got %d %v", r.code, r.err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not fire")
	}
}

func TestReadResult_Short(t *testing.T) {
	_, err := ReadResult(bytes.NewReader([]byte{1, 2}))
	if !errors.Is(err, ErrNoResult) {
		t.Errorf("ReadResult error = %v, want ErrNoResult", err)
	}
}

func TestReadResult_Encoding(t *testing.T) {
	var buf bytes.Buffer
	WriteResult(&buf, 0x0D00000A)
	if got := buf.Bytes(); !bytes.Equal(got, []byte{0x0A, 0, 0, 0x0D}) {
		t.Errorf("encoded = %v", got)
	}
	code, err := ReadResult(&buf)
	if err != nil || code != 0x0D00000A {
		t.Errorf("ReadResult = %x %v", code, err)
	}
}
