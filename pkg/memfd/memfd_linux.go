// Package memfd hands the spawn payload to a re-executed child through an
// anonymous memory file sealed against any change.
package memfd

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

const (
	createFlag = unix.MFD_CLOEXEC | unix.MFD_ALLOW_SEALING
	roSeal     = unix.F_SEAL_SEAL | unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE
)

// New creates an unsealed memfd, caller need to close the file
func New(name string) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, createFlag)
	if err != nil {
		return nil, fmt.Errorf("memfd: memfd_create %s: %v", name, err)
	}
	return os.NewFile(uintptr(fd), name), nil
}

// Sealed creates a memfd holding b, sealed read only and rewound
func Sealed(name string, b []byte) (*os.File, error) {
	f, err := New(name)
	if err != nil {
		return nil, err
	}
	if err := fill(f, b); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func fill(f *os.File, b []byte) error {
	if err := unix.Ftruncate(int(f.Fd()), int64(len(b))); err != nil {
		return fmt.Errorf("memfd: truncate %v", err)
	}
	if _, err := f.WriteAt(b, 0); err != nil {
		return fmt.Errorf("memfd: write %v", err)
	}
	if _, err := unix.FcntlInt(f.Fd(), unix.F_ADD_SEALS, roSeal); err != nil {
		return fmt.Errorf("memfd: seal %v", err)
	}
	_, err := f.Seek(0, io.SeekStart)
	return err
}

// ReadSealed reads the whole content of f after checking it carries the
// read only seals
func ReadSealed(f *os.File) ([]byte, error) {
	seals, err := unix.FcntlInt(f.Fd(), unix.F_GET_SEALS, 0)
	if err != nil {
		return nil, fmt.Errorf("memfd: get seals %v", err)
	}
	if seals&roSeal != roSeal {
		return nil, fmt.Errorf("memfd: %v is not sealed (%#x)", f.Name(), seals)
	}
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return nil, fmt.Errorf("memfd: stat %v", err)
	}
	b := make([]byte, st.Size)
	if _, err := f.ReadAt(b, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("memfd: read %v", err)
	}
	return b, nil
}
