//go:build !linux

package memfd

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("memfd: needs linux")

func New(name string) (*os.File, error) { return nil, errUnsupported }

func Sealed(name string, b []byte) (*os.File, error) { return nil, errUnsupported }

func ReadSealed(f *os.File) ([]byte, error) { return nil, errUnsupported }
