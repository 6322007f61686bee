package rlimit

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Size is a byte count that also reads human sizes such as "64MiB"
type Size uint64

func (s Size) String() string {
	return humanize.IBytes(uint64(s))
}

// MarshalText writes s in IEC units
func (s Size) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts a plain number or a human size
func (s *Size) UnmarshalText(b []byte) error {
	v, err := humanize.ParseBytes(string(b))
	if err != nil {
		return fmt.Errorf("rlimit: invalid size %q: %v", b, err)
	}
	*s = Size(v)
	return nil
}

// UnmarshalJSON accepts a JSON number or string
func (s *Size) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		return s.UnmarshalText([]byte(str))
	}
	return s.UnmarshalText(bytes.TrimSpace(b))
}
