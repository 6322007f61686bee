package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

const (
	// Magic is "ASPW" in little endian
	Magic = 0x57505341
	// Version is the payload schema version
	Version = 1
	// PageSize is the allocation unit of a region
	PageSize = 4096

	headerSize = 12 + sumSize
	sumSize    = 32
)

var (
	ErrMagic    = errors.New("shm: invalid magic")
	ErrVersion  = errors.New("shm: unsupported schema version")
	ErrChecksum = errors.New("shm: checksum mismatch")
	ErrSize     = errors.New("shm: invalid size")
)

// Payload is everything a child needs to rebuild the spawn request
type Payload struct {
	ClientID uint32 `cbor:"1,keyasint"`
	// Flags are the spawning flags of the daemon for this request
	Flags   uint32 `cbor:"2,keyasint"`
	Message []byte `cbor:"3,keyasint"`
	// Config is the encoded configuration snapshot of the daemon
	Config cbor.RawMessage `cbor:"4,keyasint,omitempty"`
	// FdCount is the number of passed fds inherited after the fixed ones
	FdCount int `cbor:"5,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("shm: CBOR encoder initialization failed: " + err.Error())
	}
	// payload length is bounded by Parse, the limits below bound the
	// config snapshot structure
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels:  16,
		MaxArrayElements: 4096,
		MaxMapPairs:      4096,
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("shm: CBOR decoder initialization failed: " + err.Error())
	}
}

// MarshalConfig encodes a config snapshot for Payload.Config
func MarshalConfig(v any) (cbor.RawMessage, error) {
	return encMode.Marshal(v)
}

// UnmarshalConfig decodes Payload.Config into v
func UnmarshalConfig(b cbor.RawMessage, v any) error {
	return decMode.Unmarshal(b, v)
}

// Serialize frames the payload with header and checksum
func Serialize(p *Payload) ([]byte, error) {
	data, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("shm: failed to encode payload %v", err)
	}
	buf := make([]byte, headerSize+len(data))
	binary.LittleEndian.PutUint32(buf[0:], Magic)
	binary.LittleEndian.PutUint32(buf[4:], Version)
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(data)))
	sum := blake3.Sum256(data)
	copy(buf[12:], sum[:])
	copy(buf[headerSize:], data)
	return buf, nil
}

// Parse verifies the frame and decodes the payload. Trailing bytes after the
// declared length (page padding) are ignored.
func Parse(b []byte) (*Payload, error) {
	if len(b) < headerSize {
		return nil, ErrSize
	}
	if binary.LittleEndian.Uint32(b[0:]) != Magic {
		return nil, ErrMagic
	}
	if v := binary.LittleEndian.Uint32(b[4:]); v != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, v)
	}
	n := binary.LittleEndian.Uint32(b[8:])
	if uint64(n) > uint64(len(b)-headerSize) {
		return nil, fmt.Errorf("%w: payload %d exceeds %d", ErrSize, n, len(b)-headerSize)
	}
	data := b[headerSize : headerSize+int(n)]
	if sum := blake3.Sum256(data); string(sum[:]) != string(b[12:headerSize]) {
		return nil, ErrChecksum
	}
	p := new(Payload)
	if err := decMode.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("shm: failed to decode payload %v", err)
	}
	return p, nil
}

// RoundSize rounds n up to whole pages
func RoundSize(n int) int {
	return (n + PageSize - 1) &^ (PageSize - 1)
}
