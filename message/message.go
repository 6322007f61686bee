// Package message implements the length prefixed TLV wire format used by
// spawn clients and the daemon.
package message

import (
	"bytes"
	"fmt"
)

// Header is the fixed message header. Len and TLVCount are filled by Encode
// and checked by Decode.
type Header struct {
	Type        Type
	ID          uint32
	Len         uint32
	TLVCount    uint32
	ProcessName string
}

// BundleInfo identifies the application bundle
type BundleInfo struct {
	Index uint32
	Name  string
}

// Flags is a bitset stored as 32 bit words
type Flags struct {
	Bits []uint32
}

// NewFlags creates a bitset able to hold indexes up to MaxFlagIndex
func NewFlags() *Flags {
	return &Flags{Bits: make([]uint32, (MaxFlagIndex+1)/32)}
}

// Test reports whether bit i is set
func (f *Flags) Test(i uint32) bool {
	if f == nil || int(i/32) >= len(f.Bits) {
		return false
	}
	return f.Bits[i/32]&(1<<(i%32)) != 0
}

// Set sets bit i, growing the bitset when needed
func (f *Flags) Set(i uint32) {
	for int(i/32) >= len(f.Bits) {
		f.Bits = append(f.Bits, 0)
	}
	f.Bits[i/32] |= 1 << (i % 32)
}

// Uint64 returns the lowest 64 bits
func (f *Flags) Uint64() uint64 {
	if f == nil {
		return 0
	}
	var r uint64
	for i := 0; i < len(f.Bits) && i < 2; i++ {
		r |= uint64(f.Bits[i]) << (32 * i)
	}
	return r
}

// DacInfo is the discretionary access control identity of the child
type DacInfo struct {
	UID      uint32
	GID      uint32
	Gids     []uint32
	UserName string
}

// DomainInfo carries the security domain of the application
type DomainInfo struct {
	HapFlags uint32
	APL      string
}

// OwnerInfo carries the application identifier
type OwnerInfo struct {
	ID string
}

// AccessToken is the access token id of the application
type AccessToken struct {
	TokenIDEx uint64
}

// InternetInfo carries the network permission of the application
type InternetInfo struct {
	SetAllowInternet uint8
	AllowInternet    uint8
}

// RenderTermination names the process whose termination status is queried
type RenderTermination struct {
	Pid int32
}

// Extension is a named opaque record
type Extension struct {
	Name     string
	DataType uint32
	Data     []byte
}

// Request is a decoded message. Optional payloads are nil when the
// corresponding TLV was not present.
type Request struct {
	Header
	Bundle      *BundleInfo
	Flags       *Flags
	Dac         *DacInfo
	Domain      *DomainInfo
	Owner       *OwnerInfo
	AccessToken *AccessToken
	Permission  *Flags
	Internet    *InternetInfo
	Termination *RenderTermination
	Extensions  []Extension
}

// HasFlag reports whether the MsgFlags bit i is set
func (r *Request) HasFlag(i uint32) bool {
	return r.Flags.Test(i)
}

// Ext returns the extension named name
func (r *Request) Ext(name string) (Extension, bool) {
	for _, e := range r.Extensions {
		if e.Name == name {
			return e, true
		}
	}
	return Extension{}, false
}

// ExtString returns the string value of the extension named name with the
// trailing NUL removed
func (r *Request) ExtString(name string) (string, bool) {
	e, ok := r.Ext(name)
	if !ok {
		return "", false
	}
	return cString(e.Data), true
}

func (r *Request) String() string {
	name := ""
	if r.Bundle != nil {
		name = r.Bundle.Name
	}
	return fmt.Sprintf("Request[%v id=%d proc=%s bundle=%s tlv=%d]",
		r.Type, r.ID, r.ProcessName, name, r.TLVCount)
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
