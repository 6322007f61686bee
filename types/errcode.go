package types

import (
	"errors"
	"fmt"
)

// ErrCode is the numeric result code reported to clients and written by
// spawned children into the result channel
type ErrCode int32

// OK is the success result
const OK ErrCode = 0

// Result codes, the numbering is part of the wire contract
const (
	SystemError ErrCode = iota + 0xD000000
	ArgInvalid
	MsgInvalid
	MsgTooLong
	TLVNotSupport
	TLVNone
	SandboxNone
	SandboxLoadFail
	SandboxInvalid
	SandboxMountFail
	SpawnTimeout
	ChildCrash
	NativeNotSupport
	AccessTokenInvalid
	PermissionNotSupport
	BufferNotEnough
	Timeout
	ForkFail
	NodeExist
	DebugModeNotSupport
)

var codeString = []string{
	"System Error",
	"Argument Invalid",
	"Message Invalid",
	"Message Too Long",
	"TLV Not Supported",
	"TLV Missing",
	"Sandbox Missing",
	"Sandbox Load Failed",
	"Sandbox Invalid",
	"Sandbox Mount Failed",
	"Spawn Timeout",
	"Child Crashed",
	"Native Spawn Not Supported",
	"Access Token Invalid",
	"Permission Not Supported",
	"Buffer Not Enough",
	"Timeout",
	"Fork Failed",
	"Node Exists",
	"Debug Mode Not Supported",
}

func (c ErrCode) String() string {
	if c == OK {
		return "OK"
	}
	i := int(c - SystemError)
	if i >= 0 && i < len(codeString) {
		return codeString[i]
	}
	return fmt.Sprintf("Code(%#x)", int32(c))
}

func (c ErrCode) Error() string {
	return c.String()
}

// Code extracts the result code carried by err. A nil error is OK and an
// error without a code is reported as SystemError.
func Code(err error) ErrCode {
	if err == nil {
		return OK
	}
	var c ErrCode
	if errors.As(err, &c) {
		return c
	}
	return SystemError
}

// Errorf wraps a formatted message around code so that Code recovers it
func Errorf(code ErrCode, format string, args ...interface{}) error {
	return &codeError{code: code, msg: fmt.Sprintf(format, args...)}
}

type codeError struct {
	code ErrCode
	msg  string
}

func (e *codeError) Error() string {
	return e.msg + ": " + e.code.String()
}

func (e *codeError) Unwrap() error {
	return e.code
}
