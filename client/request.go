// Package client builds spawn requests and sends them to the daemon
package client

import (
	"os"

	"github.com/criyle/go-appspawn/message"
)

// Request is a request under construction
type Request struct {
	msg   message.Request
	files []*os.File
}

// NewRequest creates a request of type t for processName
func NewRequest(t message.Type, processName string) *Request {
	r := &Request{}
	r.msg.Type = t
	r.msg.ProcessName = processName
	if t.IsSpawn() {
		r.msg.Flags = message.NewFlags()
	}
	return r
}

// NewSpawnRequest creates an application spawn request with the mandatory
// records filled
func NewSpawnRequest(processName, bundle string, uid, gid uint32) *Request {
	return NewRequest(message.TypeAppSpawn, processName).
		SetBundleInfo(bundle, 0).
		SetDacInfo(uid, gid, nil, "").
		SetAccessToken(0)
}

// SetBundleInfo sets the bundle name and index
func (r *Request) SetBundleInfo(name string, index uint32) *Request {
	r.msg.Bundle = &message.BundleInfo{Index: index, Name: name}
	return r
}

// SetFlag sets a MsgFlags bit
func (r *Request) SetFlag(i uint32) *Request {
	if r.msg.Flags == nil {
		r.msg.Flags = message.NewFlags()
	}
	r.msg.Flags.Set(i)
	return r
}

// SetPermission sets a permission bit
func (r *Request) SetPermission(i uint32) *Request {
	if r.msg.Permission == nil {
		r.msg.Permission = message.NewFlags()
	}
	r.msg.Permission.Set(i)
	return r
}

// SetDacInfo sets the identity of the child
func (r *Request) SetDacInfo(uid, gid uint32, gids []uint32, userName string) *Request {
	r.msg.Dac = &message.DacInfo{UID: uid, GID: gid, Gids: gids, UserName: userName}
	return r
}

// SetDomainInfo sets the security domain
func (r *Request) SetDomainInfo(hapFlags uint32, apl string) *Request {
	r.msg.Domain = &message.DomainInfo{HapFlags: hapFlags, APL: apl}
	return r
}

// SetOwnerID sets the application identifier
func (r *Request) SetOwnerID(id string) *Request {
	r.msg.Owner = &message.OwnerInfo{ID: id}
	return r
}

// SetAccessToken sets the access token id
func (r *Request) SetAccessToken(tokenIDEx uint64) *Request {
	r.msg.AccessToken = &message.AccessToken{TokenIDEx: tokenIDEx}
	return r
}

// SetInternetInfo sets the network permission
func (r *Request) SetInternetInfo(setAllow, allow bool) *Request {
	r.msg.Internet = &message.InternetInfo{SetAllowInternet: b2u(setAllow), AllowInternet: b2u(allow)}
	return r
}

// SetTerminationPid sets the pid of a termination status query
func (r *Request) SetTerminationPid(pid int) *Request {
	r.msg.Termination = &message.RenderTermination{Pid: int32(pid)}
	return r
}

// AddExtension adds a named binary extension
func (r *Request) AddExtension(name string, data []byte) *Request {
	r.msg.Extensions = append(r.msg.Extensions, message.Extension{Name: name, Data: data})
	return r
}

// AddStringExtension adds a NUL terminated string extension
func (r *Request) AddStringExtension(name, value string) *Request {
	r.msg.Extensions = append(r.msg.Extensions, message.Extension{
		Name:     name,
		DataType: message.DataTypeString,
		Data:     append([]byte(value), 0),
	})
	return r
}

// Attach adds fds passed with the request, they are closed by Send
func (r *Request) Attach(files ...*os.File) *Request {
	r.files = append(r.files, files...)
	return r
}

// Message returns the underlying message
func (r *Request) Message() *message.Request {
	return &r.msg
}

// Encode serializes the request with id
func (r *Request) Encode(id uint32) ([]byte, error) {
	r.msg.ID = id
	return message.Encode(&r.msg)
}

func b2u(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
