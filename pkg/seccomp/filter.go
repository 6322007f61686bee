// Package seccomp builds the syscall deny list filter installed in spawned
// applications.
package seccomp

import (
	"fmt"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/net/bpf"
)

// Filter is the assembled BPF seccomp program
type Filter []bpf.RawInstruction

// Builder is used to build the filter. Syscalls in Deny get the Deny action,
// everything else is allowed.
type Builder struct {
	Deny   []string
	Action Action
}

// Policy returns the go-seccomp-bpf policy of the builder
func (b *Builder) Policy() *libseccomp.Policy {
	action := b.Action
	if action == 0 {
		action = ActionErrno
	}
	p := &libseccomp.Policy{
		DefaultAction: libseccomp.ActionAllow,
	}
	if len(b.Deny) > 0 {
		p.Syscalls = []libseccomp.SyscallGroup{{
			Names:  b.Deny,
			Action: ToSeccompAction(action),
		}}
	}
	return p
}

// Build assembles the filter, unknown syscall names are reported
func (b *Builder) Build() (Filter, error) {
	insts, err := b.Policy().Assemble()
	if err != nil {
		return nil, fmt.Errorf("seccomp: failed to assemble policy %v", err)
	}
	raw, err := bpf.Assemble(insts)
	if err != nil {
		return nil, fmt.Errorf("seccomp: failed to assemble bpf %v", err)
	}
	return Filter(raw), nil
}

// Load installs the filter on every thread of the calling process with
// no_new_privs set
func (b *Builder) Load() error {
	err := libseccomp.LoadFilter(libseccomp.Filter{
		NoNewPrivs: true,
		Flag:       libseccomp.FilterFlagTSync,
		Policy:     *b.Policy(),
	})
	if err != nil {
		return fmt.Errorf("seccomp: failed to load filter %v", err)
	}
	return nil
}
