// Package rlimit provides data structure for resource limits applied by the
// setrlimit syscall in a spawned child.
package rlimit

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// RLimits defines the rlimit applied by setrlimit syscall to spawned process
type RLimits struct {
	CPU          uint64 `yaml:"cpu,omitempty" json:"cpu,omitempty"`         // in s
	CPUHard      uint64 `yaml:"cpuHard,omitempty" json:"cpuHard,omitempty"` // in s
	Data         Size   `yaml:"data,omitempty" json:"data,omitempty"`
	FileSize     Size   `yaml:"fileSize,omitempty" json:"fileSize,omitempty"`
	Stack        Size   `yaml:"stack,omitempty" json:"stack,omitempty"`
	AddressSpace Size   `yaml:"addressSpace,omitempty" json:"addressSpace,omitempty"`
	OpenFile     uint64 `yaml:"openFile,omitempty" json:"openFile,omitempty"`
	DisableCore  bool   `yaml:"disableCore,omitempty" json:"disableCore,omitempty"` // set core to 0
}

// RLimit is the resource limits defined by Linux setrlimit
type RLimit struct {
	// Res is the resource type (e.g. unix.RLIMIT_CPU)
	Res int
	// Rlim is the limit applied to that resource
	Rlim unix.Rlimit
}

func getRlimit(cur, max uint64) unix.Rlimit {
	return unix.Rlimit{Cur: cur, Max: max}
}

// PrepareRLimit creates rlimit structures for the child
func (r *RLimits) PrepareRLimit() []RLimit {
	var ret []RLimit
	if r.CPU > 0 {
		cpuHard := r.CPUHard
		if cpuHard < r.CPU {
			cpuHard = r.CPU
		}
		ret = append(ret, RLimit{
			Res:  unix.RLIMIT_CPU,
			Rlim: getRlimit(r.CPU, cpuHard),
		})
	}
	add := func(res int, v uint64) {
		if v > 0 {
			ret = append(ret, RLimit{Res: res, Rlim: getRlimit(v, v)})
		}
	}
	add(unix.RLIMIT_DATA, uint64(r.Data))
	add(unix.RLIMIT_FSIZE, uint64(r.FileSize))
	add(unix.RLIMIT_STACK, uint64(r.Stack))
	add(unix.RLIMIT_AS, uint64(r.AddressSpace))
	add(unix.RLIMIT_NOFILE, r.OpenFile)
	if r.DisableCore {
		ret = append(ret, RLimit{
			Res:  unix.RLIMIT_CORE,
			Rlim: getRlimit(0, 0),
		})
	}
	return ret
}

// Apply sets every prepared limit on the calling process
func (r *RLimits) Apply() error {
	for _, rl := range r.PrepareRLimit() {
		if err := unix.Setrlimit(rl.Res, &rl.Rlim); err != nil {
			return fmt.Errorf("rlimit: failed to set %v: %w", rl, err)
		}
	}
	return nil
}

func (r RLimit) String() string {
	switch r.Res {
	case unix.RLIMIT_CPU:
		return fmt.Sprintf("CPU[%d s:%d s]", r.Rlim.Cur, r.Rlim.Max)
	case unix.RLIMIT_NOFILE:
		return fmt.Sprintf("OpenFile[%d:%d]", r.Rlim.Cur, r.Rlim.Max)
	}
	t := ""
	switch r.Res {
	case unix.RLIMIT_DATA:
		t = "Data"
	case unix.RLIMIT_FSIZE:
		t = "File"
	case unix.RLIMIT_STACK:
		t = "Stack"
	case unix.RLIMIT_AS:
		t = "AddressSpace"
	case unix.RLIMIT_CORE:
		t = "Core"
	}
	return fmt.Sprintf("%s[%v:%v]", t, humanize.IBytes(r.Rlim.Cur), humanize.IBytes(r.Rlim.Max))
}

func (r RLimits) String() string {
	var sb strings.Builder
	sb.WriteString("RLimits[")
	for i, rl := range r.PrepareRLimit() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(rl.String())
	}
	sb.WriteString("]")
	return sb.String()
}
