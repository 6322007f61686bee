package cgroup

const (
	// systemd mounted cgroups
	basePath    = "/sys/fs/cgroup"
	cgroupProcs = "cgroup.procs"

	dirPerm  = 0755
	filePerm = 0644
)

// Type defines cgroup type
type Type int

// Type for cgroup
const (
	TypeV1 Type = iota + 1
	TypeV2
)

func (t Type) String() string {
	switch t {
	case TypeV1:
		return "v1"
	case TypeV2:
		return "v2"
	default:
		return "invalid"
	}
}
