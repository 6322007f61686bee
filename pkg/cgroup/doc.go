// Package cgroup manages the per application cgroup directories of spawned
// processes: <root>/<userId>/<bundle>/app_<pid>. Only the cgroup.procs
// interface is used so the same layout works for v1 (pids controller) and
// v2 hierarchies.
package cgroup
