//go:build linux

package seccomp

import (
	"testing"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

var defaultDeny = []string{
	"reboot", "kexec_load", "init_module", "finit_module", "delete_module",
	"swapon", "swapoff", "acct", "pivot_root",
}

func TestBuild(t *testing.T) {
	b := Builder{Deny: defaultDeny, Action: ActionErrno.WithReturnCode(int16(unix.EPERM))}
	f, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(f) == 0 {
		t.Fatal("empty filter")
	}
}

func TestBuildUnknownSyscall(t *testing.T) {
	b := Builder{Deny: []string{"reboot", "not_a_syscall"}}
	if _, err := b.Build(); err == nil {
		t.Error("Build did not detect unknown syscall")
	}
}

func TestToSeccompAction(t *testing.T) {
	tests := []struct {
		in   Action
		want libseccomp.Action
	}{
		{ActionAllow, libseccomp.ActionAllow},
		{ActionKill, libseccomp.ActionKillProcess},
		{ActionErrno, libseccomp.ActionErrno},
		{ActionErrno.WithReturnCode(int16(unix.EACCES)), libseccomp.ActionErrno | libseccomp.Action(unix.EACCES)},
	}
	for _, tt := range tests {
		if got := ToSeccompAction(tt.in); got != tt.want {
			t.Errorf("ToSeccompAction(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildReturnCode(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		want   uint32
	}{
		{"default errno", ActionErrno, uint32(libseccomp.ActionErrno) | uint32(unix.EPERM)},
		{"custom errno", ActionErrno.WithReturnCode(int16(unix.ENOSYS)), uint32(libseccomp.ActionErrno) | uint32(unix.ENOSYS)},
		{"kill", ActionKill, uint32(libseccomp.ActionKillProcess)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Builder{Deny: []string{"reboot"}, Action: tt.action}
			f, err := b.Build()
			if err != nil {
				t.Fatal(err)
			}
			found := false
			for _, raw := range f {
				if ret, ok := raw.Disassemble().(bpf.RetConstant); ok && ret.Val == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("filter has no return %#x", tt.want)
			}
		})
	}
}

func TestParseAction(t *testing.T) {
	for s, want := range map[string]Action{"allow": ActionAllow, "": ActionErrno, "KILL": ActionKill} {
		got, err := ParseAction(s)
		if err != nil || got != want {
			t.Errorf("ParseAction(%q) = %v %v", s, got, err)
		}
	}
	if _, err := ParseAction("trace"); err == nil {
		t.Error("expected trace to be rejected")
	}
}

func TestActionReturnCode(t *testing.T) {
	a := ActionErrno.WithReturnCode(13)
	if a.Action() != ActionErrno || a.ReturnCode() != 13 {
		t.Errorf("got %v %v", a.Action(), a.ReturnCode())
	}
}

func BenchmarkBuild(b *testing.B) {
	builder := Builder{Deny: defaultDeny}
	for i := 0; i < b.N; i++ {
		builder.Build()
	}
}
