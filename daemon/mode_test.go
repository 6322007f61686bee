package daemon

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeAppSpawn, ModeNWebSpawn, ModeAppCold, ModeNWebCold, ModeChild} {
		p, err := ParseMode(m.String())
		if err != nil || p != m {
			t.Errorf("ParseMode(%q) = %v, %v", m.String(), p, err)
		}
	}
	if _, err := ParseMode("zygote"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if !ModeNWebCold.IsCold() || !ModeNWebCold.IsNWeb() || ModeAppSpawn.IsCold() || !ModeNWebSpawn.IsServer() {
		t.Error("mode predicates")
	}
}

func TestParseColdArgs(t *testing.T) {
	a, err := ParseColdArgs([]string{"-mode", "nweb_cold", "-fd", "3", "5", "8192", "-param", "com.example", "17"})
	if err != nil {
		t.Fatal(err)
	}
	want := ColdArgs{Mode: ModeNWebCold, ResultFd: 3, Flags: 5, Size: 8192, ProcessName: "com.example", ClientID: 17}
	if *a != want {
		t.Fatalf("got %+v, expected %+v", *a, want)
	}

	bad := [][]string{
		{"-mode", "app_cold"},
		{"-mode", "appspawn", "-fd", "3", "0", "4096", "-param", "p", "1"},
		{"-mode", "app_cold", "-fd", "x", "0", "4096", "-param", "p", "1"},
		{"-mode", "app_cold", "-fd", "3", "0", "0", "-param", "p", "1"},
		{"-mode", "app_cold", "-fd", "3", "0", "4096", "-args", "p", "1"},
		{"-mode", "app_cold", "-fd", "3", "0", "4096", "-param", "p", "-1"},
	}
	for _, args := range bad {
		if _, err := ParseColdArgs(args); err == nil {
			t.Errorf("expected error for %q", args)
		}
	}
}

func TestDiedQueue(t *testing.T) {
	q := diedQueue{size: 3}
	for pid := 1; pid <= 5; pid++ {
		q.push(&Process{Pid: pid, Status: unix.WaitStatus(pid << 8)})
	}
	if len(q.procs) != 3 || q.procs[0].Pid != 3 || q.procs[2].Pid != 5 {
		t.Fatalf("unexpected queue %v", q.procs)
	}
	if p := q.take(4); p == nil || p.ExitCode() != 4<<8 {
		t.Fatalf("take(4) = %v", p)
	}
	if q.take(4) != nil || q.take(1) != nil {
		t.Fatal("taken twice or dropped record returned")
	}
	if len(q.procs) != 2 {
		t.Fatalf("unexpected queue %v", q.procs)
	}

	empty := diedQueue{}
	empty.push(&Process{Pid: 1})
	if len(empty.procs) != 0 {
		t.Fatal("zero sized queue kept a record")
	}
}
