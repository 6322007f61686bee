package mount

import (
	"os"
	"strings"
	"testing"
)

func TestBuilder_WithBind(t *testing.T) {
	b := NewBuilder().WithBind("/src", "/dst", true)
	if len(b.Mounts) != 1 {
		t.Fatalf("expected 1 mount, got %d", len(b.Mounts))
	}
	m := b.Mounts[0]
	if m.Source != "/src" || m.Target != "/dst" {
		t.Errorf("unexpected mount: %+v", m)
	}
	if !m.IsBindMount() || !m.IsReadOnly() {
		t.Errorf("expected readonly bind mount")
	}
}

func TestBuilder_WithTmpfs(t *testing.T) {
	b := NewBuilder().WithTmpfs("/tmp", "size=64m")
	m := b.Mounts[0]
	if !m.IsTmpFs() {
		t.Errorf("expected tmpfs mount")
	}
	if m.Target != "/tmp" || m.Data != "size=64m" {
		t.Errorf("unexpected mount: %+v", m)
	}
}

func TestBuilder_WithProc(t *testing.T) {
	b := NewBuilder().WithProc().WithProcRW(true)
	if len(b.Mounts) != 2 {
		t.Fatalf("expected 2 mounts, got %d", len(b.Mounts))
	}
	if !b.Mounts[0].IsReadOnly() || b.Mounts[1].IsReadOnly() {
		t.Errorf("unexpected proc flags: %v", b)
	}
}

func TestBuilder_String(t *testing.T) {
	s := NewBuilder().
		WithBind("/src", "/dst", false).
		WithTmpfs("/tmp", "size=1m").
		WithProc().
		String()
	for _, want := range []string{"Mounts: ", "bind[/src:/dst:rw]", "tmpfs[/tmp]", "proc[ro]"} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %q in %q", want, s)
		}
	}
}

func TestBuilder_FilterNotExist(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "mounttest")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	b := NewBuilder().
		WithBind(f.Name(), "/dst1", false).
		WithBind("/not/exist", "/dst2", false).
		WithTmpfs("/tmp", "")
	b.FilterNotExist()
	if len(b.Mounts) != 2 {
		t.Fatalf("expected 2 mounts after filter, got %d", len(b.Mounts))
	}
	if b.Mounts[0].Source != f.Name() {
		t.Errorf("unexpected mount: %+v", b.Mounts[0])
	}
}

func TestBuilder_Expand(t *testing.T) {
	b := NewBuilder().
		WithBind("/data/app/el2/<currentUserId>/base/<PackageName>", "/data/storage/el2/base", false).
		WithTmpfs("/mnt/<PackageName>", "")
	e := b.Expand(map[string]string{"currentUserId": "100", "PackageName": "com.example"})
	if got := e.Mounts[0].Source; got != "/data/app/el2/100/base/com.example" {
		t.Errorf("source = %v", got)
	}
	if got := e.Mounts[1].Target; got != "/mnt/com.example" {
		t.Errorf("target = %v", got)
	}
	if b.Mounts[0].Source == e.Mounts[0].Source {
		t.Error("Expand modified the original builder")
	}
}
