package mount

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestMountString(t *testing.T) {
	tests := []struct {
		m        Mount
		bind, ro bool
		want     string
	}{
		{Mount{Source: "/system/lib", Target: "/system/lib", Flags: unix.MS_BIND | unix.MS_RDONLY}, true, true, "bind[/system/lib:/system/lib:ro]"},
		{Mount{Source: "/data/app/el2/100/com.example", Target: "/data/storage/el2", Flags: unix.MS_BIND}, true, false, "bind[/data/app/el2/100/com.example:/data/storage/el2:rw]"},
		{Mount{Target: "/data/storage/el2/base/cache", FsType: "tmpfs"}, false, false, "tmpfs[/data/storage/el2/base/cache]"},
		{Mount{Target: "/proc", FsType: "proc", Flags: unix.MS_RDONLY}, false, true, "proc[ro]"},
		{Mount{Source: "dev", Target: "/dev", FsType: "devtmpfs", Data: "mode=755"}, false, false, "mount[devtmpfs,dev:/dev:0,mode=755]"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.m.IsBindMount(); got != tt.bind {
				t.Errorf("IsBindMount() = %v, want %v", got, tt.bind)
			}
			if got := tt.m.IsReadOnly(); got != tt.ro {
				t.Errorf("IsReadOnly() = %v, want %v", got, tt.ro)
			}
			if got := tt.m.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnsureMountTargetExists(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "app.json")
	if err := os.WriteFile(config, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name, source, target string
		dir                  bool
	}{
		{"directory source", dir, filepath.Join(dir, "root", "data", "storage"), true},
		{"file source", config, filepath.Join(dir, "root", "etc", "app.json"), false},
		{"missing source", filepath.Join(dir, "missing"), filepath.Join(dir, "root", "tmp"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ensureMountTargetExists(tt.source, tt.target); err != nil {
				t.Fatal(err)
			}
			fi, err := os.Lstat(tt.target)
			if err != nil {
				t.Fatal(err)
			}
			if fi.IsDir() != tt.dir {
				t.Errorf("%s is dir = %v, want %v", tt.target, fi.IsDir(), tt.dir)
			}
		})
	}
}
