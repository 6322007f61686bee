package cgroup

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestBuilderPath(t *testing.T) {
	b := Builder{Root: "/dev/pids", UserID: 100, Name: "com.example.app"}
	if got, want := b.Path(1234), "/dev/pids/100/com.example.app/app_1234"; got != want {
		t.Errorf("Path = %v, want %v", got, want)
	}
	b.Name = "../../escape"
	if got, want := b.Path(1), "/dev/pids/100/escape/app_1"; got != want {
		t.Errorf("Path = %v, want %v", got, want)
	}
}

func TestBuild(t *testing.T) {
	root := t.TempDir()
	b := Builder{Root: root, UserID: 0, Name: "com.example.app"}
	app, err := b.Build(4321)
	if err != nil {
		t.Fatal(err)
	}
	procs, err := app.Procs()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(procs, []int{4321}) {
		t.Errorf("Procs = %v", procs)
	}
	// the only process is the app itself, nothing to kill
	n, err := app.KillAll()
	if err != nil || n != 0 {
		t.Errorf("KillAll = %d %v", n, err)
	}

	// plain directories in a temporary file system keep their files
	os.Remove(filepath.Join(app.Path, cgroupProcs))
	if err := app.Destroy(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Dir(app.Path)); !os.IsNotExist(err) {
		t.Errorf("bundle dir not removed: %v", err)
	}
}

func TestBuildInvalid(t *testing.T) {
	b := Builder{}
	if _, err := b.Build(1); err == nil {
		t.Error("expected empty root to fail")
	}
}

func TestDestroyMissing(t *testing.T) {
	b := Builder{Root: t.TempDir(), Name: "gone"}
	if err := b.Open(1).Destroy(); err != nil {
		t.Errorf("Destroy of missing cgroup = %v", err)
	}
}

func TestTypeString(t *testing.T) {
	if TypeV2.String() != "v2" || Type(0).String() != "invalid" {
		t.Error("unexpected type string")
	}
}
