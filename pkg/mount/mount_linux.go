package mount

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Mount calls mount syscall with the target placed under root
func (m *Mount) Mount(root string) error {
	target := filepath.Join(root, m.Target)
	if err := ensureMountTargetExists(m.Source, target); err != nil {
		return fmt.Errorf("mount: failed to create target %v: %w", target, err)
	}
	if err := unix.Mount(m.Source, target, m.FsType, m.Flags, m.Data); err != nil {
		return fmt.Errorf("mount: %v: %w", m, err)
	}
	// Read-only bind mount need to be remounted
	const bindRo = unix.MS_BIND | unix.MS_RDONLY
	if m.Flags&bindRo == bindRo {
		if err := unix.Mount("", target, m.FsType, m.Flags|unix.MS_REMOUNT, m.Data); err != nil {
			return fmt.Errorf("mount: remount %v: %w", m, err)
		}
	}
	return nil
}

// ensureMountTargetExists creates a directory, or an empty file when the
// source of a bind mount is a regular file
func ensureMountTargetExists(source, target string) error {
	isFile := false
	if fi, err := os.Stat(source); err == nil {
		isFile = !fi.IsDir()
	}
	if isFile {
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_RDONLY, 0644)
		if err != nil {
			return err
		}
		return f.Close()
	}
	return os.MkdirAll(target, 0755)
}

// Enter unshares the mount namespace of the calling thread, applies the
// mounts under root and changes root into it. The caller must hold the
// OS thread and exec from it afterwards.
func Enter(root string, mounts []Mount) error {
	if err := unix.Unshare(unix.CLONE_NEWNS | unix.CLONE_FS); err != nil {
		return fmt.Errorf("mount: unshare %w", err)
	}
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_SLAVE, ""); err != nil {
		return fmt.Errorf("mount: make rslave %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("mount: create root %w", err)
	}
	if err := unix.Mount(root, root, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("mount: bind root %w", err)
	}
	for i := range mounts {
		if err := mounts[i].Mount(root); err != nil {
			return err
		}
	}
	if err := unix.Chroot(root); err != nil {
		return fmt.Errorf("mount: chroot %w", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("mount: chdir %w", err)
	}
	return nil
}
