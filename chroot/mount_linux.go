package chroot

import (
	"golang.org/x/sys/unix"
)

var (
	bindMount = func(src, dest string) error {
		return unix.Mount(src, dest, "", unix.MS_BIND|unix.MS_REC, "")
	}

	// binds are recursive, so whatever is mounted under the source goes
	// away together with them.
	unmount = func(dest string) error {
		return unix.Unmount(dest, unix.MNT_DETACH)
	}
)
