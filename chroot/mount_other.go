// +build !linux

package chroot

import (
	"github.com/pkg/errors"
)

var (
	bindMount = func(src, dest string) error {
		return errors.Errorf("bind mounts are only supported on linux")
	}

	unmount = func(dest string) error {
		return errors.Errorf("bind mounts are only supported on linux")
	}
)
