// +build !linux

package chroot

import (
	"io"

	"github.com/pkg/errors"
)

func Spawn(h Helper, args []string) (int, error) {
	return 0, errors.Errorf("uchroot is only supported on linux")
}

func Exec(ready io.Reader, rootfs string, binds []Bind, args []string) error {
	return errors.Errorf("uchroot is only supported on linux")
}
