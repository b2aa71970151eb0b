package chroot

import (
	"os"

	"code.cloudfoundry.org/lager"
)

var (
	geteuid = os.Geteuid
	getuid  = os.Getuid
)

// Posix relies on the `chroot` command, thus requiring root. Directories
// and special files are exposed through bind mounts.
//
type Posix struct {
	*session
}

func NewPosix(cfg Config, logger lager.Logger) (c *Posix, err error) {
	euid := geteuid()
	if euid != 0 {
		err = &PrivilegeError{Backend: TypePosix, EUID: euid}
		return
	}

	binds, err := cfg.binds(true)
	if err != nil {
		return
	}

	s := newSession(TypePosix, cfg.Rootfs, binds, logger)
	s.placeholders = true
	s.mount = bindMount
	s.unmount = unmount
	s.wrap = func(args []string) []string {
		return append([]string{"chroot", cfg.Rootfs}, args...)
	}

	c = &Posix{session: s}
	return
}
