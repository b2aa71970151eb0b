package chroot

import (
	"os"

	"code.cloudfoundry.org/lager"
	"github.com/pkg/errors"
)

// Proot relies on `proot`, which intercepts syscalls from userspace. No
// mount takes place: directories are handed to proot as arguments, and
// only regular files get copied into the rootfs.
//
type Proot struct {
	*session

	args []string
}

func NewProot(cfg Config, logger lager.Logger) (c *Proot, err error) {
	binds, err := cfg.binds(false)
	if err != nil {
		return
	}

	args := []string{
		"proot",
		"--rootfs=" + cfg.Rootfs,
		"--cwd=/",
	}

	if cfg.EmulationBinary != "" {
		args = append(args, "--qemu="+cfg.EmulationBinary)
	}

	for _, bind := range binds {
		var info os.FileInfo

		info, err = os.Stat(bind.Host)
		if err != nil {
			err = errors.Wrapf(err, "failed to stat bind source %s", bind.Host)
			return
		}

		if info.Mode().IsRegular() {
			continue
		}

		args = append(args, "--bind="+bind.String())
	}

	if geteuid() != 0 {
		args = append(args, "-0")
	}

	s := newSession(TypeProot, cfg.Rootfs, binds, logger)
	s.env["PROOT_NO_SECCOMP"] = "1"
	s.wrap = func(cmd []string) []string {
		return append(append([]string(nil), args...), cmd...)
	}

	c = &Proot{session: s, args: args}
	return
}

// Args is the command line that prefixes every command.
//
func (p *Proot) Args() []string {
	return append([]string(nil), p.args...)
}
