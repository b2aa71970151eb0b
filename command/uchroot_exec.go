package command

import (
	"os"

	"github.com/cirocosta/rootstrap/chroot"
)

// readyFd is where the inner stage of the helper finds the pipe that gets
// closed once its ids are mapped.
//
const readyFd = 3

// uchrootExecCommand sets up and runs within the namespaces of the uchroot
// backend; it is not meant to be called directly.
//
type uchrootExecCommand struct {
	Rootfs   string   `long:"rootfs" required:"true"`
	Binds    []string `long:"bind"`
	UIDRange string   `long:"uid-range"`
	GIDRange string   `long:"gid-range"`
	Mapped   bool     `long:"mapped"`
}

func (c *uchrootExecCommand) Execute(args []string) (err error) {
	binds, err := chroot.ParseBinds(c.Binds)
	if err != nil {
		return
	}

	if c.Mapped {
		err = chroot.Exec(os.NewFile(readyFd, "ready"), c.Rootfs, binds, args)
		return
	}

	helper := chroot.Helper{Rootfs: c.Rootfs, Binds: binds}

	if c.UIDRange != "" {
		helper.UIDRange, err = chroot.ParseRange(c.UIDRange)
		if err != nil {
			return
		}
	}

	if c.GIDRange != "" {
		helper.GIDRange, err = chroot.ParseRange(c.GIDRange)
		if err != nil {
			return
		}
	}

	status, err := chroot.Spawn(helper, args)
	if err != nil {
		return
	}

	if status != 0 {
		os.Exit(status)
	}

	return
}
