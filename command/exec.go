package command

import (
	"context"
	"os"

	"github.com/cirocosta/rootstrap/chroot"
	"github.com/pkg/errors"
)

type execCommand struct {
	chrootOptions

	Rootfs string            `long:"rootfs" required:"true" description:"rootfs to run the command in"`
	Env    map[string]string `long:"env"    short:"e" description:"extra environment variable"`
}

func (c *execCommand) Execute(args []string) (err error) {
	if len(args) == 0 {
		err = errors.Errorf("no command to run (usage: rootstrap exec --rootfs R -- cmd args...)")
		return
	}

	session, err := c.open(c.Rootfs, Logger)
	if err != nil {
		return
	}

	err = chroot.With(session, func(session chroot.Chroot) error {
		return session.Run(context.TODO(), args,
			chroot.WithEnv(chroot.Env(c.Env)),
			chroot.WithStdin(os.Stdin))
	})

	return
}
