package command

import (
	"context"

	"github.com/cirocosta/rootstrap/chroot"
	"github.com/cirocosta/rootstrap/rootfs"
)

type configureCommand struct {
	chrootOptions

	Rootfs      string   `long:"rootfs"   required:"true" description:"rootfs whose packages get configured"`
	Retries     int      `long:"retries"  default:"1" description:"how many more times to try 'dpkg --configure -a' after a failure"`
	Timezone    string   `long:"timezone" default:"America/Los_Angeles" description:"content of /etc/timezone"`
	PipPackages []string `long:"pip"      description:"python package to install once everything is configured"`
}

func (c *configureCommand) Execute(args []string) (err error) {
	ctx := context.TODO()

	session, err := c.open(c.Rootfs, Logger)
	if err != nil {
		return
	}

	err = chroot.With(session, func(session chroot.Chroot) (err error) {
		err = rootfs.Configurer{
			Logger:   Logger,
			Retries:  c.Retries,
			Timezone: c.Timezone,
		}.Configure(ctx, session, c.Rootfs)
		if err != nil {
			return
		}

		err = rootfs.InstallPipPackages(ctx, session, c.Rootfs, c.PipPackages)
		return
	})

	return
}
