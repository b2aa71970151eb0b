package command

import (
	"context"

	"github.com/cirocosta/rootstrap/bom"
	"github.com/cirocosta/rootstrap/chroot"
	"github.com/pkg/errors"
)

type freezeCommand struct {
	chrootOptions

	Report string `long:"report" description:"size report (in yaml) to take versions from"`
	Rootfs string `long:"rootfs" description:"rootfs whose installed packages get pinned"`
	Format string `long:"format" default:"text" choice:"text" choice:"hcl" description:"how to render the pins"`
	Output string `long:"output" default:"-" description:"where to write the pins to ('-' for stdout)"`
}

func (c *freezeCommand) Execute(args []string) (err error) {
	var pins []bom.Pin

	switch {
	case c.Report != "" && c.Rootfs == "":
		var report bom.SizeReport

		report, err = bom.ReadSizeReport(c.Report)
		if err != nil {
			return
		}

		pins, err = bom.FreezeReport(report)
	case c.Rootfs != "" && c.Report == "":
		var session chroot.Chroot

		session, err = c.open(c.Rootfs, Logger)
		if err != nil {
			return
		}

		err = chroot.With(session, func(session chroot.Chroot) (err error) {
			pins, err = bom.FreezeDpkg(context.TODO(), session)
			return
		})
	default:
		err = errors.Errorf("exactly one of --report or --rootfs must be given")
	}

	if err != nil {
		return
	}

	w, err := writer(c.Output)
	if err != nil {
		return
	}

	err = bom.WritePins(w, pins, bom.PinFormat(c.Format))
	if err != nil {
		err = errors.Wrapf(err, "failed writing pins to %s", c.Output)
		return
	}

	return
}
