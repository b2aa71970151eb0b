package command

import (
	"context"
	"os"

	"github.com/cirocosta/rootstrap/bom"
	"github.com/cirocosta/rootstrap/dpkg"
	"github.com/pkg/errors"
)

type unpackCommand struct {
	Rootfs     string   `long:"rootfs"      required:"true" description:"rootfs to unpack archives onto"`
	Debs       []string `long:"deb"         description:"archive to unpack along with the ones in the apt cache of the rootfs"`
	SizeReport string   `long:"size-report" description:"where to write the report of unpacked packages to (json or yaml)"`
	DpkgDeb    bool     `long:"dpkg-deb"    description:"describe and unpack archives with dpkg-deb instead of in-process"`
	Quiet      bool     `long:"quiet"       short:"q" description:"do not show progress"`
}

func (c *unpackCommand) Execute(args []string) (err error) {
	archives, err := dpkg.CollectArchives(c.Rootfs, append(c.Debs, args...))
	if err != nil {
		return
	}

	pass := dpkg.UnpackPass{
		Extractor: dpkg.NewExtractor(Logger, !c.DpkgDeb),
		Logger:    Logger,
	}

	if !c.Quiet {
		pass.Progress = dpkg.Progress{Writer: os.Stdout, Width: terminalWidth()}
	}

	sizes, err := pass.Run(context.TODO(), c.Rootfs, archives)
	if err != nil {
		err = errors.Wrapf(err, "failed unpacking archives onto %s", c.Rootfs)
		return
	}

	if c.SizeReport == "" {
		return
	}

	err = bom.WriteSizeReport(c.SizeReport, sizes, bom.FormatFromPath(c.SizeReport))
	return
}
