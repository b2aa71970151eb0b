package command

import (
	"context"
	"os"

	"github.com/cirocosta/rootstrap/bootstrap"
	"github.com/cirocosta/rootstrap/dpkg"
)

type bootstrapCommand struct {
	Filename  string            `long:"config"   short:"c" required:"true" description:"file describing the rootfs to build"`
	Variables map[string]string `long:"var"      short:"v" description:"variables to interpolate"`
	Rootfs    string            `long:"rootfs"   description:"where to build the rootfs, overriding the configuration"`
	DpkgDeb   bool              `long:"dpkg-deb" description:"describe and unpack archives with dpkg-deb instead of in-process"`
}

func (c *bootstrapCommand) Execute(args []string) (err error) {
	cfg, err := parseConfig(c.Filename, c.Variables)
	if err != nil {
		return
	}

	if c.Rootfs != "" {
		cfg.Rootfs = c.Rootfs
	}

	b := bootstrap.New(cfg, Logger, !c.DpkgDeb)
	b.Progress = dpkg.Progress{Writer: os.Stdout, Width: terminalWidth()}

	err = b.Run(context.TODO())
	return
}
