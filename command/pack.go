package command

import (
	"context"

	"github.com/cirocosta/rootstrap/pack"
)

type packCommand struct {
	Rootfs string `long:"rootfs" required:"true" description:"rootfs to archive"`
	Output string `long:"output" required:"true" description:"tarball to create (.tar, .tar.gz, .tar.xz, .tar.bz2, .tar.lz4, .tar.sz or .tar.zst)"`
}

func (c *packCommand) Execute(args []string) (err error) {
	err = pack.Pack(context.TODO(), Logger, c.Rootfs, c.Output)
	return
}
