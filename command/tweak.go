package command

import (
	"context"

	"github.com/cirocosta/rootstrap/tweak"
)

type tweakCommand struct {
	Rootfs     string `long:"rootfs"     required:"true" description:"rootfs to fix up"`
	Privileged bool   `long:"privileged" description:"packages will be configured with the capabilities of root"`
}

func (c *tweakCommand) Execute(args []string) (err error) {
	err = tweak.Tweaker{
		Logger:     Logger,
		Privileged: c.Privileged,
	}.Tweak(context.TODO(), c.Rootfs)
	return
}
