package command

import (
	"fmt"

	"github.com/cirocosta/rootstrap/bom"
	"github.com/pkg/errors"
)

type bomCommand struct {
	Rootfs       string `long:"rootfs"       required:"true" description:"rootfs to describe"`
	Report       string `long:"report"       description:"size report written while unpacking"`
	Architecture string `long:"architecture" description:"architecture the rootfs was built for"`
	Suite        string `long:"suite"        description:"suite the rootfs was built from"`
	Format       string `long:"format"       default:"yaml" choice:"yaml" choice:"json" description:"format of the bill of materials"`
	Output       string `long:"output"       default:"-" description:"where to write the bill of materials to ('-' for stdout)"`
}

func (c *bomCommand) Execute(args []string) (err error) {
	var report bom.SizeReport

	if c.Report != "" {
		report, err = bom.ReadSizeReport(c.Report)
		if err != nil {
			return
		}
	}

	materials, err := bom.New(c.Rootfs, c.Architecture, c.Suite, report)
	if err != nil {
		return
	}

	writer, err := writer(c.Output)
	if err != nil {
		return
	}

	content := materials.ToYAML()
	if c.Format == "json" {
		content = materials.ToJSON()
	}

	_, err = fmt.Fprintf(writer, "%s\n", string(content))
	if err != nil {
		err = errors.Wrapf(err,
			"failed writing bill of materials to %s", c.Output)
		return
	}

	return
}
