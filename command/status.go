package command

import (
	"fmt"
	"io"
	"os"

	"github.com/cirocosta/rootstrap/dpkg"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type statusCommand struct {
	Rootfs   string `long:"rootfs"   description:"rootfs whose dpkg status file is read"`
	Filename string `long:"filename" description:"path to a dpkg status file ('-' for stdin)"`
	All      bool   `long:"all"      description:"also list packages that are not fully installed"`
}

func (c *statusCommand) Execute(args []string) (err error) {
	var (
		f       io.Reader
		records []dpkg.Record
	)

	fname := c.Filename
	if fname == "" {
		if c.Rootfs == "" {
			err = errors.Errorf("either --rootfs or --filename must be given")
			return
		}

		fname = dpkg.StatusPath(c.Rootfs)
	}

	if fname == "-" {
		f = os.Stdin
	} else {
		var file *os.File

		file, err = os.Open(fname)
		if err != nil {
			err = errors.Wrapf(err,
				"failed to open dpkg status file at %s", fname)
			return
		}
		defer file.Close()
		f = file
	}

	records, err = dpkg.NewNamedScanner(f, fname).ScanAll()
	if err != nil {
		err = errors.Wrapf(err,
			"failed scanning packages from dpkg status file %s", fname)
		return
	}

	packages := []dpkg.Package{}
	for _, record := range records {
		pkg := dpkg.PackageFromRecord(record)
		if !c.All && !pkg.IsInstalled() {
			continue
		}

		packages = append(packages, pkg)
	}

	b, err := yaml.Marshal(packages)
	if err != nil {
		return
	}

	fmt.Printf("%s", string(b))
	return
}
