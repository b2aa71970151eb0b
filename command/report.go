package command

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cirocosta/rootstrap/bom"
	"github.com/cirocosta/rootstrap/dpkg"
	"github.com/pkg/errors"
)

type reportCommand struct {
	Report        string   `long:"report"         description:"size report to show"`
	Debs          string   `long:"debs"           description:"directory of archives to measure instead of reading a report"`
	Columns       []string `long:"column"         description:"column to show (name, version, packed_size, size_on_disk, description)"`
	Sort          string   `long:"sort"           description:"column to sort by (defaults to the first one shown)"`
	Descending    bool     `long:"descending"     short:"d" description:"sort from largest to smallest"`
	HumanReadable bool     `long:"human-readable" short:"H" description:"show sizes with units"`
	Output        string   `long:"output"         description:"also save the report to this file (json or yaml)"`
}

func (c *reportCommand) Execute(args []string) (err error) {
	if (c.Report == "") == (c.Debs == "") {
		err = errors.Errorf("exactly one of --report or --debs must be given")
		return
	}

	report, err := c.load()
	if err != nil {
		return
	}

	opts := bom.PrintOptions{
		Descending:    c.Descending,
		HumanReadable: c.HumanReadable,
	}

	for _, name := range c.Columns {
		var column bom.Column

		column, err = bom.ParseColumn(name)
		if err != nil {
			return
		}

		opts.Columns = append(opts.Columns, column)
	}

	if c.Sort != "" {
		opts.SortColumn, err = bom.ParseColumn(c.Sort)
		if err != nil {
			return
		}
	}

	err = bom.Print(os.Stdout, report, opts)
	if err != nil {
		return
	}

	if c.Output == "" {
		return
	}

	err = bom.WriteSizeReport(c.Output, report, bom.FormatFromPath(c.Output))
	return
}

func (c *reportCommand) load() (report bom.SizeReport, err error) {
	if c.Report != "" {
		report, err = bom.ReadSizeReport(c.Report)
		return
	}

	archives, err := filepath.Glob(filepath.Join(c.Debs, "*.deb"))
	if err != nil {
		err = errors.Wrapf(err, "failed listing archives in %s", c.Debs)
		return
	}

	report, err = dpkg.MeasureArchives(context.TODO(), Logger, dpkg.ArchiveDescriber{}, archives)
	return
}
