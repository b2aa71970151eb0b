package bom

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cirocosta/rootstrap/dpkg"
	"github.com/pkg/errors"
)

// Column is one of the attributes of a package that a table can show.
//
type Column string

const (
	ColumnName        Column = "name"
	ColumnVersion     Column = "version"
	ColumnPackedSize  Column = "packed_size"
	ColumnSizeOnDisk  Column = "size_on_disk"
	ColumnDescription Column = "description"
)

var DefaultColumns = []Column{
	ColumnPackedSize, ColumnSizeOnDisk, ColumnName, ColumnDescription,
}

func ParseColumn(s string) (c Column, err error) {
	switch Column(s) {
	case ColumnName, ColumnVersion, ColumnPackedSize, ColumnSizeOnDisk, ColumnDescription:
		c = Column(s)
	default:
		err = errors.Errorf("unknown column `%s`", s)
	}

	return
}

func (c Column) numeric() bool {
	return c == ColumnPackedSize || c == ColumnSizeOnDisk
}

type PrintOptions struct {
	// Columns to show, in order. Defaults to DefaultColumns.
	//
	Columns []Column

	// SortColumn defaults to the first column shown.
	//
	SortColumn Column

	Descending    bool
	HumanReadable bool
}

type row struct {
	text    map[Column]string
	numbers map[Column]int64
}

func newRow(pkg dpkg.PackageSize, humanReadable bool) (r row) {
	r = row{
		text: map[Column]string{
			ColumnName:    pkg.Name,
			ColumnVersion: pkg.Version,
		},
		numbers: map[Column]int64{
			ColumnPackedSize: pkg.PackedSize,
			ColumnSizeOnDisk: pkg.InstalledSize * 1024,
		},
	}

	if pkg.Description != nil {
		r.text[ColumnDescription] = strings.SplitN(*pkg.Description, "\n", 2)[0]
	}

	for column, n := range r.numbers {
		if humanReadable {
			r.text[column] = HumanReadableSize(n)
			continue
		}

		r.text[column] = fmt.Sprintf("%d", n)
	}

	return
}

// Print renders the report as a table with one package per line, columns
// aligned and separated by two spaces.
//
func Print(w io.Writer, report SizeReport, opts PrintOptions) (err error) {
	columns := opts.Columns
	if len(columns) == 0 {
		columns = DefaultColumns
	}

	sortColumn := opts.SortColumn
	if sortColumn == "" {
		sortColumn = columns[0]
	}

	rows := make([]row, len(report))
	for idx, pkg := range report {
		rows[idx] = newRow(pkg, opts.HumanReadable)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if opts.Descending {
			a, b = b, a
		}

		if sortColumn.numeric() {
			return a.numbers[sortColumn] < b.numbers[sortColumn]
		}

		return a.text[sortColumn] < b.text[sortColumn]
	})

	widths := map[Column]int{}
	for _, column := range columns {
		widths[column] = 1

		for _, r := range rows {
			if len(r.text[column]) > widths[column] {
				widths[column] = len(r.text[column])
			}
		}
	}

	for _, r := range rows {
		cells := make([]string, len(columns))

		for idx, column := range columns {
			if column.numeric() && !opts.HumanReadable {
				cells[idx] = fmt.Sprintf("%*s", widths[column], r.text[column])
				continue
			}

			cells[idx] = fmt.Sprintf("%-*s", widths[column], r.text[column])
		}

		_, err = fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
		if err != nil {
			err = errors.Wrapf(err, "failed writing size table")
			return
		}
	}

	return
}
