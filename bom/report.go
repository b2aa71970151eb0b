package bom

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cirocosta/rootstrap/dpkg"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SizeReport lists every package unpacked into a rootfs along with how much
// room it takes.
//
// In JSON it is rendered as a list of `[name, packed_size, installed_size,
// description]` tuples.
//
type SizeReport []dpkg.PackageSize

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (f Format, err error) {
	switch Format(s) {
	case FormatJSON, FormatYAML:
		f = Format(s)
	case "yml":
		f = FormatYAML
	default:
		err = errors.Errorf("unknown report format `%s`", s)
	}

	return
}

// FormatFromPath guesses the format of a report from its extension,
// defaulting to JSON.
//
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

func (r SizeReport) MarshalJSON() ([]byte, error) {
	tuples := make([][]interface{}, len(r))

	for idx, pkg := range r {
		tuples[idx] = []interface{}{
			pkg.Name, pkg.PackedSize, pkg.InstalledSize, pkg.Description,
		}
	}

	return json.Marshal(tuples)
}

func (r *SizeReport) UnmarshalJSON(content []byte) (err error) {
	var tuples [][]json.RawMessage

	err = json.Unmarshal(content, &tuples)
	if err != nil {
		err = errors.Wrapf(err, "failed to decode size report")
		return
	}

	report := make(SizeReport, len(tuples))

	for idx, tuple := range tuples {
		if len(tuple) != 4 {
			err = errors.Errorf("entry %d of size report has %d fields instead of 4",
				idx, len(tuple))
			return
		}

		pkg := &report[idx]

		for field, dest := range []interface{}{
			&pkg.Name, &pkg.PackedSize, &pkg.InstalledSize, &pkg.Description,
		} {
			err = json.Unmarshal(tuple[field], dest)
			if err != nil {
				err = errors.Wrapf(err, "failed to decode field %d of entry %d", field, idx)
				return
			}
		}
	}

	*r = report
	return
}

// Encode renders the report in the format `f`.
//
func (r SizeReport) Encode(f Format) (content []byte, err error) {
	switch f {
	case FormatYAML:
		content, err = yaml.Marshal([]dpkg.PackageSize(r))
	default:
		content, err = json.MarshalIndent(r, "", "  ")
	}

	if err != nil {
		err = errors.Wrapf(err, "failed to encode size report as %s", f)
		return
	}

	return
}

// WriteSizeReport writes the report to `path`, creating its parent
// directories.
//
func WriteSizeReport(path string, report SizeReport, f Format) (err error) {
	content, err := report.Encode(f)
	if err != nil {
		return
	}

	err = os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		err = errors.Wrapf(err, "failed creating directory for %s", path)
		return
	}

	err = ioutil.WriteFile(path, append(content, '\n'), 0644)
	if err != nil {
		err = errors.Wrapf(err, "failed writing size report %s", path)
		return
	}

	return
}

// ReadSizeReport reads a report previously written by WriteSizeReport,
// the format being inferred from the extension of `path`.
//
func ReadSizeReport(path string) (report SizeReport, err error) {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		err = errors.Wrapf(err, "failed reading size report %s", path)
		return
	}

	switch FormatFromPath(path) {
	case FormatYAML:
		var packages []dpkg.PackageSize

		err = yaml.Unmarshal(content, &packages)
		report = packages
	default:
		err = json.Unmarshal(content, &report)
	}

	if err != nil {
		err = errors.Wrapf(err, "failed parsing size report %s", path)
		return
	}

	return
}

var units = []string{"B", "KB", "MB", "GB", "PB", "EB"}

// HumanReadableSize renders a number of bytes with a binary unit, e.g.
// `  1.50MB`.
//
func HumanReadableSize(size int64) string {
	if size <= 0 {
		return strconv.FormatInt(size, 10) + "B"
	}

	exponent := 0
	for exponent < len(units)-1 && size >= int64(math.Pow(1024, float64(exponent+1))) {
		exponent++
	}

	scaled := float64(size) / math.Pow(1024, float64(exponent))

	return fmt.Sprintf("%6.2f%s", scaled, units[exponent])
}
