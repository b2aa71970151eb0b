package bom

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cirocosta/rootstrap/chroot"
	"github.com/pkg/errors"
)

// Pin is a package locked to a version, as apt understands `name=version`.
//
type Pin struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

func (p Pin) String() string {
	return p.Name + "=" + p.Version
}

// FreezeReport pins every package of a size report. Reports in the JSON
// tuple format carry no versions and thus cannot be frozen.
//
func FreezeReport(report SizeReport) (pins []Pin, err error) {
	for _, pkg := range report {
		if pkg.Version == "" {
			err = errors.Errorf("no version recorded for package %s", pkg.Name)
			return
		}

		pins = append(pins, Pin{Name: pkg.Name, Version: pkg.Version})
	}

	sortPins(pins)
	return
}

// FreezeDpkg pins every package that dpkg considers installed in the rootfs
// `c` runs commands in.
//
func FreezeDpkg(ctx context.Context, c chroot.Chroot) (pins []Pin, err error) {
	out, err := c.Output(ctx, []string{"dpkg", "--list"},
		chroot.WithEnv(chroot.Env{"COLUMNS": "512"}))
	if err != nil {
		err = errors.Wrapf(err, "failed listing installed packages")
		return
	}

	pins, err = ParseDpkgList(bytes.NewReader(out))
	return
}

// ParseDpkgList extracts the installed (`ii`) packages from the output of
// `dpkg --list`, dropping architecture qualifiers from their names.
//
func ParseDpkgList(r io.Reader) (pins []Pin, err error) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "ii") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			err = errors.Errorf("malformed dpkg listing line `%s`", line)
			return
		}

		name := fields[1]
		if idx := strings.Index(name, ":"); idx >= 0 {
			name = name[:idx]
		}

		pins = append(pins, Pin{Name: name, Version: fields[2]})
	}

	err = scanner.Err()
	if err != nil {
		err = errors.Wrapf(err, "failed reading dpkg listing")
		return
	}

	sortPins(pins)
	return
}

func sortPins(pins []Pin) {
	sort.Slice(pins, func(i, j int) bool {
		if pins[i].Name != pins[j].Name {
			return pins[i].Name < pins[j].Name
		}

		return pins[i].Version < pins[j].Version
	})
}

type PinFormat string

const (
	// PinFormatText is one `name=version` per line.
	//
	PinFormatText PinFormat = "text"

	// PinFormatHCL is a `packages` attribute ready to be pasted into a
	// configuration file.
	//
	PinFormatHCL PinFormat = "hcl"
)

func WritePins(w io.Writer, pins []Pin, format PinFormat) (err error) {
	var buf bytes.Buffer

	switch format {
	case PinFormatText, "":
		for _, pin := range pins {
			fmt.Fprintln(&buf, pin)
		}
	case PinFormatHCL:
		buf.WriteString("packages = [\n")
		for _, pin := range pins {
			fmt.Fprintf(&buf, "  %q,\n", pin.String())
		}
		buf.WriteString("]\n")
	default:
		err = errors.Errorf("unknown pin format `%s`", format)
		return
	}

	_, err = buf.WriteTo(w)
	if err != nil {
		err = errors.Wrapf(err, "failed writing pins")
		return
	}

	return
}
