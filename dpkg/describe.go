package dpkg

import (
	"context"
	"strings"

	"code.cloudfoundry.org/lager"
	"github.com/pkg/errors"
)

// Describer queries control fields out of a debian archive.
//
// `Describe` returns one value per requested field, in the same order, with
// an empty string for fields that the archive does not declare.
//
type Describer interface {
	Describe(path string, fields ...string) (values []string, err error)
}

// DpkgDescriber asks `dpkg --field` for each field, one process per field.
//
type DpkgDescriber struct {
	Logger lager.Logger
}

func (d DpkgDescriber) Describe(path string, fields ...string) (values []string, err error) {
	values = make([]string, len(fields))

	for idx, field := range fields {
		var out []byte

		out, err = runCommand(context.Background(), d.Logger, []string{"LC_ALL=C"},
			"dpkg", "--field", path, field)
		if err != nil {
			err = errors.Wrapf(err, "failed retrieving field %s from %s", field, path)
			return
		}

		values[idx] = strings.TrimSpace(string(out))
	}

	return
}

// ArchiveDescriber reads the control member of the archive in-process,
// parsing it only once regardless of how many fields are asked for.
//
type ArchiveDescriber struct{}

func (d ArchiveDescriber) Describe(path string, fields ...string) (values []string, err error) {
	control, err := ReadControl(path)
	if err != nil {
		err = errors.Wrapf(err, "failed reading control from %s", path)
		return
	}

	values = make([]string, len(fields))
	for idx, field := range fields {
		values[idx] = control.Value(field)
	}

	return
}
