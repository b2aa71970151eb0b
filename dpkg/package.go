package dpkg

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Package is a debian package whose installation can be tracked by
// `/var/lib/dpkg/status`.
//
// For more information about each field, check:
// https://www.debian.org/doc/debian-policy/ch-controlfields#list-of-fields
//
//
type Package struct {
	// Name corresponds to the `Package` field in the status file from
	// `dpkg`, representing the name of the binary package.
	//
	Name string `yaml:"name"`

	// Version is the version of the package in the debian policy format.
	//
	Version string `yaml:"version"`

	Architecture string `yaml:"architecture,omitempty"`

	// Status is the `want flag status` triple, e.g. `install ok unpacked`.
	//
	Status string `yaml:"status,omitempty"`

	Conffiles []Conffile `yaml:"conffiles,omitempty"`
}

func PackageFromRecord(record Record) Package {
	return Package{
		Name:         record.Value(FieldPackage),
		Version:      record.Value(FieldVersion),
		Architecture: record.Value(FieldArchitecture),
		Status:       record.Value(FieldStatus),
		Conffiles:    ParseConffiles(record.Value(FieldConffiles)),
	}
}

func (p *Package) IsFilled() bool {
	return p.Name != "" && p.Version != ""
}

func (p *Package) IsInstalled() bool {
	return strings.HasSuffix(p.Status, " installed")
}

// Priority is the value of the `Priority` control field.
//
type Priority string

const (
	PriorityRequired  Priority = "required"
	PriorityImportant Priority = "important"
	PriorityStandard  Priority = "standard"
	PriorityOptional  Priority = "optional"
	PriorityExtra     Priority = "extra"
	PriorityAbsent    Priority = ""
)

const (
	FieldPackage       = "Package"
	FieldVersion       = "Version"
	FieldArchitecture  = "Architecture"
	FieldStatus        = "Status"
	FieldConffiles     = "Conffiles"
	FieldDepends       = "Depends"
	FieldDescriptionEn = "Description-en"
	FieldEssential     = "Essential"
	FieldPriority      = "Priority"
	FieldInstalledSize = "Installed-Size"
	FieldMultiArch     = "Multi-Arch"
)

// PackageArchive is the metadata of a `.deb` file found on disk.
//
type PackageArchive struct {
	Path    string
	Name    string
	Version string

	// InstalledSize is the estimated on-disk size in KiB. Archives that do
	// not declare it (or declare garbage) report 0.
	//
	InstalledSize int64

	// Description is nil when the archive carries no description.
	//
	Description *string

	Essential bool
	Priority  Priority
	MultiArch string
}

var archiveFields = []string{
	FieldPackage,
	FieldVersion,
	FieldInstalledSize,
	FieldEssential,
	FieldPriority,
	FieldMultiArch,
}

// ReadPackageArchive gathers the metadata of the archive at `path` through
// `describer`.
//
func ReadPackageArchive(describer Describer, path string) (pkg PackageArchive, err error) {
	values, err := describer.Describe(path, archiveFields...)
	if err != nil {
		err = errors.Wrapf(err, "failed describing archive %s", path)
		return
	}

	pkg = PackageArchive{
		Path:      path,
		Name:      values[0],
		Version:   values[1],
		Essential: values[3] == "yes",
		Priority:  Priority(values[4]),
		MultiArch: values[5],
	}

	installedSize, convErr := strconv.ParseInt(values[2], 10, 64)
	if convErr == nil {
		pkg.InstalledSize = installedSize
	}

	pkg.Description = describeDescription(describer, path)

	if pkg.Name == "" {
		err = errors.Errorf("archive %s has no `Package` field", path)
		return
	}

	return
}

// describeDescription queries the translated description on its own, as
// its absence is not fatal: archives without one have no description.
//
func describeDescription(describer Describer, path string) *string {
	values, err := describer.Describe(path, FieldDescriptionEn)
	if err != nil || values[0] == "" {
		return nil
	}

	description := values[0]
	return &description
}
