// Package bom describes what ended up in a rootfs: which packages, at which
// versions, and how much room each takes.
//
package bom

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cirocosta/rootstrap/dpkg"
	"github.com/cirocosta/rootstrap/osrelease"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const FormatVersion = "v1"

// Bom represents the bill of materials of a rootfs.
//
type Bom struct {

	// Version corresponds to the version of the format that the BOM adheres
	// to, not the version of the rootfs.
	//
	Version string `yaml:"version" json:"version"`

	GeneratedAt time.Time `yaml:"generated_at" json:"generated_at"`

	Architecture string `yaml:"architecture" json:"architecture"`
	Suite        string `yaml:"suite" json:"suite"`

	// OS is what the rootfs reports about itself through `os-release`,
	// when it does.
	//
	OS osrelease.OsRelease `yaml:"os" json:"os"`

	Packages []dpkg.PackageSize `yaml:"packages" json:"packages"`
}

// New assembles the BOM of the rootfs at `rootfs` from the report of what
// got unpacked into it.
//
func New(rootfs, architecture, suite string, report SizeReport) (b Bom, err error) {
	b = Bom{
		Version:      FormatVersion,
		GeneratedAt:  time.Now().UTC(),
		Architecture: architecture,
		Suite:        suite,
		Packages:     report,
	}

	b.OS, err = osrelease.GatherOsRelease(rootfs)
	if os.IsNotExist(errors.Cause(err)) {
		err = nil
	}

	return
}

func (b Bom) ToJSON() (res []byte) {
	var err error

	res, err = json.Marshal(&b)
	if err != nil {
		panic(err)
	}

	return
}

func (b Bom) ToYAML() (res []byte) {
	var err error

	res, err = yaml.Marshal(&b)
	if err != nil {
		panic(err)
	}

	return
}
