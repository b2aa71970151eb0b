// Package rootfs prepares a directory to become the root filesystem of a
// Debian-based system, and finishes it once packages are unpacked.
//
package rootfs

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/cirocosta/rootstrap/tweak"
	"github.com/pkg/errors"
)

var skeleton = []string{
	"etc/apt",
	"etc/apt/sources.list.d",
	"etc/apt/preferences.d",
	"var/cache/apt/archives/partial",
	"var/cache/debconf",
	"var/lib/dpkg",
	"var/lib/dpkg/alternatives",
	"var/lib/dpkg/info",
	"var/lib/dpkg/parts",
	"var/lib/dpkg/updates",
}

// databaseFiles must exist for dpkg to consider the database usable.
//
var databaseFiles = []string{
	"var/lib/dpkg/arch",
	"var/lib/dpkg/diversions",
	"var/lib/dpkg/lock",
	"var/lib/dpkg/statoverride",
	"var/lib/dpkg/status",
}

// Initialize lays down the minimum for apt to operate on `root`: its
// directory tree, an empty dpkg database and the sources list used for
// bootstrapping.
//
// Initializing an already initialized rootfs keeps its database.
//
func Initialize(root, aptSources string) (err error) {
	lib64 := filepath.Join(root, "lib64")

	_, err = os.Lstat(lib64)
	if os.IsNotExist(err) {
		err = tweak.ForceSymlink(root, tweak.Symlink{Path: "lib64", Target: "lib"})
	}

	if err != nil {
		err = errors.Wrapf(err, "failed preparing %s", lib64)
		return
	}

	for _, dir := range skeleton {
		err = os.MkdirAll(filepath.Join(root, dir), 0755)
		if err != nil {
			err = errors.Wrapf(err, "failed creating %s", dir)
			return
		}
	}

	err = ioutil.WriteFile(filepath.Join(root, tweak.BootstrapList), []byte(aptSources), 0644)
	if err != nil {
		err = errors.Wrapf(err, "failed writing %s", tweak.BootstrapList)
		return
	}

	for _, file := range databaseFiles {
		var f *os.File

		f, err = os.OpenFile(filepath.Join(root, file), os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			err = errors.Wrapf(err, "failed touching %s", file)
			return
		}

		f.Close()
	}

	return
}
