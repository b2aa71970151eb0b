// Package tweak fixes up a freshly unpacked rootfs so that configuring its
// packages goes through.
//
package tweak

import (
	"context"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"code.cloudfoundry.org/lager"
	"github.com/cirocosta/rootstrap/dpkg"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
)

// Symlink is a link that must exist at `Path` (relative to the rootfs)
// pointing at `Target`.
//
type Symlink struct {
	Path   string
	Target string
}

var Symlinks = []Symlink{
	{Path: "sbin/insserv", Target: "../usr/lib/insserv/insserv"},
	{Path: "usr/bin/awk", Target: "mawk"},
}

const (
	cudnnPostinst     = "libcudnn6-dev.postinst"
	baseFilesPostinst = "base-files.postinst"
	makedevPostinst   = "makedev.postinst"

	// BootstrapList is the sources list only used while bootstrapping.
	//
	BootstrapList = "etc/apt/sources.list.d/bootstrap.list"

	resolvconfDir = "run/resolvconf/interface"
)

// Tweaker applies every fix to a rootfs. Applying it more than once leaves
// the rootfs the same as applying it once.
//
type Tweaker struct {
	Logger lager.Logger

	// Privileged indicates whether packages get configured with the
	// capabilities of root (e.g. CAP_MKNOD).
	//
	Privileged bool
}

func (t Tweaker) Tweak(ctx context.Context, rootfs string) (err error) {
	sess := t.Logger.Session("tweak", lager.Data{"rootfs": rootfs})

	sess.Info("start")
	defer sess.Info("finish")

	for _, link := range Symlinks {
		err = ForceSymlink(rootfs, link)
		if err != nil {
			return
		}
	}

	info := filepath.Join(rootfs, dpkg.InfoDir)

	err = addShebang(filepath.Join(info, cudnnPostinst))
	if err != nil {
		return
	}

	script := filepath.Join(info, baseFilesPostinst)
	if exists(script) {
		err = patchBaseFiles(ctx, sess, rootfs, script)
		if err != nil {
			return
		}
	}

	status := dpkg.StatusPath(rootfs)
	if exists(status) {
		var changed bool

		// ifupdown ought to depend on initscripts but does not declare it.
		changed, err = dpkg.AddDependency(status, "ifupdown", "initscripts")
		if err != nil {
			return
		}

		sess.Debug("ifupdown-depends", lager.Data{"changed": changed})
	}

	err = os.MkdirAll(filepath.Join(rootfs, resolvconfDir), 0755)
	if err != nil {
		err = errors.Wrapf(err, "failed creating %s", resolvconfDir)
		return
	}

	if !t.Privileged {
		// makedev's postinst needs CAP_MKNOD.
		script = filepath.Join(info, makedevPostinst)
		if exists(script) {
			err = os.Rename(script, script+".bak")
			if err != nil {
				err = errors.Wrapf(err, "failed setting %s aside", script)
				return
			}
		}
	}

	err = os.Remove(filepath.Join(rootfs, BootstrapList))
	if err != nil && !os.IsNotExist(err) {
		err = errors.Wrapf(err, "failed removing %s", BootstrapList)
		return
	}

	err = nil
	return
}

// ForceSymlink makes sure that `link.Path` is a symlink to `link.Target`,
// replacing a symlink pointing elsewhere. Anything but a symlink already
// being there is an error.
//
func ForceSymlink(rootfs string, link Symlink) (err error) {
	parent, err := securejoin.SecureJoin(rootfs, path.Dir(link.Path))
	if err != nil {
		err = errors.Wrapf(err, "failed resolving %s", link.Path)
		return
	}

	location := filepath.Join(parent, path.Base(link.Path))

	info, err := os.Lstat(location)
	switch {
	case os.IsNotExist(err):
		err = os.MkdirAll(parent, 0755)
		if err != nil {
			err = errors.Wrapf(err, "failed creating %s", parent)
			return
		}
	case err != nil:
		err = errors.Wrapf(err, "failed inspecting %s", location)
		return
	case info.Mode()&os.ModeSymlink == 0:
		err = errors.Errorf("%s exists but is not a symlink", location)
		return
	default:
		var current string

		current, err = os.Readlink(location)
		if err != nil {
			err = errors.Wrapf(err, "failed reading link %s", location)
			return
		}

		if current == link.Target {
			return
		}

		err = os.Remove(location)
		if err != nil {
			err = errors.Wrapf(err, "failed removing %s", location)
			return
		}
	}

	err = os.Symlink(link.Target, location)
	if err != nil {
		err = errors.Wrapf(err, "failed linking %s to %s", location, link.Target)
		return
	}

	return
}

// addShebang prepends an interpreter line to a script that lacks one.
//
func addShebang(script string) (err error) {
	content, err := ioutil.ReadFile(script)
	if os.IsNotExist(err) {
		err = nil
		return
	}

	if err != nil {
		err = errors.Wrapf(err, "failed reading %s", script)
		return
	}

	if strings.HasPrefix(string(content), "#!") {
		return
	}

	info, err := os.Stat(script)
	if err != nil {
		return
	}

	err = ioutil.WriteFile(script, append([]byte("#!/bin/sh\n"), content...), info.Mode().Perm())
	if err != nil {
		err = errors.Wrapf(err, "failed writing %s", script)
		return
	}

	return
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}
