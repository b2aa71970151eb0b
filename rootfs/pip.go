package rootfs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cirocosta/rootstrap/chroot"
	"github.com/pkg/errors"
)

// InstallPipPackages builds wheels for `packages` into the wheelhouse and
// installs them from there only, so that a populated package cache makes
// the step work offline.
//
func InstallPipPackages(ctx context.Context, session chroot.Chroot, root string, packages []string) (err error) {
	if len(packages) == 0 {
		return
	}

	wheelhouse := "/" + chroot.WheelhouseGuestPath

	err = os.MkdirAll(filepath.Join(root, chroot.WheelhouseGuestPath), 0755)
	if err != nil {
		err = errors.Wrapf(err, "failed creating wheelhouse")
		return
	}

	steps := [][]string{
		{"pip", "install", "--upgrade", "pip"},
		{"pip", "install", "--upgrade", "wheel", "setuptools"},
		append([]string{"pip", "wheel",
			"--find-links=" + wheelhouse, "--wheel-dir=" + wheelhouse}, packages...),
		append([]string{"pip", "install", "--upgrade", "--no-index",
			"--find-links=" + wheelhouse}, packages...),
	}

	for _, step := range steps {
		err = session.Run(ctx, step)
		if err != nil {
			return
		}
	}

	err = os.RemoveAll(filepath.Join(root, "root/.cache/pip"))
	if err != nil {
		err = errors.Wrapf(err, "failed removing pip cache")
		return
	}

	return
}
