package rootfs

import (
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// Lock guards a rootfs against concurrent builds. The lock file lives next
// to the rootfs so that it never ends up inside it.
//
func Lock(root string) (lock *flock.Flock, err error) {
	path := filepath.Clean(root) + ".lock"
	lock = flock.New(path)

	locked, err := lock.TryLock()
	if err != nil {
		err = errors.Wrapf(err, "failed locking %s", path)
		return
	}

	if !locked {
		err = errors.Errorf("rootfs %s is being built by another process (%s)", root, path)
		return
	}

	return
}
