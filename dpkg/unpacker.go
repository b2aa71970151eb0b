package dpkg

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"code.cloudfoundry.org/lager"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
)

// Unpacker extracts the two members of a debian archive.
//
type Unpacker interface {
	// UnpackData extracts the data member onto `rootfs`, returning the
	// manifest of extracted paths in the format of `info/<pkg>.list`.
	//
	UnpackData(ctx context.Context, archive, rootfs string) (manifest []string, err error)

	// UnpackControl extracts the control member into `dir`.
	//
	UnpackControl(ctx context.Context, archive, dir string) (err error)
}

// DpkgUnpacker delegates to `dpkg-deb`.
//
type DpkgUnpacker struct {
	Logger lager.Logger
}

func (u DpkgUnpacker) UnpackData(ctx context.Context, archive, rootfs string) (manifest []string, err error) {
	out, err := runCommand(ctx, u.Logger, []string{"LC_ALL=C"},
		"dpkg-deb", "--vextract", archive, rootfs)
	if err != nil {
		err = &ExtractionError{Archive: archive, ExitStatus: ExitStatus(err), Err: err}
		return
	}

	manifest = manifestFromListing(out)
	return
}

func (u DpkgUnpacker) UnpackControl(ctx context.Context, archive, dir string) (err error) {
	_, err = runCommand(ctx, u.Logger, []string{"LC_ALL=C"},
		"dpkg-deb", "--control", archive, dir)
	if err != nil {
		err = &ExtractionError{Archive: archive, ExitStatus: ExitStatus(err), Err: err}
		return
	}

	return
}

// manifestFromListing converts the verbose output of `dpkg-deb --vextract`
// (`./`, `./usr/`, `./usr/bin/foo`) into list entries.
//
func manifestFromListing(listing []byte) (manifest []string) {
	scanner := bufio.NewScanner(bytes.NewReader(listing))

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		manifest = append(manifest, listEntry(line))
	}

	return
}

// listEntry turns a tar entry name into the absolute form used by `.list`
// files, the root of the tree being `/.`.
//
func listEntry(name string) string {
	rel := memberPath(name)
	if rel == "" {
		return "/."
	}

	return "/" + rel
}

// NativeUnpacker extracts archives in-process, resolving every entry
// within the target directory so that no entry can escape it.
//
type NativeUnpacker struct{}

func (u NativeUnpacker) UnpackData(ctx context.Context, archive, rootfs string) (manifest []string, err error) {
	err = WalkMember(archive, MemberData, func(header *tar.Header, content io.Reader) (err error) {
		err = ctx.Err()
		if err != nil {
			return
		}

		err = writeEntry(rootfs, header, content)
		if err != nil {
			return
		}

		manifest = append(manifest, listEntry(header.Name))
		return
	})
	if err != nil {
		err = &ExtractionError{Archive: archive, ExitStatus: -1, Err: err}
		return
	}

	return
}

func (u NativeUnpacker) UnpackControl(ctx context.Context, archive, dir string) (err error) {
	err = WalkMember(archive, MemberControl, func(header *tar.Header, content io.Reader) error {
		return writeEntry(dir, header, content)
	})
	if err != nil {
		err = &ExtractionError{Archive: archive, ExitStatus: -1, Err: err}
		return
	}

	return
}

// writeEntry materializes a single tar entry under `root`.
//
func writeEntry(root string, header *tar.Header, content io.Reader) (err error) {
	rel := memberPath(header.Name)
	if rel == "" {
		return
	}

	// the last component is not resolved so that existing symlinks get
	// replaced rather than followed.
	parent, err := securejoin.SecureJoin(root, path.Dir(rel))
	if err != nil {
		err = errors.Wrapf(err, "failed resolving %s under %s", rel, root)
		return
	}

	dest := filepath.Join(parent, path.Base(rel))

	err = os.MkdirAll(parent, 0755)
	if err != nil {
		err = errors.Wrapf(err, "failed creating parent of %s", dest)
		return
	}

	mode := os.FileMode(header.Mode)

	switch header.Typeflag {
	case tar.TypeDir:
		info, statErr := os.Lstat(dest)
		if statErr == nil && info.Mode()&os.ModeSymlink != 0 {
			return
		}

		err = os.MkdirAll(dest, 0755)
		if err != nil {
			err = errors.Wrapf(err, "failed creating directory %s", dest)
			return
		}
	case tar.TypeReg, tar.TypeRegA:
		err = writeRegular(dest, content, mode)
		if err != nil {
			err = errors.Wrapf(err, "failed writing file %s", dest)
			return
		}
	case tar.TypeSymlink:
		err = replaceWith(dest, func() error { return os.Symlink(header.Linkname, dest) })
		if err != nil {
			err = errors.Wrapf(err, "failed creating symlink %s -> %s", dest, header.Linkname)
			return
		}

		return
	case tar.TypeLink:
		var target string

		target, err = securejoin.SecureJoin(root, memberPath(header.Linkname))
		if err != nil {
			err = errors.Wrapf(err, "failed resolving hardlink target %s", header.Linkname)
			return
		}

		err = replaceWith(dest, func() error { return os.Link(target, dest) })
		if err != nil {
			err = errors.Wrapf(err, "failed creating hardlink %s -> %s", dest, target)
			return
		}

		return
	default:
		err = errors.Errorf("unsupported entry type %q for %s", header.Typeflag, header.Name)
		return
	}

	err = os.Chmod(dest, applySpecialBits(mode))
	if err != nil {
		err = errors.Wrapf(err, "failed setting mode of %s", dest)
		return
	}

	err = os.Chtimes(dest, header.ModTime, header.ModTime)
	if err != nil {
		err = errors.Wrapf(err, "failed setting times of %s", dest)
		return
	}

	return
}

func applySpecialBits(mode os.FileMode) os.FileMode {
	const (
		setuid = 04000
		setgid = 02000
		sticky = 01000
	)

	out := mode.Perm()
	raw := uint32(mode)

	if raw&setuid != 0 {
		out |= os.ModeSetuid
	}
	if raw&setgid != 0 {
		out |= os.ModeSetgid
	}
	if raw&sticky != 0 {
		out |= os.ModeSticky
	}

	return out
}

func writeRegular(dest string, content io.Reader, mode os.FileMode) (err error) {
	err = removeIfNotDir(dest)
	if err != nil {
		return
	}

	file, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return
	}

	_, err = io.Copy(file, content)
	if err != nil {
		file.Close()
		return
	}

	err = file.Close()
	return
}

func replaceWith(dest string, create func() error) (err error) {
	err = removeIfNotDir(dest)
	if err != nil {
		return
	}

	err = create()
	return
}

// removeIfNotDir clears the way for a new file or link at `dest`, leaving
// directories in place.
//
func removeIfNotDir(dest string) (err error) {
	info, err := os.Lstat(dest)
	if os.IsNotExist(err) {
		err = nil
		return
	}

	if err != nil {
		return
	}

	if info.IsDir() {
		err = errors.Errorf("%s exists and is a directory", dest)
		return
	}

	err = os.Remove(dest)
	return
}
