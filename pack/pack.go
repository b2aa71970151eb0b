// Package pack exports a rootfs as a (possibly compressed) tarball.
//
package pack

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"code.cloudfoundry.org/lager"
	"github.com/klauspost/compress/zstd"
	"github.com/mholt/archiver"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Compressor turns a stream into its compressed form.
//
type Compressor interface {
	Compress(in io.Reader, out io.Writer) error
}

type identity struct{}

func (identity) Compress(in io.Reader, out io.Writer) (err error) {
	_, err = io.Copy(out, in)
	return
}

type zstdCompressor struct{}

func (zstdCompressor) Compress(in io.Reader, out io.Writer) (err error) {
	w, err := zstd.NewWriter(out)
	if err != nil {
		return
	}

	_, err = io.Copy(w, in)
	if err != nil {
		w.Close()
		return
	}

	err = w.Close()
	return
}

// CompressorFor picks a compressor based on the extension of `output`.
//
func CompressorFor(output string) (c Compressor, err error) {
	name := strings.ToLower(filepath.Base(output))

	switch {
	case strings.HasSuffix(name, ".tar"):
		c = identity{}
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		c = archiver.NewGz()
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		c = archiver.NewXz()
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		c = archiver.NewBz2()
	case strings.HasSuffix(name, ".tar.lz4"):
		c = archiver.NewLz4()
	case strings.HasSuffix(name, ".tar.sz"):
		c = archiver.NewSnappy()
	case strings.HasSuffix(name, ".tar.zst"):
		c = zstdCompressor{}
	default:
		err = errors.Errorf("can't tell how to compress %s from its extension", output)
	}

	return
}

// Pack writes the contents of `rootfs` into the tarball `output`, entries
// being relative to the root (`./etc/hostname`). Ownership, permissions,
// links and devices are kept.
//
func Pack(ctx context.Context, logger lager.Logger, rootfs, output string) (err error) {
	sess := logger.Session("pack", lager.Data{"rootfs": rootfs, "output": output})

	sess.Info("start")
	defer sess.Info("finish")

	compressor, err := CompressorFor(output)
	if err != nil {
		return
	}

	absRootfs, err := filepath.Abs(rootfs)
	if err != nil {
		return
	}

	absOutput, err := filepath.Abs(output)
	if err != nil {
		return
	}

	if absOutput == absRootfs || strings.HasPrefix(absOutput, absRootfs+string(filepath.Separator)) {
		err = errors.Errorf("refusing to write %s inside the rootfs it archives", output)
		return
	}

	partial := output + ".partial"

	f, err := os.Create(partial)
	if err != nil {
		err = errors.Wrapf(err, "failed creating %s", partial)
		return
	}

	err = Write(ctx, f, rootfs, compressor)
	if err != nil {
		f.Close()
		os.Remove(partial)
		return
	}

	err = f.Close()
	if err != nil {
		os.Remove(partial)
		return
	}

	err = os.Rename(partial, output)
	if err != nil {
		err = errors.Wrapf(err, "failed moving %s into place", output)
		return
	}

	return
}

// Write streams the tarball of `rootfs` through `compressor` into `w`.
//
func Write(ctx context.Context, w io.Writer, rootfs string, compressor Compressor) (err error) {
	var eg *errgroup.Group

	eg, ctx = errgroup.WithContext(ctx)
	pr, pw := io.Pipe()

	eg.Go(func() error {
		err := writeTar(ctx, pw, rootfs)
		pw.CloseWithError(err)
		return err
	})

	eg.Go(func() error {
		err := compressor.Compress(pr, w)
		pr.CloseWithError(err)
		return err
	})

	err = eg.Wait()
	if err != nil {
		err = errors.Wrapf(err, "failed archiving %s", rootfs)
		return
	}

	return
}

type inode struct {
	dev, ino uint64
}

func writeTar(ctx context.Context, w io.Writer, rootfs string) (err error) {
	var (
		tw    = tar.NewWriter(w)
		links = map[inode]string{}
	)

	err = filepath.Walk(rootfs, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(rootfs, path)
		if err != nil {
			return err
		}

		name := "./" + filepath.ToSlash(rel)
		if rel == "." {
			name = "./"
		}

		return writeEntry(tw, links, path, name, info)
	})
	if err != nil {
		return
	}

	err = tw.Close()
	return
}

func writeEntry(tw *tar.Writer, links map[inode]string, path, name string, info os.FileInfo) (err error) {
	var target string

	// tar has no representation for sockets
	if info.Mode()&os.ModeSocket != 0 {
		return
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err = os.Readlink(path)
		if err != nil {
			return
		}
	}

	header, err := tar.FileInfoHeader(info, target)
	if err != nil {
		err = errors.Wrapf(err, "failed creating header for %s", path)
		return
	}

	header.Name = name
	if info.IsDir() && !strings.HasSuffix(name, "/") {
		header.Name += "/"
	}

	if stat, ok := info.Sys().(*syscall.Stat_t); ok && info.Mode().IsRegular() && stat.Nlink > 1 {
		key := inode{dev: uint64(stat.Dev), ino: uint64(stat.Ino)}

		first, seen := links[key]
		if seen {
			header.Typeflag = tar.TypeLink
			header.Linkname = first
			header.Size = 0
		} else {
			links[key] = name
		}
	}

	err = tw.WriteHeader(header)
	if err != nil {
		err = errors.Wrapf(err, "failed writing header for %s", path)
		return
	}

	if header.Typeflag != tar.TypeReg {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		return
	}

	defer f.Close()

	_, err = io.Copy(tw, f)
	if err != nil {
		err = errors.Wrapf(err, "failed archiving contents of %s", path)
		return
	}

	return
}
