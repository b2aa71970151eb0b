package dpkg

import (
	"archive/tar"
	"io"
	"io/ioutil"
	"os"
	"path"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

const (
	MemberControl = "control.tar"
	MemberData    = "data.tar"
)

// WalkFunc is called for every entry of a tarball member of a debian
// archive. `content` is only valid during the call.
//
type WalkFunc func(header *tar.Header, content io.Reader) error

// WalkMember iterates over the entries of the tarball member of the archive
// at `archive` whose name starts with `member` (e.g. `data.tar`), whatever
// the compression used.
//
func WalkMember(archive, member string, fn WalkFunc) (err error) {
	file, err := os.Open(archive)
	if err != nil {
		err = errors.Wrapf(err, "failed to open archive %s", archive)
		return
	}

	defer file.Close()

	reader := ar.NewReader(file)

	for {
		var header *ar.Header

		header, err = reader.Next()
		if err == io.EOF {
			err = errors.Errorf("archive %s has no %s member", archive, member)
			return
		}

		if err != nil {
			err = errors.Wrapf(err, "failed reading ar header from %s", archive)
			return
		}

		name := strings.TrimSuffix(strings.TrimSpace(header.Name), "/")
		if !strings.HasPrefix(name, member) {
			continue
		}

		err = walkTarball(name, reader, fn)
		if err != nil {
			err = errors.Wrapf(err, "failed walking member %s of %s", name, archive)
			return
		}

		return
	}
}

func walkTarball(name string, r io.Reader, fn WalkFunc) (err error) {
	decompressed, err := decompress(name, r)
	if err != nil {
		return
	}

	defer decompressed.Close()

	reader := tar.NewReader(decompressed)

	for {
		var header *tar.Header

		header, err = reader.Next()
		if err == io.EOF {
			err = nil
			return
		}

		if err != nil {
			err = errors.Wrapf(err, "failed reading tar header")
			return
		}

		err = fn(header, reader)
		if err != nil {
			return
		}
	}
}

// decompress picks a decompressor based on the extension of the member
// name.
//
func decompress(name string, r io.Reader) (rc io.ReadCloser, err error) {
	switch path.Ext(name) {
	case ".gz":
		rc, err = gzip.NewReader(r)
	case ".xz":
		var xzr *xz.Reader

		xzr, err = xz.NewReader(r)
		rc = ioutil.NopCloser(xzr)
	case ".lzma":
		var lzr *lzma.Reader

		lzr, err = lzma.NewReader(r)
		rc = ioutil.NopCloser(lzr)
	case ".zst":
		var zr *zstd.Decoder

		zr, err = zstd.NewReader(r)
		if err == nil {
			rc = zr.IOReadCloser()
		}
	case ".bz2":
		rc, err = bzip2.NewReader(r, nil)
	case ".tar":
		rc = ioutil.NopCloser(r)
	default:
		err = errors.Errorf("unsupported compression for member %s", name)
	}

	if err != nil {
		err = errors.Wrapf(err, "failed setting up decompression of %s", name)
	}

	return
}

// ReadControl parses the `control` file of the archive.
//
func ReadControl(archive string) (control Record, err error) {
	found := false

	err = WalkMember(archive, MemberControl, func(header *tar.Header, content io.Reader) (err error) {
		if memberPath(header.Name) != "control" {
			return
		}

		found = true
		control, _, err = NewNamedScanner(content, archive+":control").Scan()
		return
	})
	if err != nil {
		return
	}

	if !found {
		err = errors.Errorf("archive %s carries no control file", archive)
		return
	}

	return
}

// memberPath normalizes a tar entry name (`./usr/bin/`, `usr/bin`) into a
// path relative to the root of the member (`usr/bin`). The root itself maps
// to an empty string.
//
func memberPath(name string) string {
	cleaned := path.Clean("/" + name)
	return strings.TrimPrefix(cleaned, "/")
}
