package dpkg

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"code.cloudfoundry.org/lager"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const ArchivesDir = "var/cache/apt/archives"

// PackageSize describes how much an unpacked archive weights, both packed
// and installed.
//
type PackageSize struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`

	// PackedSize is the size of the `.deb` in bytes.
	//
	PackedSize int64 `yaml:"packed_size" json:"packed_size"`

	// InstalledSize is the size declared by the archive, in KiB.
	//
	InstalledSize int64 `yaml:"installed_size" json:"installed_size"`

	Description *string       `yaml:"description" json:"description"`
	Digest      digest.Digest `yaml:"digest" json:"digest"`
}

const defaultProgressWidth = 80

// Progress renders a single, constantly rewritten, line telling how far the
// unpacking is.
//
type Progress struct {
	Writer io.Writer

	// Width is the number of columns available; 0 means unknown.
	//
	Width int
}

func (p Progress) Update(done, total int, name string) {
	if p.Writer == nil {
		return
	}

	percent := 100.0
	if total > 0 {
		percent = 100.0 * float64(done) / float64(total)
	}

	width := p.Width
	if width <= 0 {
		width = defaultProgressWidth
	}

	// padded to the full width so that a shorter line covers a longer one
	line := fmt.Sprintf("Unpacking [%6.2f%%]:%s", percent, name)
	line = fmt.Sprintf("%-*s", width-1, line)[:width-1]

	fmt.Fprint(p.Writer, "\r"+line)
}

func (p Progress) Done() {
	if p.Writer == nil {
		return
	}

	fmt.Fprintln(p.Writer)
}

// UnpackPass goes over a set of archives: obsolete duplicates are filtered
// out and the remaining archives are extracted one after the other.
//
type UnpackPass struct {
	Extractor Extractor
	Progress  Progress
	Logger    lager.Logger
}

// Run unpacks `archives` onto `rootfs`, returning the sizes of what was
// unpacked, in the order extraction happened.
//
func (p UnpackPass) Run(ctx context.Context, rootfs string, archives []string) (sizes []PackageSize, err error) {
	sess := p.Logger.Session("unpack", lager.Data{"rootfs": rootfs})

	sess.Info("start")
	defer sess.Info("finish")

	filter := Filter{Describer: p.Extractor.Describer, Logger: sess}

	debs, err := filter.Filter(archives)
	if err != nil {
		err = errors.Wrapf(err, "failed filtering obsolete packages")
		return
	}

	db, err := OpenStatusDatabase(rootfs)
	if err != nil {
		return
	}

	defer db.Close()

	extractor := p.Extractor
	extractor.Logger = sess

	for idx, deb := range debs {
		var (
			pkg  PackageArchive
			size PackageSize
		)

		pkg, err = ReadPackageArchive(p.Extractor.Describer, deb)
		if err != nil {
			return
		}

		p.Progress.Update(idx+1, len(debs), pkg.Name)

		size, err = sizeOf(pkg)
		if err != nil {
			return
		}

		err = extractor.Extract(ctx, db, deb)
		if err != nil {
			err = errors.Wrapf(err, "failed extracting %s", deb)
			return
		}

		sizes = append(sizes, size)
	}

	p.Progress.Update(len(debs), len(debs), "")
	p.Progress.Done()

	err = db.Close()
	if err != nil {
		err = errors.Wrapf(err, "failed closing status database")
		return
	}

	return
}

// MeasureArchives reports the sizes of the archives an unpack pass would
// extract, without extracting anything. Archives are described
// concurrently; the result is ordered by package name.
//
func MeasureArchives(ctx context.Context, logger lager.Logger, describer Describer, archives []string) (sizes []PackageSize, err error) {
	var eg *errgroup.Group

	sess := logger.Session("measure", lager.Data{"archives": len(archives)})

	sess.Info("start")
	defer sess.Info("finish")

	debs, err := Filter{Describer: describer, Logger: sess}.Filter(archives)
	if err != nil {
		err = errors.Wrapf(err, "failed filtering obsolete packages")
		return
	}

	eg, ctx = errgroup.WithContext(ctx)
	sizes = make([]PackageSize, len(debs))

	for idx, deb := range debs {
		idx, deb := idx, deb

		eg.Go(func() (err error) {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			pkg, err := ReadPackageArchive(describer, deb)
			if err != nil {
				return
			}

			sizes[idx], err = sizeOf(pkg)
			return
		})
	}

	err = eg.Wait()
	if err != nil {
		sizes = nil
		err = errors.Wrapf(err, "failed measuring archives")
		return
	}

	return
}

func sizeOf(pkg PackageArchive) (size PackageSize, err error) {
	file, err := os.Open(pkg.Path)
	if err != nil {
		err = errors.Wrapf(err, "failed opening %s", pkg.Path)
		return
	}

	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		err = errors.Wrapf(err, "failed to stat %s", pkg.Path)
		return
	}

	dgst, err := digest.FromReader(file)
	if err != nil {
		err = errors.Wrapf(err, "failed computing digest of %s", pkg.Path)
		return
	}

	size = PackageSize{
		Name:          pkg.Name,
		Version:       pkg.Version,
		PackedSize:    info.Size(),
		InstalledSize: pkg.InstalledSize,
		Description:   pkg.Description,
		Digest:        dgst,
	}

	return
}

// CollectArchives lists the archives downloaded into the apt cache of
// `rootfs` followed by the extra archives supplied by the caller.
//
func CollectArchives(rootfs string, extra []string) (archives []string, err error) {
	archives, err = filepath.Glob(filepath.Join(rootfs, ArchivesDir, "*.deb"))
	if err != nil {
		err = errors.Wrapf(err, "failed listing cached archives")
		return
	}

	sort.Strings(archives)

	for _, deb := range extra {
		var abs string

		abs, err = filepath.Abs(deb)
		if err != nil {
			err = errors.Wrapf(err, "failed resolving %s", deb)
			return
		}

		archives = append(archives, abs)
	}

	return
}
