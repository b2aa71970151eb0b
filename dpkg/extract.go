package dpkg

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"code.cloudfoundry.org/lager"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
)

// Extractor performs the "unpack" phase of a package installation: the data
// member is laid onto the rootfs and the status database is told about it,
// but no maintainer script is executed.
//
// Extracting the same archive twice appends duplicate records to the
// database.
//
type Extractor struct {
	Describer Describer
	Unpacker  Unpacker
	Logger    lager.Logger
}

// NewExtractor builds an Extractor that either works in-process
// (`native`) or goes through `dpkg` and `dpkg-deb`.
//
func NewExtractor(logger lager.Logger, native bool) Extractor {
	if native {
		return Extractor{Describer: ArchiveDescriber{}, Unpacker: NativeUnpacker{}, Logger: logger}
	}

	return Extractor{
		Describer: DpkgDescriber{Logger: logger},
		Unpacker:  DpkgUnpacker{Logger: logger},
		Logger:    logger,
	}
}

// Extract unpacks `archive` onto the rootfs that `db` belongs to.
//
func (e Extractor) Extract(ctx context.Context, db *StatusDatabase, archive string) (err error) {
	sess := e.Logger.Session("extract", lager.Data{"archive": archive})

	sess.Debug("start")
	defer sess.Debug("finish")

	values, err := e.Describer.Describe(archive, FieldPackage)
	if err != nil {
		err = errors.Wrapf(err, "failed retrieving package name of %s", archive)
		return
	}

	pkg := values[0]
	if pkg == "" {
		err = &ExtractionError{
			Archive:    archive,
			ExitStatus: -1,
			Err:        errors.New("archive declares no package name"),
		}
		return
	}

	manifest, err := e.Unpacker.UnpackData(ctx, archive, db.root)
	if err != nil {
		return
	}

	err = db.WriteList(pkg, manifest)
	if err != nil {
		return
	}

	scratch, err := ioutil.TempDir("", "rootstrap-control")
	if err != nil {
		err = errors.Wrapf(err, "failed creating scratch dir for control of %s", archive)
		return
	}

	defer os.RemoveAll(scratch)

	err = e.Unpacker.UnpackControl(ctx, archive, scratch)
	if err != nil {
		return
	}

	err = fileControlMembers(db, pkg, scratch)
	if err != nil {
		err = errors.Wrapf(err, "failed registering control members of %s", archive)
		return
	}

	return
}

// fileControlMembers goes through the extracted control member: the control
// file feeds the database, conffiles get their digests computed, and every
// member other than `control` is kept as `info/<pkg>.<member>`.
//
func fileControlMembers(db *StatusDatabase, pkg, dir string) (err error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		err = errors.Wrapf(err, "failed listing %s", dir)
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var (
		conffiles  []Conffile
		hasControl bool
	)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		src := filepath.Join(dir, entry.Name())

		switch entry.Name() {
		case "control":
			hasControl = true
			continue
		case "conffiles":
			conffiles, err = digestConffiles(db.root, src)
			if err != nil {
				return
			}
		}

		err = db.InstallScript(pkg, entry.Name(), src)
		if err != nil {
			return
		}
	}

	if !hasControl {
		err = errors.Errorf("control member of %s has no control file", pkg)
		return
	}

	control, err := os.Open(filepath.Join(dir, "control"))
	if err != nil {
		err = errors.Wrapf(err, "failed opening control file")
		return
	}

	defer control.Close()

	err = db.AppendControl(control)
	if err != nil {
		return
	}

	err = db.CloseParagraph(conffiles)
	return
}

// digestConffiles computes the md5 of each file listed in a `conffiles`
// control member, as found under `root`.
//
func digestConffiles(root, listing string) (conffiles []Conffile, err error) {
	content, err := ioutil.ReadFile(listing)
	if err != nil {
		err = errors.Wrapf(err, "failed reading conffiles")
		return
	}

	for _, line := range strings.Split(string(content), "\n") {
		conffile := strings.TrimSpace(line)
		if conffile == "" {
			continue
		}

		// newer dpkg marks entries with flags, e.g. `remove-on-upgrade /etc/x`
		fields := strings.Fields(conffile)
		conffile = fields[len(fields)-1]

		var digest string

		digest, err = md5File(root, conffile)
		if err != nil {
			return
		}

		conffiles = append(conffiles, Conffile{Path: conffile, Digest: digest})
	}

	return
}

func md5File(root, conffile string) (digest string, err error) {
	path, err := securejoin.SecureJoin(root, conffile)
	if err != nil {
		err = errors.Wrapf(err, "failed resolving conffile %s", conffile)
		return
	}

	file, err := os.Open(path)
	if err != nil {
		err = errors.Wrapf(err, "failed opening conffile %s", conffile)
		return
	}

	defer file.Close()

	hash := md5.New()

	_, err = io.Copy(hash, file)
	if err != nil {
		err = errors.Wrapf(err, "failed hashing conffile %s", conffile)
		return
	}

	digest = hex.EncodeToString(hash.Sum(nil))
	return
}
