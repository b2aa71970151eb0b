package dpkg

import (
	"bufio"
	"context"
	"crypto/md5"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"code.cloudfoundry.org/lager"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const ListsDir = "var/lib/apt/lists"

// AptDebLocation is an archive that apt would download, as reported by
// `apt-get --print-uris`.
//
type AptDebLocation struct {
	URI    string `yaml:"uri"`
	Name   string `yaml:"name"`
	Size   string `yaml:"size"`
	Digest string `yaml:"digest"`
}

// AptGet runs `apt-get` against the apt configuration and state that live
// inside a rootfs rather than the host's.
//
type AptGet struct {
	Architecture string
	Rootfs       string

	// HTTPProxy, when set, is used for http acquisitions (e.g. a local
	// apt-cacher-ng).
	//
	HTTPProxy string

	Logger lager.Logger
}

// Args is the base command line, without any apt-get subcommand.
//
func (a AptGet) Args() []string {
	root := a.Rootfs

	args := []string{
		"apt-get",
		"-o", "Apt::Architecture=" + a.Architecture,
		"-o", "Dir::Etc::TrustedParts=" + root + "/etc/apt/trusted.gpg.d",
		"-o", "Dir::Etc::Trusted=" + root + "/etc/apt/trusted.gpg",
		"-o", "Apt::Get::Download-Only=true",
		"-o", "Apt::Install-Recommends=false",
		"-o", "Dir=" + root + "/",
		"-o", "Dir::Etc=" + root + "/etc/apt/",
		"-o", "Dir::Etc::Parts=" + root + "/etc/apt/apt.conf.d/",
		"-o", "Dir::Etc::PreferencesParts=" + root + "/etc/apt/preferences.d/",
		"-o", "APT::Default-Release=*",
		"-o", "Dir::State=" + root + "/var/lib/apt/",
		"-o", "Dir::State::Status=" + root + "/var/lib/dpkg/status",
		"-o", "Dir::Cache=" + root + "/var/cache/apt/",
		"-o", "Acquire::Source-Symlinks=false",
	}

	if a.HTTPProxy != "" {
		args = append(args,
			"-o", "Acquire::http::Proxy="+a.HTTPProxy,
			"-o", "Acquire::http::Proxy::download.oracle.com=DIRECT",
			"-o", "Acquire::https::Proxy=false",
		)
	}

	return args
}

func (a AptGet) run(ctx context.Context, args ...string) (out []byte, err error) {
	argv := append(a.Args(), args...)

	out, err = runCommand(ctx, a.Logger, nil, argv[0], argv[1:]...)
	return
}

// Update refreshes the package lists of the rootfs.
//
func (a AptGet) Update(ctx context.Context) (err error) {
	sess := a.Logger.Session("apt-update")

	sess.Info("start")
	defer sess.Info("finish")

	_, err = a.run(ctx, "update")
	if err != nil {
		err = errors.Wrapf(err, "failed updating package lists")
		return
	}

	return
}

// Install downloads `packages` and their dependencies into the archive
// cache of the rootfs. Nothing gets installed.
//
func (a AptGet) Install(ctx context.Context, packages []string) (err error) {
	sess := a.Logger.Session("apt-install", lager.Data{"packages": len(packages)})

	sess.Info("start")
	defer sess.Info("finish")

	args := append([]string{
		"-y",
		"--allow-downgrades",
		"--allow-remove-essential",
		"--allow-change-held-packages",
		"install",
	}, packages...)

	_, err = a.run(ctx, args...)
	if err != nil {
		err = errors.Wrapf(err, "failed downloading packages %v", packages)
		return
	}

	return
}

// Fetch resolves the archives that `Install` would download and downloads
// them concurrently over http into the archive cache of the rootfs.
//
func (a AptGet) Fetch(ctx context.Context, packages []string) (locations []AptDebLocation, err error) {
	sess := a.Logger.Session("apt-fetch", lager.Data{"packages": len(packages)})

	sess.Info("start")
	defer sess.Info("finish")

	out, err := a.run(ctx, append([]string{
		"--print-uris",
		"--no-install-recommends",
		"--no-install-suggests",
		"-y",
		"install"},
		packages...)...)
	if err != nil {
		err = errors.Wrapf(err, "failed to retrieve uris for packages %v", packages)
		return
	}

	locations, err = ScanAptDebLocations(strings.NewReader(string(out)))
	if err != nil {
		err = errors.Wrapf(err, "failed to scan packages uris")
		return
	}

	err = downloadDebianPackages(ctx, sess,
		filepath.Join(a.Rootfs, ArchivesDir), locations)
	return
}

// Clean drops the downloaded archives from the rootfs.
//
func (a AptGet) Clean(ctx context.Context) (err error) {
	_, err = a.run(ctx, "clean")
	if err != nil {
		err = errors.Wrapf(err, "failed cleaning apt cache")
		return
	}

	dir := filepath.Join(a.Rootfs, ArchivesDir)

	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		err = errors.Wrapf(err, "failed listing %s", dir)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		err = os.Remove(filepath.Join(dir, entry.Name()))
		if err != nil {
			err = errors.Wrapf(err, "failed removing %s", entry.Name())
			return
		}
	}

	return
}

func downloadDebianPackages(ctx context.Context, logger lager.Logger, dir string, locations []AptDebLocation) (err error) {
	var (
		eg *errgroup.Group
	)

	err = os.MkdirAll(dir, 0755)
	if err != nil {
		err = errors.Wrapf(err, "failed creating %s", dir)
		return
	}

	eg, ctx = errgroup.WithContext(ctx)

	for _, location := range locations {
		location := location

		eg.Go(func() error {
			return downloadDebianPackage(ctx, logger, dir, location)
		})
	}

	err = eg.Wait()
	if err != nil {
		err = errors.Wrapf(err,
			"failed during debian packages retrieval")
		return
	}

	return
}

func downloadDebianPackage(ctx context.Context, logger lager.Logger, dir string, location AptDebLocation) (err error) {
	sess := logger.Session("download-debian-package", lager.Data{"name": location.Name})

	sess.Debug("start")
	defer sess.Debug("finish")

	verifier, err := NewAptVerifier(location.Digest)
	if err != nil {
		err = errors.Wrapf(err, "can't verify debian package %s", location.Name)
		return
	}

	req, err := http.NewRequest("GET", location.URI, nil)
	if err != nil {
		err = errors.Wrapf(err,
			"failed creating request to retrieve debian package '%s' at '%s'",
			location.Name, location.URI)
		return
	}

	req = req.WithContext(ctx)

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		err = errors.Wrapf(err,
			"failed to submit request to retrieve deb package at %s", location.URI)
		return
	}

	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		err = errors.Errorf("unexpected status %d retrieving %s",
			res.StatusCode, location.URI)
		return
	}

	dest := filepath.Join(dir, location.Name)
	partial := dest + ".partial"

	out, err := os.Create(partial)
	if err != nil {
		err = errors.Wrapf(err,
			"failed creating destination for debian package %s", location.Name)
		return
	}

	_, err = io.Copy(io.MultiWriter(out, verifier), res.Body)
	if err != nil {
		out.Close()
		os.Remove(partial)
		err = errors.Wrapf(err,
			"failed to write body to file '%s' from request to '%s'",
			location.Name, location.URI)
		return
	}

	err = out.Close()
	if err != nil {
		os.Remove(partial)
		return
	}

	if !verifier.Verified() {
		os.Remove(partial)
		err = &DigestMismatchError{URI: location.URI, Checksum: location.Digest}
		return
	}

	err = os.Rename(partial, dest)
	return
}

// NewAptVerifier verifies content against one of the `<Algorithm>:<hex>`
// checksums that apt prints: SHA256 or SHA512 from current indexes, MD5Sum
// from older ones.
//
func NewAptVerifier(checksum string) (verifier digest.Verifier, err error) {
	sep := strings.Index(checksum, ":")
	if sep <= 0 {
		err = errors.Errorf("malformed checksum `%s`", checksum)
		return
	}

	algorithm, encoded := strings.ToLower(checksum[:sep]), strings.ToLower(checksum[sep+1:])

	if algorithm == "md5sum" {
		verifier = md5Verifier{Hash: md5.New(), expected: encoded}
		return
	}

	dgst := digest.Digest(algorithm + ":" + encoded)

	err = dgst.Validate()
	if err != nil {
		err = errors.Wrapf(err, "unusable checksum `%s`", checksum)
		return
	}

	verifier = dgst.Verifier()
	return
}

type md5Verifier struct {
	hash.Hash
	expected string
}

func (v md5Verifier) Verified() bool {
	return hex.EncodeToString(v.Sum(nil)) == v.expected
}

// ScanAptDebLocations parses the output of `apt-get --print-uris`.
//
func ScanAptDebLocations(reader io.Reader) (locations []AptDebLocation, err error) {
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, `'http`) {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 4 {
			err = errors.Errorf("malformed line `%s`", line)
			return
		}

		locations = append(locations, AptDebLocation{
			URI:    strings.Trim(fields[0], "'"),
			Name:   fields[1],
			Size:   fields[2],
			Digest: fields[3],
		})
	}

	return
}

// DefaultPackages goes through the package lists of the rootfs and picks the
// packages that are essential (when `essential` is set) or whose priority is
// one of `priorities`.
//
func DefaultPackages(rootfs string, essential bool, priorities []Priority) (packages []string, err error) {
	lists, err := filepath.Glob(filepath.Join(rootfs, ListsDir, "*_Packages"))
	if err != nil {
		err = errors.Wrapf(err, "failed listing package lists")
		return
	}

	wanted := map[Priority]bool{}
	for _, priority := range priorities {
		wanted[priority] = true
	}

	set := map[string]bool{}

	for _, list := range lists {
		var records []Record

		records, err = ScanFile(list)
		if err != nil {
			return
		}

		for _, record := range records {
			if essential && record.Has(FieldEssential) {
				set[record.Value(FieldPackage)] = true
				continue
			}

			priority, found := record.Get(FieldPriority)
			if found && wanted[Priority(priority)] {
				set[record.Value(FieldPackage)] = true
			}
		}
	}

	for name := range set {
		packages = append(packages, name)
	}

	sort.Strings(packages)
	return
}

const bootstrapSources = `# these sources are only used to bootstrap the rootfs and are removed
# once the initial packages are installed.

deb [arch=%[1]s] %[2]s %[3]s main universe multiverse
deb [arch=%[1]s] %[2]s %[3]s-updates main universe multiverse
`

// BootstrapSources renders the default apt sources used while building a
// rootfs of the given architecture and suite.
//
func BootstrapSources(arch, suite string) (sources string, err error) {
	var (
		mirror   string
		archList = arch
	)

	switch arch {
	case "armhf", "arm64":
		mirror = "http://ports.ubuntu.com/ubuntu-ports"
	case "amd64":
		mirror = "http://archive.ubuntu.com/ubuntu"
		archList = "amd64,i386"
	default:
		err = errors.Errorf("unexpected architecture `%s`", arch)
		return
	}

	sources = fmt.Sprintf(bootstrapSources, archList, mirror, suite)
	return
}
