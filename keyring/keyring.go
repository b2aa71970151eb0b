// Package keyring manages the keys apt trusts inside a rootfs.
//
package keyring

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	gpg "golang.org/x/crypto/openpgp"
)

// TrustedDir is where apt looks for additional keyrings.
//
const TrustedDir = "etc/apt/trusted.gpg.d"

// LocalRepoKey is the file a local repository publishes its signing key
// in.
//
const LocalRepoKey = "GPGKEY"

type Key struct {
	// hex-encoded fingerprint of the public key.
	//
	Fingerprint string   `yaml:"fingerprint"`
	Identities  []string `yaml:"identities"`
}

func Path(rootfs, name string) string {
	return filepath.Join(rootfs, TrustedDir, name)
}

// Install adds the armored public keys read from `armored` to the keyring
// `name` of the rootfs, creating it if needed. Keys already there are kept.
//
func Install(rootfs, name string, armored io.Reader) (keys []Key, err error) {
	entities, err := gpg.ReadArmoredKeyRing(armored)
	if err != nil {
		err = errors.Wrapf(err, "failed parsing armored public keys")
		return
	}

	dest := Path(rootfs, name)

	existing, err := readKeyRing(dest)
	switch {
	case os.IsNotExist(errors.Cause(err)):
		err = nil
	case err != nil:
		return
	}

	merged := append(gpg.EntityList(nil), existing...)
	known := map[string]bool{}

	for _, entity := range existing {
		known[fingerprint(entity)] = true
	}

	for _, entity := range entities {
		if known[fingerprint(entity)] {
			continue
		}

		known[fingerprint(entity)] = true
		merged = append(merged, entity)
	}

	var buf bytes.Buffer

	for _, entity := range merged {
		err = entity.Serialize(&buf)
		if err != nil {
			err = errors.Wrapf(err, "failed serializing key %s", fingerprint(entity))
			return
		}
	}

	err = os.MkdirAll(filepath.Dir(dest), 0755)
	if err != nil {
		err = errors.Wrapf(err, "failed creating %s", filepath.Dir(dest))
		return
	}

	err = ioutil.WriteFile(dest, buf.Bytes(), 0644)
	if err != nil {
		err = errors.Wrapf(err, "failed writing keyring %s", dest)
		return
	}

	keys = describe(merged)
	return
}

// InstallLocalRepo trusts the key published by the local repository at
// `repoDir`.
//
func InstallLocalRepo(repoDir, rootfs, name string) (keys []Key, err error) {
	f, err := os.Open(filepath.Join(repoDir, LocalRepoKey))
	if err != nil {
		err = errors.Wrapf(err, "failed opening key of repository %s", repoDir)
		return
	}

	defer f.Close()

	keys, err = Install(rootfs, name, f)
	return
}

// List describes the keys of a binary keyring.
//
func List(path string) (keys []Key, err error) {
	entities, err := readKeyRing(path)
	if err != nil {
		return
	}

	keys = describe(entities)
	return
}

// Open retrieves a key either from an http(s) location or from the local
// filesystem.
//
func Open(ctx context.Context, location string) (rc io.ReadCloser, err error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		rc, err = os.Open(location)
		if err != nil {
			err = errors.Wrapf(err, "failed opening key %s", location)
		}

		return
	}

	req, err := http.NewRequest("GET", location, nil)
	if err != nil {
		err = errors.Wrapf(err, "failed creating request to retrieve key at %s", location)
		return
	}

	res, err := http.DefaultClient.Do(req.WithContext(ctx))
	if err != nil {
		err = errors.Wrapf(err, "failed to retrieve key at %s", location)
		return
	}

	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		err = errors.Errorf("unexpected status %d retrieving key at %s",
			res.StatusCode, location)
		return
	}

	rc = res.Body
	return
}

func readKeyRing(path string) (entities gpg.EntityList, err error) {
	f, err := os.Open(path)
	if err != nil {
		err = errors.Wrapf(err, "failed opening %s", path)
		return
	}

	defer f.Close()

	entities, err = gpg.ReadKeyRing(f)
	if err != nil {
		err = errors.Wrapf(err, "failed reading key ring from %s", path)
		return
	}

	return
}

func fingerprint(entity *gpg.Entity) string {
	return hex.EncodeToString(entity.PrimaryKey.Fingerprint[:])
}

func describe(entities gpg.EntityList) (keys []Key) {
	keys = make([]Key, len(entities))

	for idx, entity := range entities {
		keys[idx].Fingerprint = fingerprint(entity)

		for name := range entity.Identities {
			keys[idx].Identities = append(keys[idx].Identities, name)
		}

		sort.Strings(keys[idx].Identities)
	}

	return
}
