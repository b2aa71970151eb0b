package osrelease

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
)

type OsRelease struct {
	OS       string `yaml:"os" json:"os"`
	Version  string `yaml:"version" json:"version"`
	Codename string `yaml:"codename" json:"codename"`
}

// candidates are tried in order, as `os-release(5)` prescribes.
//
var candidates = []string{"etc/os-release", "usr/lib/os-release"}

// GatherOsRelease reads the identification of the operating system laid
// out at `rootfs`.
//
func GatherOsRelease(rootfs string) (info OsRelease, err error) {
	var f *os.File

	for _, candidate := range candidates {
		var path string

		// etc/os-release is usually a relative link to ../usr/lib
		path, err = securejoin.SecureJoin(rootfs, candidate)
		if err != nil {
			return
		}

		f, err = os.Open(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		err = errors.Wrapf(err,
			"failed to open `os-release` under %s", filepath.Clean(rootfs))
		return
	}

	defer f.Close()

	info = ScanInfo(f)

	return
}

func ScanInfo(reader io.Reader) (info OsRelease) {
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.SplitN(line, "=", 2)
		if len(fields) != 2 {
			continue
		}

		k, v := fields[0], fields[1]
		v = strings.Trim(v, `"'`)

		switch k {
		case "ID":
			info.OS = v
		case "VERSION_ID":
			info.Version = v
		case "VERSION_CODENAME", "UBUNTU_CODENAME":
			if info.Codename == "" {
				info.Codename = v
			}
		}
	}

	return
}
