package chroot

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Bind exposes `Host` (a path on the host) at `Guest` (a path relative to
// the root of the rootfs).
//
type Bind struct {
	Host  string
	Guest string
}

// ParseBind interprets `host` or `host:guest`.
//
func ParseBind(spec string) (bind Bind, err error) {
	if spec == "" {
		err = errors.Errorf("empty bind specification")
		return
	}

	parts := strings.SplitN(spec, ":", 2)

	bind.Host = parts[0]
	bind.Guest = parts[0]
	if len(parts) == 2 {
		bind.Guest = parts[1]
	}

	if bind.Host == "" || bind.Guest == "" {
		err = errors.Errorf("malformed bind specification `%s`", spec)
		return
	}

	bind.Guest = strings.TrimLeft(bind.Guest, "/")
	return
}

func ParseBinds(specs []string) (binds []Bind, err error) {
	for _, spec := range specs {
		var bind Bind

		bind, err = ParseBind(spec)
		if err != nil {
			return
		}

		binds = append(binds, bind)
	}

	return
}

func (b Bind) String() string {
	return b.Host + ":/" + b.Guest
}

// binds gathers every bind a session is configured with: the user-provided
// ones, the emulation binary (for backends that need it copied in) and the
// package cache. Host paths are resolved to their real location.
//
func (cfg Config) binds(withEmulator bool) (binds []Bind, err error) {
	all := append([]Bind(nil), cfg.Binds...)

	if withEmulator && cfg.EmulationBinary != "" {
		all = append(all, Bind{
			Host:  cfg.EmulationBinary,
			Guest: strings.TrimLeft(cfg.EmulationBinary, "/"),
		})
	}

	if cfg.PackageCache != "" {
		all = append(all, Bind{
			Host:  cfg.PackageCache,
			Guest: WheelhouseGuestPath,
		})
	}

	for _, bind := range all {
		var host string

		host, err = filepath.EvalSymlinks(bind.Host)
		if err != nil {
			err = errors.Wrapf(err, "failed resolving bind source %s", bind.Host)
			return
		}

		host, err = filepath.Abs(host)
		if err != nil {
			err = errors.Wrapf(err, "failed making %s absolute", host)
			return
		}

		binds = append(binds, Bind{
			Host:  host,
			Guest: strings.TrimLeft(bind.Guest, "/"),
		})
	}

	return
}
