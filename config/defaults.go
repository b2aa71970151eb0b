package config

import (
	"runtime"

	"github.com/cirocosta/rootstrap/chroot"
	"github.com/cirocosta/rootstrap/dpkg"
	"github.com/cirocosta/rootstrap/osrelease"
	"github.com/pkg/errors"
)

var (
	DefaultBinds = []string{"/dev/urandom", "/etc/resolv.conf"}

	DefaultPriorities = []string{
		string(dpkg.PriorityRequired),
		string(dpkg.PriorityImportant),
		string(dpkg.PriorityStandard),
	}

	DefaultDpkgConfigureRetryCount = 1
)

// Stages a bootstrap can be told to terminate after.
//
var Stages = []string{
	"apt-update", "apt-download", "size-report", "dpkg-extract", "dpkg-configure",
}

// hostArchitectures maps Go's names for architectures to dpkg's.
//
var hostArchitectures = map[string]string{
	"amd64": "amd64",
	"arm64": "arm64",
	"arm":   "armhf",
	"386":   "i386",
}

// HostSuite is the codename of the distribution running on the host.
//
var HostSuite = func() (suite string, err error) {
	info, err := osrelease.GatherOsRelease("/")
	if err != nil {
		return
	}

	suite = info.Codename
	if suite == "" {
		err = errors.Errorf("host os-release carries no codename")
		return
	}

	return
}

// ApplyDefaults fills in everything left out, then checks that what was
// given makes sense.
//
func (c *Config) ApplyDefaults() (err error) {
	if c.Rootfs == "" {
		c.Rootfs = "."
	}

	if c.Architecture == "" {
		var ok bool

		c.Architecture, ok = hostArchitectures[runtime.GOARCH]
		if !ok {
			err = errors.Errorf("no dpkg architecture known for %s", runtime.GOARCH)
			return
		}
	}

	if c.Suite == "" {
		c.Suite, err = HostSuite()
		if err != nil {
			err = errors.Wrapf(err, "failed guessing suite from the host")
			return
		}
	}

	if c.Chroot == "" {
		c.Chroot = string(chroot.TypeUchroot)
	}

	_, err = chroot.ParseType(c.Chroot)
	if err != nil {
		return
	}

	if c.Binds == nil {
		c.Binds = DefaultBinds
	}

	_, err = chroot.ParseBinds(c.Binds)
	if err != nil {
		return
	}

	if c.DpkgConfigureRetryCount == nil {
		retries := DefaultDpkgConfigureRetryCount
		c.DpkgConfigureRetryCount = &retries
	}

	if *c.DpkgConfigureRetryCount < 0 {
		err = errors.Errorf("dpkg_configure_retry_count must not be negative")
		return
	}

	if c.TerminateAfter != "" && !contains(Stages, c.TerminateAfter) {
		err = errors.Errorf("unknown stage `%s` to terminate after", c.TerminateAfter)
		return
	}

	if c.Apt == nil {
		c.Apt = new(Apt)
	}

	if c.Apt.IncludePriorities == nil {
		c.Apt.IncludePriorities = DefaultPriorities
	}

	for _, priority := range c.Apt.IncludePriorities {
		if !contains(DefaultPriorities, priority) {
			err = errors.Errorf("unknown priority `%s`", priority)
			return
		}
	}

	if c.Apt.Sources == "" {
		c.Apt.Sources, err = dpkg.BootstrapSources(c.Architecture, c.Suite)
		if err != nil {
			return
		}
	}

	if c.Uchroot == nil {
		c.Uchroot = new(Uchroot)
	}

	if c.Uchroot.UIDRange == nil {
		uids := chroot.DefaultRange
		c.Uchroot.UIDRange = &uids
	}

	if c.Uchroot.GIDRange == nil {
		gids := chroot.DefaultRange
		c.Uchroot.GIDRange = &gids
	}

	for _, key := range c.Keys {
		if (key.Uri == "") == (key.LocalRepo == "") {
			err = errors.Errorf("key `%s` must set exactly one of `uri` or `local_repo`", key.Name)
			return
		}
	}

	return
}

// Priorities converts the configured priorities into dpkg's.
//
func (a Apt) Priorities() (priorities []dpkg.Priority) {
	for _, priority := range a.IncludePriorities {
		priorities = append(priorities, dpkg.Priority(priority))
	}

	return
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}

	return false
}
