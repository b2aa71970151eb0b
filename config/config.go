package config

import (
	"github.com/cirocosta/rootstrap/chroot"
)

// Config represents everything there is to know to bootstrap a rootfs:
// where it goes, what it is made of, and how its packages get configured.
//
type Config struct {
	Rootfs       string `hcl:"rootfs,optional"`
	Architecture string `hcl:"architecture,optional"`

	// Suite is only used to pick defaults (e.g. the sources list) when
	// they are left out.
	//
	Suite string `hcl:"suite,optional"`

	// Chroot is the isolation mechanism used to run commands inside the
	// rootfs (`none`, `chroot`, `proot` or `uchroot`).
	//
	Chroot string `hcl:"chroot,optional"`

	QemuBinary string `hcl:"qemu_binary,optional"`

	// Binds are `host[:guest]` paths exposed inside the rootfs while
	// packages get configured.
	//
	Binds []string `hcl:"binds,optional"`

	// ExternalDebs are `.deb` files unpacked and configured along with
	// the ones apt downloads.
	//
	ExternalDebs []string `hcl:"external_debs,optional"`

	// PackageCache is a host directory shown at `/opt/wheelhouse` where
	// pip wheels are built and installed from.
	//
	PackageCache string   `hcl:"package_cache,optional"`
	PipPackages  []string `hcl:"pip_packages,optional"`

	DpkgConfigureRetryCount *int   `hcl:"dpkg_configure_retry_count,optional"`
	Timezone                string `hcl:"timezone,optional"`

	// TerminateAfter stops the bootstrap once the named stage is done.
	//
	TerminateAfter string `hcl:"terminate_after,optional"`

	Apt     *Apt     `hcl:"apt,block"`
	Uchroot *Uchroot `hcl:"uchroot,block"`
	Keys    []AptKey `hcl:"key,block"`
}

// Apt configures how packages are selected and retrieved.
//
type Apt struct {
	Packages []string `hcl:"packages,optional"`

	// IncludeEssential adds every package marked `Essential: yes`.
	//
	IncludeEssential bool `hcl:"include_essential,optional"`

	// IncludePriorities adds every package of the given priorities.
	//
	IncludePriorities []string `hcl:"include_priorities,optional"`

	// Sources is the content of the sources list used while
	// bootstrapping. It gets removed once packages are unpacked.
	//
	Sources string `hcl:"sources,optional"`

	HTTPProxy  string `hcl:"http_proxy,optional"`
	SkipUpdate bool   `hcl:"skip_update,optional"`

	// Clean removes downloaded archives once they are configured.
	//
	Clean bool `hcl:"clean,optional"`

	// SizeReport is where to write the report of unpacked packages to,
	// its format being inferred from the extension.
	//
	SizeReport string `hcl:"size_report,optional"`
}

// Uchroot configures the host ids that root inside the rootfs maps to.
//
type Uchroot struct {
	UIDRange *chroot.Range `hcl:"uid_range,block"`
	GIDRange *chroot.Range `hcl:"gid_range,block"`
}

// AptKey is a public key that apt must trust, either retrieved from `uri`
// or published by the local repository at `local_repo`.
//
// Example:
//
// ```
// key "nvidia.gpg" {
//   uri = "https://developer.download.nvidia.com/compute/cuda/repos/ubuntu1604/x86_64/7fa2af80.pub"
// }
// ```
//
type AptKey struct {
	Name string `hcl:"name,label"`

	Uri       string `hcl:"uri,optional"`
	LocalRepo string `hcl:"local_repo,optional"`
}
