// Package bootstrap drives the whole construction of a rootfs, from an empty
// directory to one where every package is configured.
//
package bootstrap

import (
	"bytes"
	"context"
	"os"
	"sort"

	"code.cloudfoundry.org/lager"
	"github.com/cirocosta/rootstrap/bom"
	"github.com/cirocosta/rootstrap/chroot"
	"github.com/cirocosta/rootstrap/config"
	"github.com/cirocosta/rootstrap/dpkg"
	"github.com/cirocosta/rootstrap/keyring"
	"github.com/cirocosta/rootstrap/rootfs"
	"github.com/cirocosta/rootstrap/tweak"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Apt resolves and downloads packages into the archive cache of the rootfs.
//
type Apt interface {
	Update(ctx context.Context) (err error)
	Fetch(ctx context.Context, packages []string) (locations []dpkg.AptDebLocation, err error)
	Clean(ctx context.Context) (err error)
}

// ChrootFactory builds the backend used for configuring packages.
//
type ChrootFactory func(t chroot.Type, cfg chroot.Config, logger lager.Logger) (chroot.Chroot, error)

type Bootstrapper struct {
	Config    *config.Config
	Logger    lager.Logger
	Apt       Apt
	Extractor dpkg.Extractor
	Progress  dpkg.Progress
	NewChroot ChrootFactory

	// EUID is the effective user id of the process, which packages get
	// configured as unless a user namespace is involved.
	//
	EUID int
}

// New prepares a Bootstrapper for `cfg` (with defaults already applied).
// With `native`, archives are described and unpacked in-process rather
// than through `dpkg-deb`.
//
func New(cfg *config.Config, logger lager.Logger, native bool) (b Bootstrapper) {
	b = Bootstrapper{
		Config: cfg,
		Logger: logger,
		Apt: dpkg.AptGet{
			Architecture: cfg.Architecture,
			Rootfs:       cfg.Rootfs,
			HTTPProxy:    cfg.Apt.HTTPProxy,
			Logger:       logger,
		},
		Extractor: dpkg.NewExtractor(logger, native),
		NewChroot: func(t chroot.Type, cfg chroot.Config, logger lager.Logger) (chroot.Chroot, error) {
			return chroot.New(t, cfg, logger)
		},
		EUID: os.Geteuid(),
	}

	return
}

// Run builds the rootfs, stopping early if the configuration asks to
// terminate after a given stage.
//
func (b Bootstrapper) Run(ctx context.Context) (err error) {
	cfg := b.Config

	sess := b.Logger.Session("bootstrap", lager.Data{
		"rootfs":       cfg.Rootfs,
		"architecture": cfg.Architecture,
		"suite":        cfg.Suite,
	})

	sess.Info("start")
	defer sess.Info("finish")

	terminate := func(stage string) bool {
		if cfg.TerminateAfter != stage {
			return false
		}

		sess.Info("terminating", lager.Data{"after": stage})
		return true
	}

	err = os.MkdirAll(cfg.Rootfs, 0755)
	if err != nil {
		err = errors.Wrapf(err, "failed creating rootfs directory %s", cfg.Rootfs)
		return
	}

	lock, err := rootfs.Lock(cfg.Rootfs)
	if err != nil {
		return
	}

	defer lock.Unlock()

	err = rootfs.Initialize(cfg.Rootfs, cfg.Apt.Sources)
	if err != nil {
		return
	}

	err = b.installKeys(ctx, sess)
	if err != nil {
		return
	}

	if !cfg.Apt.SkipUpdate {
		err = b.Apt.Update(ctx)
		if err != nil {
			return
		}
	}

	if terminate("apt-update") {
		return
	}

	packages, err := b.packages()
	if err != nil {
		return
	}

	if len(packages) > 0 {
		_, err = b.Apt.Fetch(ctx, packages)
		if err != nil {
			return
		}
	}

	if terminate("apt-download") {
		return
	}

	archives, err := dpkg.CollectArchives(cfg.Rootfs, cfg.ExternalDebs)
	if err != nil {
		return
	}

	if cfg.Apt.SizeReport != "" {
		var sizes []dpkg.PackageSize

		sizes, err = dpkg.MeasureArchives(ctx, sess, b.Extractor.Describer, archives)
		if err != nil {
			return
		}

		err = bom.WriteSizeReport(cfg.Apt.SizeReport, sizes, bom.FormatFromPath(cfg.Apt.SizeReport))
		if err != nil {
			return
		}
	}

	if terminate("size-report") {
		return
	}

	_, err = dpkg.UnpackPass{
		Extractor: b.Extractor,
		Progress:  b.Progress,
		Logger:    sess,
	}.Run(ctx, cfg.Rootfs, archives)
	if err != nil {
		return
	}

	backend, _ := chroot.ParseType(cfg.Chroot)

	err = tweak.Tweaker{
		Logger:     sess,
		Privileged: b.EUID == 0 && backend != chroot.TypeUchroot,
	}.Tweak(ctx, cfg.Rootfs)
	if err != nil {
		return
	}

	if terminate("dpkg-extract") {
		return
	}

	err = b.configure(ctx, sess, backend)
	if err != nil {
		return
	}

	if terminate("dpkg-configure") {
		return
	}

	if cfg.Apt.Clean {
		err = b.Apt.Clean(ctx)
		if err != nil {
			return
		}
	}

	return
}

// packages is the sorted set of packages to download: the configured ones
// plus those selected by essentialness and priority.
//
func (b Bootstrapper) packages() (packages []string, err error) {
	cfg := b.Config

	defaults, err := dpkg.DefaultPackages(cfg.Rootfs, cfg.Apt.IncludeEssential, cfg.Apt.Priorities())
	if err != nil {
		err = errors.Wrapf(err, "failed selecting default packages")
		return
	}

	set := map[string]bool{}
	for _, pkg := range append(defaults, cfg.Apt.Packages...) {
		set[pkg] = true
	}

	if len(cfg.PipPackages) > 0 {
		set["python-pip"] = true
	}

	for pkg := range set {
		packages = append(packages, pkg)
	}

	sort.Strings(packages)
	return
}

// installKeys retrieves every remote key concurrently, then adds them (and
// the ones of local repositories) to the trusted keyrings of the rootfs.
//
func (b Bootstrapper) installKeys(ctx context.Context, logger lager.Logger) (err error) {
	var (
		keys    = b.Config.Keys
		fetched = make([][]byte, len(keys))
	)

	if len(keys) == 0 {
		return
	}

	sess := logger.Session("keys", lager.Data{"keys": len(keys)})

	sess.Info("start")
	defer sess.Info("finish")

	eg, egCtx := errgroup.WithContext(ctx)

	for idx, key := range keys {
		idx, key := idx, key
		if key.Uri == "" {
			continue
		}

		eg.Go(func() (err error) {
			fetched[idx], err = fetchKey(egCtx, key.Uri)
			return
		})
	}

	err = eg.Wait()
	if err != nil {
		err = errors.Wrapf(err, "failed retrieving public keys")
		return
	}

	for idx, key := range keys {
		var installed []keyring.Key

		if key.LocalRepo != "" {
			installed, err = keyring.InstallLocalRepo(key.LocalRepo, b.Config.Rootfs, key.Name)
		} else {
			installed, err = keyring.Install(b.Config.Rootfs, key.Name, bytes.NewReader(fetched[idx]))
		}

		if err != nil {
			return
		}

		sess.Info("installed", lager.Data{"name": key.Name, "keys": installed})
	}

	return
}

func (b Bootstrapper) configure(ctx context.Context, logger lager.Logger, backend chroot.Type) (err error) {
	cfg := b.Config

	if backend == chroot.TypeNone {
		logger.Info("skipping-configure")
		return
	}

	binds, err := chroot.ParseBinds(cfg.Binds)
	if err != nil {
		return
	}

	session, err := b.NewChroot(backend, chroot.Config{
		Rootfs:          cfg.Rootfs,
		Binds:           binds,
		EmulationBinary: cfg.QemuBinary,
		PackageCache:    cfg.PackageCache,
		UIDRange:        *cfg.Uchroot.UIDRange,
		GIDRange:        *cfg.Uchroot.GIDRange,
	}, logger)
	if err != nil {
		return
	}

	err = chroot.With(session, func(c chroot.Chroot) (err error) {
		err = rootfs.Configurer{
			Logger:   logger,
			Retries:  *cfg.DpkgConfigureRetryCount,
			Timezone: cfg.Timezone,
		}.Configure(ctx, c, cfg.Rootfs)
		if err != nil {
			return
		}

		err = rootfs.InstallPipPackages(ctx, c, cfg.Rootfs, cfg.PipPackages)
		return
	})

	return
}
