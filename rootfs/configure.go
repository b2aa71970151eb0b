package rootfs

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"code.cloudfoundry.org/lager"
	"github.com/cirocosta/rootstrap/chroot"
	"github.com/pkg/errors"
)

const (
	DefaultTimezone = "America/Los_Angeles"

	policyScriptPath = "usr/sbin/policy-rc.d"

	// policyScript keeps maintainer scripts from starting daemons.
	//
	policyScript = `#!/bin/sh
echo "All runlevel operations denied by policy" >&2
exit 101
`

	dashPreinst = "/var/lib/dpkg/info/dash.preinst"

	debconfSetSelections = "usr/bin/debconf-set-selections"

	dashSelection = "dash dash/sh boolean true\n"
)

// Configurer runs the configuration step of every unpacked package, from
// within the rootfs.
//
type Configurer struct {
	Logger lager.Logger

	// Retries is how many more times `dpkg --configure -a` is attempted
	// after a failure.
	//
	Retries int

	Timezone string
}

func (c Configurer) Configure(ctx context.Context, session chroot.Chroot, root string) (err error) {
	sess := c.Logger.Session("configure", lager.Data{"rootfs": root})

	sess.Info("start")
	defer sess.Info("finish")

	if exists(filepath.Join(root, dashPreinst)) {
		err = session.Run(ctx, []string{dashPreinst, "install"})
		if err != nil {
			err = errors.Wrapf(err, "failed running dash preinst")
			return
		}
	}

	// without it, dash asks whether it should be the default shell
	if exists(filepath.Join(root, debconfSetSelections)) {
		err = session.Run(ctx, []string{"debconf-set-selections"},
			chroot.WithStdin(strings.NewReader(dashSelection)))
		if err != nil {
			err = errors.Wrapf(err, "failed to set dash as the default shell")
			return
		}
	}

	timezone := c.Timezone
	if timezone == "" {
		timezone = DefaultTimezone
	}

	err = ioutil.WriteFile(filepath.Join(root, "etc/timezone"), []byte(timezone+"\n"), 0644)
	if err != nil {
		err = errors.Wrapf(err, "failed writing timezone")
		return
	}

	policy := filepath.Join(root, policyScriptPath)

	err = os.MkdirAll(filepath.Dir(policy), 0755)
	if err != nil {
		err = errors.Wrapf(err, "failed creating %s", filepath.Dir(policy))
		return
	}

	err = ioutil.WriteFile(policy, []byte(policyScript), 0755)
	if err != nil {
		err = errors.Wrapf(err, "failed writing %s", policyScriptPath)
		return
	}

	// WriteFile leaves the mode of an existing file untouched
	err = os.Chmod(policy, 0755)
	if err != nil {
		return
	}

	defer func() {
		removeErr := os.Remove(policy)
		if removeErr != nil && err == nil {
			err = errors.Wrapf(removeErr, "failed removing %s", policyScriptPath)
		}
	}()

	attempts := 1 + c.Retries
	for attempt := 1; attempt <= attempts; attempt++ {
		err = session.Run(ctx, []string{"dpkg", "--configure", "-a"})
		if err == nil {
			return
		}

		sess.Error("dpkg-configure", err, lager.Data{"attempt": attempt, "of": attempts})

		if ctx.Err() != nil {
			break
		}
	}

	err = errors.Wrapf(err, "`dpkg --configure -a` failed after %d tries", attempts)
	return
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}
