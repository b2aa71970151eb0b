package bootstrap_test

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"code.cloudfoundry.org/lager"
	"code.cloudfoundry.org/lager/lagertest"
	"github.com/cirocosta/rootstrap/bootstrap"
	"github.com/cirocosta/rootstrap/chroot"
	"github.com/cirocosta/rootstrap/config"
	"github.com/cirocosta/rootstrap/dpkg"
	"github.com/cirocosta/rootstrap/rootfs"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type fakeApt struct {
	updates int
	cleans  int
	fetches [][]string
}

func (a *fakeApt) Update(ctx context.Context) error {
	a.updates++
	return nil
}

func (a *fakeApt) Fetch(ctx context.Context, packages []string) ([]dpkg.AptDebLocation, error) {
	a.fetches = append(a.fetches, packages)
	return nil, nil
}

func (a *fakeApt) Clean(ctx context.Context) error {
	a.cleans++
	return nil
}

type recorder struct {
	entered, exited int
	runs            []string
	fails           map[string]int
}

func (r *recorder) Enter() error { r.entered++; return nil }
func (r *recorder) Exit() error  { r.exited++; return nil }

func (r *recorder) Command(ctx context.Context, args []string, opts ...chroot.Option) (*exec.Cmd, error) {
	return exec.CommandContext(ctx, "true"), nil
}

func (r *recorder) Run(ctx context.Context, args []string, opts ...chroot.Option) error {
	cmd := strings.Join(args, " ")
	r.runs = append(r.runs, cmd)

	if r.fails[cmd] > 0 {
		r.fails[cmd]--
		return &chroot.CommandFailedError{Args: args, ExitCode: 1}
	}

	return nil
}

func (r *recorder) Output(ctx context.Context, args []string, opts ...chroot.Option) ([]byte, error) {
	return nil, r.Run(ctx, args, opts...)
}

var _ = Describe("Bootstrapper", func() {

	var (
		dir     string
		target  string
		extra   string
		backend string
		euid    int
		apt     *fakeApt
		rec     *recorder
		created []chroot.Config
		err     error
	)

	BeforeEach(func() {
		dir, err = ioutil.TempDir("", "rootstrap-bootstrap")
		Expect(err).ToNot(HaveOccurred())

		target = filepath.Join(dir, "target")
		extra = ""
		backend = "proot"
		euid = 1000
		apt = &fakeApt{}
		rec = &recorder{fails: map[string]int{}}
		created = nil
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	JustBeforeEach(func() {
		var cfg *config.Config

		content := fmt.Sprintf(`
rootfs       = %q
architecture = "amd64"
suite        = "xenial"
chroot       = %q
binds        = ["/etc/hosts"]

%s

apt {
  packages    = ["bash"]
  size_report = %q
  clean       = true
}
`, target, backend, extra, filepath.Join(dir, "reports/sizes.json"))

		cfg, err = config.Parse([]byte(content), "rootstrap.hcl", nil)
		Expect(err).ToNot(HaveOccurred())

		b := bootstrap.New(cfg, lagertest.NewTestLogger("test"), true)
		b.Apt = apt
		b.EUID = euid
		b.NewChroot = func(t chroot.Type, c chroot.Config, logger lager.Logger) (chroot.Chroot, error) {
			created = append(created, c)
			return rec, nil
		}

		err = b.Run(context.Background())
	})

	It("goes through every stage", func() {
		Expect(err).ToNot(HaveOccurred())

		Expect(apt.updates).To(Equal(1))
		Expect(apt.fetches).To(Equal([][]string{{"bash"}}))
		Expect(apt.cleans).To(Equal(1))

		Expect(filepath.Join(dir, "reports/sizes.json")).To(BeARegularFile())

		Expect(created).To(HaveLen(1))
		Expect(created[0].Rootfs).To(Equal(target))
		Expect(created[0].Binds).To(Equal([]chroot.Bind{{Host: "/etc/hosts", Guest: "etc/hosts"}}))
		Expect(created[0].UIDRange).To(Equal(chroot.DefaultRange))

		Expect(rec.entered).To(Equal(1))
		Expect(rec.exited).To(Equal(1))
		Expect(rec.runs).To(ContainElement("dpkg --configure -a"))
	})

	It("leaves a tweaked rootfs", func() {
		link, err := os.Readlink(filepath.Join(target, "usr/bin/awk"))
		Expect(err).ToNot(HaveOccurred())
		Expect(link).To(Equal("mawk"))

		Expect(filepath.Join(target, "etc/apt/sources.list.d/bootstrap.list")).ToNot(BeAnExistingFile())
		Expect(filepath.Join(target, "var/lib/dpkg/status")).To(BeARegularFile())
		Expect(filepath.Join(target, "usr/sbin/policy-rc.d")).ToNot(BeAnExistingFile())
	})

	It("releases the lock on the rootfs", func() {
		lock, err := rootfs.Lock(target)
		Expect(err).ToNot(HaveOccurred())
		Expect(lock.Unlock()).To(Succeed())
	})

	Context("told to terminate after updating package lists", func() {

		BeforeEach(func() {
			extra = `terminate_after = "apt-update"`
		})

		It("downloads nothing", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(apt.updates).To(Equal(1))
			Expect(apt.fetches).To(BeEmpty())
			Expect(created).To(BeEmpty())
		})

		It("keeps the bootstrap sources", func() {
			Expect(filepath.Join(target, "etc/apt/sources.list.d/bootstrap.list")).To(BeARegularFile())
		})
	})

	Context("told to terminate after the size report", func() {

		BeforeEach(func() {
			extra = `terminate_after = "size-report"`
		})

		It("reports without unpacking or configuring", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(filepath.Join(dir, "reports/sizes.json")).To(BeARegularFile())
			Expect(filepath.Join(target, "usr/bin/awk")).ToNot(BeAnExistingFile())
			Expect(created).To(BeEmpty())
		})
	})

	Context("with pip packages", func() {

		BeforeEach(func() {
			extra = `pip_packages = ["requests"]`
		})

		It("downloads pip along with the other packages", func() {
			Expect(apt.fetches).To(Equal([][]string{{"bash", "python-pip"}}))
		})

		It("installs them within the chroot", func() {
			Expect(rec.runs).To(ContainElement(
				"pip install --upgrade --no-index --find-links=/opt/wheelhouse requests"))
		})
	})

	Context("without a chroot", func() {

		BeforeEach(func() {
			backend = "none"
		})

		It("unpacks and tweaks but skips configuration", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(created).To(BeEmpty())
			_, err = os.Readlink(filepath.Join(target, "usr/bin/awk"))
			Expect(err).ToNot(HaveOccurred())
			Expect(apt.cleans).To(Equal(1))
		})
	})

	Context("with makedev unpacked", func() {

		var postinst string

		BeforeEach(func() {
			postinst = filepath.Join(target, "var/lib/dpkg/info/makedev.postinst")

			Expect(os.MkdirAll(filepath.Dir(postinst), 0755)).To(Succeed())
			Expect(ioutil.WriteFile(postinst, []byte("#!/bin/sh\nmknod ...\n"), 0755)).To(Succeed())
		})

		It("sets its postinst aside when not running as root", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(postinst).ToNot(BeAnExistingFile())
			Expect(postinst + ".bak").To(BeARegularFile())
		})

		Context("running as root", func() {

			BeforeEach(func() {
				euid = 0
			})

			It("keeps it", func() {
				Expect(err).ToNot(HaveOccurred())
				Expect(postinst).To(BeARegularFile())
			})

			Context("through user namespaces", func() {

				BeforeEach(func() {
					backend = "uchroot"
				})

				It("sets it aside anyway", func() {
					Expect(err).ToNot(HaveOccurred())
					Expect(postinst).ToNot(BeAnExistingFile())
				})
			})
		})
	})

	Context("with configuration failing every time", func() {

		BeforeEach(func() {
			rec.fails["dpkg --configure -a"] = 10
		})

		It("fails after retrying", func() {
			Expect(err).To(HaveOccurred())
			Expect(rec.runs).To(HaveLen(2))
			Expect(rec.exited).To(Equal(1))
		})

		It("does not clean up the archives", func() {
			Expect(apt.cleans).To(BeZero())
		})

		It("still releases the lock", func() {
			lock, err := rootfs.Lock(target)
			Expect(err).ToNot(HaveOccurred())
			Expect(lock.Unlock()).To(Succeed())
		})
	})

})
