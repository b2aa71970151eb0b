package rootfs_test

import (
	"context"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"code.cloudfoundry.org/lager/lagertest"
	"github.com/cirocosta/rootstrap/chroot"
	"github.com/cirocosta/rootstrap/rootfs"
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// recorder stands for a chroot, remembering what it was asked to run.
//
type recorder struct {
	runs  []string
	fails map[string]int
	seen  func(args []string)
}

func (r *recorder) Enter() error { return nil }
func (r *recorder) Exit() error  { return nil }

func (r *recorder) Command(ctx context.Context, args []string, opts ...chroot.Option) (*exec.Cmd, error) {
	return exec.CommandContext(ctx, "true"), nil
}

func (r *recorder) Run(ctx context.Context, args []string, opts ...chroot.Option) error {
	cmd := strings.Join(args, " ")
	r.runs = append(r.runs, cmd)

	if r.seen != nil {
		r.seen(args)
	}

	if r.fails[cmd] > 0 {
		r.fails[cmd]--
		return &chroot.CommandFailedError{Args: args, ExitCode: 1}
	}

	return nil
}

func (r *recorder) Output(ctx context.Context, args []string, opts ...chroot.Option) ([]byte, error) {
	return nil, r.Run(ctx, args, opts...)
}

var _ = Describe("Initialize", func() {

	var (
		root string
		err  error
	)

	BeforeEach(func() {
		root, err = ioutil.TempDir("", "rootstrap-init")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(root)
	})

	JustBeforeEach(func() {
		err = rootfs.Initialize(root, "deb http://archive.ubuntu.com/ubuntu xenial main\n")
	})

	It("lays down what apt needs", func() {
		Expect(err).ToNot(HaveOccurred())

		Expect(filepath.Join(root, "var/cache/apt/archives/partial")).To(BeADirectory())
		Expect(filepath.Join(root, "var/lib/dpkg/updates")).To(BeADirectory())
		Expect(filepath.Join(root, "var/lib/dpkg/status")).To(BeARegularFile())

		content, err := ioutil.ReadFile(filepath.Join(root, "etc/apt/sources.list.d/bootstrap.list"))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(ContainSubstring("xenial main"))

		target, err := os.Readlink(filepath.Join(root, "lib64"))
		Expect(err).ToNot(HaveOccurred())
		Expect(target).To(Equal("lib"))
	})

	Context("on a rootfs with a database and a real lib64", func() {

		BeforeEach(func() {
			Expect(os.MkdirAll(filepath.Join(root, "lib64"), 0755)).To(Succeed())
			Expect(os.MkdirAll(filepath.Join(root, "var/lib/dpkg"), 0755)).To(Succeed())
			Expect(ioutil.WriteFile(filepath.Join(root, "var/lib/dpkg/status"), []byte("Package: bash\n\n"), 0644)).To(Succeed())
		})

		It("keeps both", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(filepath.Join(root, "lib64")).To(BeADirectory())

			content, err := ioutil.ReadFile(filepath.Join(root, "var/lib/dpkg/status"))
			Expect(err).ToNot(HaveOccurred())
			Expect(string(content)).To(Equal("Package: bash\n\n"))
		})
	})

})

var _ = Describe("Configurer", func() {

	var (
		root       string
		session    *recorder
		configurer rootfs.Configurer
		err        error
	)

	BeforeEach(func() {
		root, err = ioutil.TempDir("", "rootstrap-configure")
		Expect(err).ToNot(HaveOccurred())

		Expect(os.MkdirAll(filepath.Join(root, "etc"), 0755)).To(Succeed())

		session = &recorder{fails: map[string]int{}}
		configurer = rootfs.Configurer{
			Logger:  lagertest.NewTestLogger("test"),
			Retries: 1,
		}
	})

	AfterEach(func() {
		os.RemoveAll(root)
	})

	JustBeforeEach(func() {
		err = configurer.Configure(context.Background(), session, root)
	})

	It("configures every package once", func() {
		Expect(err).ToNot(HaveOccurred())
		Expect(session.runs).To(Equal([]string{"dpkg --configure -a"}))
	})

	It("sets the timezone", func() {
		content, err := ioutil.ReadFile(filepath.Join(root, "etc/timezone"))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(Equal("America/Los_Angeles\n"))
	})

	It("only denies services while configuring", func() {
		Expect(filepath.Join(root, "usr/sbin/policy-rc.d")).ToNot(BeAnExistingFile())
	})

	Context("while configuring", func() {

		var mode os.FileMode

		BeforeEach(func() {
			session.seen = func(args []string) {
				info, err := os.Stat(filepath.Join(root, "usr/sbin/policy-rc.d"))
				Expect(err).ToNot(HaveOccurred())
				mode = info.Mode().Perm()
			}
		})

		It("has an executable policy script in place", func() {
			Expect(mode).To(Equal(os.FileMode(0755)))
		})
	})

	Context("with dash and debconf around", func() {

		BeforeEach(func() {
			Expect(os.MkdirAll(filepath.Join(root, "var/lib/dpkg/info"), 0755)).To(Succeed())
			Expect(os.MkdirAll(filepath.Join(root, "usr/bin"), 0755)).To(Succeed())
			Expect(ioutil.WriteFile(filepath.Join(root, "var/lib/dpkg/info/dash.preinst"), nil, 0755)).To(Succeed())
			Expect(ioutil.WriteFile(filepath.Join(root, "usr/bin/debconf-set-selections"), nil, 0755)).To(Succeed())
		})

		It("prepares dash before configuring", func() {
			Expect(session.runs).To(Equal([]string{
				"/var/lib/dpkg/info/dash.preinst install",
				"debconf-set-selections",
				"dpkg --configure -a",
			}))
		})
	})

	Context("with a first configuration failing", func() {

		BeforeEach(func() {
			session.fails["dpkg --configure -a"] = 1
		})

		It("tries again", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(session.runs).To(HaveLen(2))
		})
	})

	Context("with every configuration failing", func() {

		BeforeEach(func() {
			session.fails["dpkg --configure -a"] = 10
		})

		It("gives up after the retries", func() {
			Expect(err).To(HaveOccurred())
			Expect(session.runs).To(HaveLen(2))

			_, ok := errors.Cause(err).(*chroot.CommandFailedError)
			Expect(ok).To(BeTrue())
		})

		It("still removes the policy script", func() {
			Expect(filepath.Join(root, "usr/sbin/policy-rc.d")).ToNot(BeAnExistingFile())
		})
	})

})

var _ = Describe("InstallPipPackages", func() {

	var root string

	BeforeEach(func() {
		var err error

		root, err = ioutil.TempDir("", "rootstrap-pip")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(root)
	})

	It("installs from the wheelhouse only", func() {
		session := &recorder{}

		Expect(rootfs.InstallPipPackages(context.Background(), session, root, []string{"requests"})).To(Succeed())
		Expect(session.runs).To(HaveLen(4))
		Expect(session.runs[3]).To(Equal(
			"pip install --upgrade --no-index --find-links=/opt/wheelhouse requests"))
		Expect(filepath.Join(root, "opt/wheelhouse")).To(BeADirectory())
	})

	It("does nothing without packages", func() {
		session := &recorder{}

		Expect(rootfs.InstallPipPackages(context.Background(), session, root, nil)).To(Succeed())
		Expect(session.runs).To(BeEmpty())
	})

})

var _ = Describe("Lock", func() {

	var root string

	BeforeEach(func() {
		var err error

		root, err = ioutil.TempDir("", "rootstrap-lock")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(root)
		os.Remove(root + ".lock")
	})

	It("is exclusive", func() {
		lock, err := rootfs.Lock(root)
		Expect(err).ToNot(HaveOccurred())

		_, err = rootfs.Lock(root)
		Expect(err).To(HaveOccurred())

		Expect(lock.Unlock()).To(Succeed())

		again, err := rootfs.Lock(root)
		Expect(err).ToNot(HaveOccurred())
		Expect(again.Unlock()).To(Succeed())
	})

})
