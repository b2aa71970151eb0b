package dpkg_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/cirocosta/rootstrap/dpkg"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("AddDependency", func() {

	var (
		dir        string
		statusPath string
		content    string
		pkg        string
		changed    bool
		err        error
	)

	BeforeEach(func() {
		dir, err = ioutil.TempDir("", "rootstrap-status")
		Expect(err).ToNot(HaveOccurred())

		statusPath = filepath.Join(dir, "status")
		pkg = "ifupdown"
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	JustBeforeEach(func() {
		Expect(ioutil.WriteFile(statusPath, []byte(content), 0644)).To(Succeed())
		changed, err = dpkg.AddDependency(statusPath, pkg, "initscripts")
	})

	read := func() string {
		patched, err := ioutil.ReadFile(statusPath)
		Expect(err).ToNot(HaveOccurred())
		return string(patched)
	}

	Context("with the package declaring dependencies", func() {

		BeforeEach(func() {
			content = `Package: adduser
Depends: passwd, debconf
Status: install ok unpacked

Package: ifupdown
Version: 0.8
Depends: iproute2, adduser
Description: high level tools
 to configure network interfaces

Package: zlib1g
Depends: libc6
Status: install ok unpacked

`
		})

		It("only touches the paragraph of the package", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(read()).To(Equal(`Package: adduser
Depends: passwd, debconf
Status: install ok unpacked

Package: ifupdown
Version: 0.8
Depends: iproute2, adduser, initscripts
Description: high level tools
 to configure network interfaces

Package: zlib1g
Depends: libc6
Status: install ok unpacked

`))
		})

		It("leaves no temporary file behind", func() {
			entries, err := ioutil.ReadDir(dir)
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(HaveLen(1))
		})

		Context("applied twice", func() {

			JustBeforeEach(func() {
				changed, err = dpkg.AddDependency(statusPath, pkg, "initscripts")
			})

			It("does not duplicate the dependency", func() {
				Expect(err).ToNot(HaveOccurred())
				Expect(changed).To(BeFalse())
				Expect(read()).To(ContainSubstring("Depends: iproute2, adduser, initscripts\n"))
			})
		})
	})

	Context("with the package having no dependencies", func() {

		BeforeEach(func() {
			content = "Package: ifupdown\nVersion: 0.8"
		})

		It("adds the field", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(read()).To(Equal("Package: ifupdown\nVersion: 0.8\nDepends: initscripts\n"))
		})
	})

	Context("without the package", func() {

		BeforeEach(func() {
			content = "Package: bash\nDepends: libc6\n\n"
		})

		It("leaves the file alone", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(read()).To(Equal(content))
		})
	})

	Context("with the dependencies folded over several lines", func() {

		BeforeEach(func() {
			content = "Package: ifupdown\nDepends: iproute2,\n adduser\nVersion: 0.8\n\n"
		})

		It("appends to the last line of the field", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(read()).To(Equal("Package: ifupdown\nDepends: iproute2,\n adduser, initscripts\nVersion: 0.8\n\n"))
		})

		Context("with the dependency on a continuation line", func() {

			BeforeEach(func() {
				content = "Package: ifupdown\nDepends: iproute2,\n initscripts\n"
			})

			It("considers it present", func() {
				Expect(changed).To(BeFalse())
				Expect(read()).To(Equal(content))
			})
		})
	})

	Context("with the dependency among alternatives", func() {

		BeforeEach(func() {
			content = "Package: ifupdown\nDepends: systemd-sysv | initscripts (>= 2.88)\n"
		})

		It("considers it present", func() {
			Expect(changed).To(BeFalse())
		})
	})

})

var _ = Describe("StatusDatabase", func() {

	var (
		root string
		db   *dpkg.StatusDatabase
		err  error
	)

	BeforeEach(func() {
		root, err = ioutil.TempDir("", "rootstrap-db")
		Expect(err).ToNot(HaveOccurred())

		Expect(os.MkdirAll(filepath.Join(root, "var/lib/dpkg"), 0755)).To(Succeed())
		Expect(ioutil.WriteFile(dpkg.StatusPath(root), []byte("Package: base\n\n"), 0644)).To(Succeed())

		db, err = dpkg.OpenStatusDatabase(root)
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(root)
	})

	It("appends to what is already there", func() {
		Expect(db.AppendControl(strings.NewReader("Package: new\n\nVersion: 1\n"))).To(Succeed())
		Expect(db.CloseParagraph(nil)).To(Succeed())
		Expect(db.Close()).To(Succeed())

		status, err := ioutil.ReadFile(dpkg.StatusPath(root))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(status)).To(Equal(
			"Package: base\n\nPackage: new\nVersion: 1\nStatus: install ok unpacked\n\n"))

		available, err := ioutil.ReadFile(dpkg.AvailablePath(root))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(available)).To(Equal("Package: new\nVersion: 1\n\n"))
	})

	It("renders conffiles with a leading space", func() {
		Expect(db.AppendControl(strings.NewReader("Package: c\n"))).To(Succeed())
		Expect(db.CloseParagraph([]dpkg.Conffile{{Path: "/etc/c", Digest: "abc"}})).To(Succeed())
		Expect(db.Close()).To(Succeed())

		status, err := ioutil.ReadFile(dpkg.StatusPath(root))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(status)).To(HaveSuffix("Conffiles:\n /etc/c abc\n\n"))
	})

})
