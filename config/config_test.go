package config_test

import (
	"os"
	"strings"

	"github.com/cirocosta/rootstrap/chroot"
	"github.com/cirocosta/rootstrap/config"
	"github.com/fatih/color"
	"github.com/hashicorp/hcl2/hcl"
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {

	Describe("Parse", func() {

		const mockFilename = "mock-file"

		var (
			content  string
			vars     map[string]string
			cfg      *config.Config
			err      error
			restore  func() (string, error)
			hostCall int
		)

		BeforeEach(func() {
			vars = nil
			hostCall = 0

			restore = config.HostSuite
			config.HostSuite = func() (string, error) {
				hostCall++
				return "xenial", nil
			}
		})

		AfterEach(func() {
			config.HostSuite = restore
		})

		JustBeforeEach(func() {
			cfg, err = config.Parse([]byte(content), mockFilename, vars)
		})

		Context("with empty content", func() {

			BeforeEach(func() {
				content = ""
			})

			It("falls back to defaults", func() {
				Expect(err).ToNot(HaveOccurred())
				Expect(cfg.Rootfs).To(Equal("."))
				Expect(cfg.Suite).To(Equal("xenial"))
				Expect(hostCall).To(Equal(1))
				Expect(cfg.Chroot).To(Equal("uchroot"))
				Expect(cfg.Binds).To(Equal([]string{"/dev/urandom", "/etc/resolv.conf"}))
				Expect(*cfg.DpkgConfigureRetryCount).To(Equal(1))
				Expect(cfg.Apt.IncludePriorities).To(Equal([]string{"required", "important", "standard"}))
				Expect(*cfg.Uchroot.UIDRange).To(Equal(chroot.DefaultRange))
			})
		})

		Context("with a full configuration", func() {

			BeforeEach(func() {
				content = `
rootfs       = "/tmp/rootfs"
architecture = "arm64"
suite        = "xenial"
chroot       = "proot"
qemu_binary  = "/usr/bin/qemu-aarch64-static"
binds        = ["/dev/urandom"]

dpkg_configure_retry_count = 0

apt {
  packages           = ["openssh-server", "python"]
  include_essential  = true
  include_priorities = ["required"]
  clean              = true
  size_report        = "/tmp/report.yml"
}

uchroot {
  uid_range {
    start = 200000
    size  = 1000
  }
}

key "local.gpg" {
  local_repo = "/srv/repo"
}
`
			})

			It("succeeds", func() {
				Expect(err).ToNot(HaveOccurred())
				Expect(hostCall).To(BeZero())
			})

			It("keeps what was given", func() {
				Expect(cfg.Rootfs).To(Equal("/tmp/rootfs"))
				Expect(cfg.Chroot).To(Equal("proot"))
				Expect(*cfg.DpkgConfigureRetryCount).To(BeZero())
				Expect(cfg.Apt.Packages).To(Equal([]string{"openssh-server", "python"}))
				Expect(cfg.Apt.IncludeEssential).To(BeTrue())
				Expect(cfg.Apt.IncludePriorities).To(Equal([]string{"required"}))
				Expect(*cfg.Uchroot.UIDRange).To(Equal(chroot.Range{Start: 200000, Size: 1000}))
				Expect(*cfg.Uchroot.GIDRange).To(Equal(chroot.DefaultRange))
				Expect(cfg.Keys).To(HaveLen(1))
				Expect(cfg.Keys[0].Name).To(Equal("local.gpg"))
			})

			It("derives the sources list from the architecture", func() {
				Expect(cfg.Apt.Sources).To(ContainSubstring("ports.ubuntu.com"))
				Expect(cfg.Apt.Sources).To(ContainSubstring("xenial"))
			})
		})

		Context("interpolating variables", func() {

			BeforeEach(func() {
				os.Setenv("ROOTSTRAP_TEST_HOME", "/home/test")
				vars = map[string]string{"name": "base"}
				content = `
suite  = "xenial"
rootfs = "${env.ROOTSTRAP_TEST_HOME}/${var.name}"
`
			})

			AfterEach(func() {
				os.Unsetenv("ROOTSTRAP_TEST_HOME")
			})

			It("takes them from the command line and the environment", func() {
				Expect(err).ToNot(HaveOccurred())
				Expect(cfg.Rootfs).To(Equal("/home/test/base"))
			})
		})

		Context("with an unknown chroot", func() {

			BeforeEach(func() {
				content = `chroot = "docker"`
			})

			It("fails", func() {
				Expect(err).To(HaveOccurred())
			})
		})

		Context("with an unknown stage", func() {

			BeforeEach(func() {
				content = `terminate_after = "lunch"`
			})

			It("fails", func() {
				Expect(err).To(HaveOccurred())
			})
		})

		Context("with a key without a source", func() {

			BeforeEach(func() {
				content = `key "empty" { }`
			})

			It("fails", func() {
				Expect(err).To(HaveOccurred())
			})
		})

		Context("with an unknown attribute", func() {

			BeforeEach(func() {
				content = "suite = \"xenial\"\nflavour = \"vanilla\"\n"
			})

			It("fails with diagnostics pointing at it", func() {
				Expect(err).To(HaveOccurred())

				diags, ok := errors.Cause(err).(hcl.Diagnostics)
				Expect(ok).To(BeTrue())

				color.NoColor = true

				pretty := config.PrettyDiagnostic(content, diags[0])
				lines := strings.Split(pretty, "\n")
				Expect(lines).To(HaveLen(4))
				Expect(lines[0]).To(ContainSubstring("Unsupported argument"))
				Expect(lines[1]).To(Equal(`   1 | suite = "xenial"`))
				Expect(lines[2]).To(Equal(`   2 | flavour = "vanilla"`))
				Expect(lines[3]).To(ContainSubstring("     | ^^^^^^^"))
			})
		})

	})

})
