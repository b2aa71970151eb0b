package dpkg_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/lager/lagertest"
	"github.com/cirocosta/rootstrap/dpkg"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Apt", func() {

	Describe("ScanAptUris", func() {

		var (
			err     error
			content string
			res     []dpkg.AptDebLocation
		)

		JustBeforeEach(func() {
			reader := bytes.NewReader([]byte(content))
			res, err = dpkg.ScanAptDebLocations(reader)
		})

		Context("with no content", func() {
			BeforeEach(func() {
				content = ""
			})

			It("succeeds", func() {
				Expect(err).ToNot(HaveOccurred())
			})

			It("returns 0-length array", func() {
				Expect(res).To(HaveLen(0))
			})
		})

		Context("with proper content", func() {

			BeforeEach(func() {
				content = sampleAptPrintUris
			})

			It("succeeds", func() {
				Expect(err).ToNot(HaveOccurred())
			})

			It("properly parses it", func() {
				Expect(res).To(ConsistOf([]dpkg.AptDebLocation{
					{
						URI:    `http://archive.ubuntu.com/ubuntu/pool/main/p/perl/perl-modules-5.26_5.26.1-6ubuntu0.3_all.deb`,
						Name:   `perl-modules-5.26_5.26.1-6ubuntu0.3_all.deb`,
						Size:   `2762592`,
						Digest: `MD5Sum:e3bb462a24dda2bed9eeb0136b8d0b87`,
					},
					{
						URI:    `http://archive.ubuntu.com/ubuntu/pool/main/g/gdbm/libgdbm5_1.14.1-6_amd64.deb`,
						Name:   `libgdbm5_1.14.1-6_amd64.deb`,
						Size:   `26312`,
						Digest: `MD5Sum:6d8ac4d6a4f5a8b8c2f0b4d2a7e3a1c9`,
					},
				}))
			})
		})

		Context("with a truncated uri line", func() {
			BeforeEach(func() {
				content = `'http://archive.ubuntu.com/ubuntu/pool/foo.deb' foo.deb`
			})

			It("fails", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("AptGet", func() {

		It("points apt to the rootfs", func() {
			args := dpkg.AptGet{Architecture: "arm64", Rootfs: "/r"}.Args()

			Expect(args[0]).To(Equal("apt-get"))
			Expect(args).To(ContainElement("Apt::Architecture=arm64"))
			Expect(args).To(ContainElement("Dir::State::Status=/r/var/lib/dpkg/status"))
			Expect(args).ToNot(ContainElement("Acquire::https::Proxy=false"))
		})

		It("routes http through a proxy if asked to", func() {
			args := dpkg.AptGet{
				Architecture: "amd64",
				Rootfs:       "/r",
				HTTPProxy:    "http://localhost:3142",
			}.Args()

			Expect(args).To(ContainElement("Acquire::http::Proxy=http://localhost:3142"))
			Expect(args).To(ContainElement("Acquire::https::Proxy=false"))
		})

	})

	Describe("DefaultPackages", func() {

		var (
			rootfs     string
			essential  bool
			priorities []dpkg.Priority
			packages   []string
			err        error
		)

		BeforeEach(func() {
			rootfs, err = ioutil.TempDir("", "rootstrap-lists")
			Expect(err).ToNot(HaveOccurred())

			lists := filepath.Join(rootfs, dpkg.ListsDir)
			Expect(os.MkdirAll(lists, 0755)).To(Succeed())

			Expect(ioutil.WriteFile(filepath.Join(lists, "archive_dists_bionic_main_binary-amd64_Packages"), []byte(`Package: zsh
Priority: optional

Package: bash
Essential: yes
Priority: required

Package: apt
Priority: important

Package: coreutils
Essential: yes
Priority: required
`), 0644)).To(Succeed())

			Expect(ioutil.WriteFile(filepath.Join(lists, "archive_dists_bionic_Release"), []byte(
				"Package: not-a-list\nPriority: required\n"), 0644)).To(Succeed())

			essential, priorities = false, nil
		})

		AfterEach(func() {
			os.RemoveAll(rootfs)
		})

		JustBeforeEach(func() {
			packages, err = dpkg.DefaultPackages(rootfs, essential, priorities)
		})

		Context("asking for essential packages", func() {
			BeforeEach(func() {
				essential = true
			})

			It("lists them sorted", func() {
				Expect(err).ToNot(HaveOccurred())
				Expect(packages).To(Equal([]string{"bash", "coreutils"}))
			})
		})

		Context("asking for priorities", func() {
			BeforeEach(func() {
				priorities = []dpkg.Priority{dpkg.PriorityRequired, dpkg.PriorityImportant}
			})

			It("only reads package lists", func() {
				Expect(err).ToNot(HaveOccurred())
				Expect(packages).To(Equal([]string{"apt", "bash", "coreutils"}))
			})
		})

	})

	Describe("BootstrapSources", func() {

		It("adds i386 to amd64 sources", func() {
			sources, err := dpkg.BootstrapSources("amd64", "bionic")
			Expect(err).ToNot(HaveOccurred())
			Expect(sources).To(ContainSubstring(
				"deb [arch=amd64,i386] http://archive.ubuntu.com/ubuntu bionic-updates main"))
		})

		It("uses the ports mirror for arm", func() {
			sources, err := dpkg.BootstrapSources("arm64", "bionic")
			Expect(err).ToNot(HaveOccurred())
			Expect(sources).To(ContainSubstring("ubuntu-ports bionic main"))
		})

		It("refuses unknown architectures", func() {
			_, err := dpkg.BootstrapSources("sparc", "bionic")
			Expect(err).To(HaveOccurred())
		})

	})

	Describe("Quote", func() {

		It("only quotes what needs quoting", func() {
			Expect(dpkg.Quote([]string{"dpkg", "--field", "a b.deb", "it's", ""})).
				To(Equal(`dpkg --field 'a b.deb' 'it'"'"'s' ''`))
		})

	})

	Describe("Fetch", func() {

		It("logs under its own session", func() {
			logger := lagertest.NewTestLogger("test")

			_, err := dpkg.AptGet{
				Architecture: "amd64",
				Rootfs:       "/nonexistent",
				Logger:       logger,
			}.Fetch(context.Background(), []string{"x"})
			Expect(err).To(HaveOccurred())
			Expect(logger.LogMessages()).To(ContainElement("test.apt-fetch.start"))
		})

	})

	Describe("downloading archives", func() {

		const payload = "!<arch>\ndebian-binary\n"

		var (
			server    *httptest.Server
			dir       string
			locations []dpkg.AptDebLocation
			err       error
		)

		BeforeEach(func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(payload))
			}))

			dir, err = ioutil.TempDir("", "rootstrap-archives")
			Expect(err).ToNot(HaveOccurred())

			sha256 := digest.FromString(payload)

			locations = []dpkg.AptDebLocation{{
				URI:    server.URL + "/pool/demo_1.0_amd64.deb",
				Name:   "demo_1.0_amd64.deb",
				Digest: "SHA256:" + sha256.Hex(),
			}}
		})

		AfterEach(func() {
			server.Close()
			os.RemoveAll(dir)
		})

		JustBeforeEach(func() {
			err = dpkg.DownloadDebianPackages(context.Background(),
				lagertest.NewTestLogger("test"), dir, locations)
		})

		stored := func() []string {
			entries, err := ioutil.ReadDir(dir)
			Expect(err).ToNot(HaveOccurred())

			names := []string{}
			for _, entry := range entries {
				names = append(names, entry.Name())
			}

			return names
		}

		It("stores archives matching their checksum", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(stored()).To(Equal([]string{"demo_1.0_amd64.deb"}))

			content, err := ioutil.ReadFile(filepath.Join(dir, "demo_1.0_amd64.deb"))
			Expect(err).ToNot(HaveOccurred())
			Expect(string(content)).To(Equal(payload))
		})

		Context("with an md5 checksum", func() {

			BeforeEach(func() {
				sum := md5.Sum([]byte(payload))
				locations[0].Digest = "MD5Sum:" + hex.EncodeToString(sum[:])
			})

			It("verifies it too", func() {
				Expect(err).ToNot(HaveOccurred())
				Expect(stored()).To(HaveLen(1))
			})
		})

		Context("with content not matching the checksum", func() {

			BeforeEach(func() {
				locations[0].Digest = "SHA256:" + digest.FromString("something else").Hex()
			})

			It("rejects it without keeping anything", func() {
				Expect(err).To(HaveOccurred())

				_, ok := errors.Cause(err).(*dpkg.DigestMismatchError)
				Expect(ok).To(BeTrue())
				Expect(stored()).To(BeEmpty())
			})
		})

		Context("with an unknown checksum algorithm", func() {

			BeforeEach(func() {
				locations[0].Digest = "CRC32:deadbeef"
			})

			It("refuses to download", func() {
				Expect(err).To(HaveOccurred())
				Expect(stored()).To(BeEmpty())
			})
		})

	})

})

const sampleAptPrintUris = `Reading package lists... Done
Building dependency tree
Reading state information... Done
The following additional packages will be installed:
  libgdbm5 perl-modules-5.26
Need to get 2788 kB of archives.
After this operation, 17.4 MB of additional disk space will be used.
'http://archive.ubuntu.com/ubuntu/pool/main/p/perl/perl-modules-5.26_5.26.1-6ubuntu0.3_all.deb' perl-modules-5.26_5.26.1-6ubuntu0.3_all.deb 2762592 MD5Sum:e3bb462a24dda2bed9eeb0136b8d0b87
'http://archive.ubuntu.com/ubuntu/pool/main/g/gdbm/libgdbm5_1.14.1-6_amd64.deb' libgdbm5_1.14.1-6_amd64.deb 26312 MD5Sum:6d8ac4d6a4f5a8b8c2f0b4d2a7e3a1c9
`
