package dpkg_test

import (
	"io/ioutil"
	"os"
	"strings"

	"github.com/cirocosta/rootstrap/dpkg"
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// fakeDescriber answers from a fixed table, keyed by archive and then by
// field.
//
type fakeDescriber map[string]map[string]string

func (f fakeDescriber) Describe(path string, fields ...string) (values []string, err error) {
	control, found := f[path]
	if !found {
		err = errors.Errorf("no such archive %s", path)
		return
	}

	for _, field := range fields {
		values = append(values, control[field])
	}

	return
}

var _ = Describe("PackageArchive", func() {

	var (
		describer dpkg.Describer
		pkg       dpkg.PackageArchive
		err       error
	)

	JustBeforeEach(func() {
		pkg, err = dpkg.ReadPackageArchive(describer, "foo.deb")
	})

	Context("with every field declared", func() {

		BeforeEach(func() {
			describer = fakeDescriber{"foo.deb": {
				"Package":        "foo",
				"Version":        "1:2.0-1",
				"Installed-Size": "1234",
				"Essential":      "yes",
				"Priority":       "required",
				"Multi-Arch":     "same",
				"Description-en": "english",
				"Description":    "plain",
			}}
		})

		It("fills the archive", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(pkg.Name).To(Equal("foo"))
			Expect(pkg.Version).To(Equal("1:2.0-1"))
			Expect(pkg.InstalledSize).To(BeEquivalentTo(1234))
			Expect(pkg.Essential).To(BeTrue())
			Expect(pkg.Priority).To(Equal(dpkg.PriorityRequired))
			Expect(pkg.MultiArch).To(Equal("same"))
		})

		It("takes the english description", func() {
			Expect(pkg.Description).ToNot(BeNil())
			Expect(*pkg.Description).To(Equal("english"))
		})
	})

	Context("with only the untranslated description", func() {

		BeforeEach(func() {
			describer = fakeDescriber{"foo.deb": {
				"Package":     "foo",
				"Version":     "1.0",
				"Description": "plain",
			}}
		})

		It("has no description", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(pkg.Description).To(BeNil())
		})
	})

	Context("with optional fields missing or garbled", func() {

		BeforeEach(func() {
			describer = fakeDescriber{"foo.deb": {
				"Package":        "foo",
				"Version":        "1.0",
				"Installed-Size": "lots",
			}}
		})

		It("defaults the installed size to 0", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(pkg.InstalledSize).To(BeZero())
		})

		It("has no description", func() {
			Expect(pkg.Description).To(BeNil())
		})

		It("has no priority", func() {
			Expect(pkg.Priority).To(Equal(dpkg.PriorityAbsent))
			Expect(pkg.Essential).To(BeFalse())
		})
	})

	Context("with an archive that cannot be described", func() {

		BeforeEach(func() {
			describer = fakeDescriber{}
		})

		It("fails", func() {
			Expect(err).To(HaveOccurred())
		})
	})

})

var _ = Describe("ArchiveDescriber", func() {

	var dir string

	BeforeEach(func() {
		var err error

		dir, err = ioutil.TempDir("", "rootstrap-describe")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	for _, compression := range []string{"gz", "xz", "zst"} {
		compression := compression

		It("reads control fields from "+compression+" members", func() {
			archive := deb{
				Name:        "demo",
				Version:     "1.0",
				Extra:       "Installed-Size: 12\nDescription: a demo\n more text\n",
				Compression: compression,
			}.build(dir)

			values, err := dpkg.ArchiveDescriber{}.Describe(archive,
				"Package", "Version", "Installed-Size", "Description", "Priority")
			Expect(err).ToNot(HaveOccurred())
			Expect(values).To(Equal([]string{"demo", "1.0", "12", "a demo\nmore text", ""}))
		})
	}

	It("fails on files that are not debian archives", func() {
		bogus := dir + "/bogus.deb"
		Expect(ioutil.WriteFile(bogus, []byte(strings.Repeat("x", 100)), 0644)).To(Succeed())

		_, err := dpkg.ArchiveDescriber{}.Describe(bogus, "Package")
		Expect(err).To(HaveOccurred())
	})

})

var _ = Describe("Package", func() {

	It("is built out of a status record", func() {
		records, err := dpkg.NewScanner(strings.NewReader(sampleWellFormedPackage1)).ScanAll()
		Expect(err).ToNot(HaveOccurred())

		pkg := dpkg.PackageFromRecord(records[0])
		Expect(pkg.IsFilled()).To(BeTrue())
		Expect(pkg.IsInstalled()).To(BeTrue())
		Expect(pkg.Architecture).To(Equal("all"))
		Expect(pkg.Conffiles).To(HaveLen(1))
	})

})
