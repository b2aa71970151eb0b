package dpkg_test

import (
	"path/filepath"

	"code.cloudfoundry.org/lager/lagertest"
	"github.com/cirocosta/rootstrap/dpkg"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Filter", func() {

	var (
		logger    *lagertest.TestLogger
		describer fakeDescriber
		archives  []string
		kept      []string
		err       error
	)

	BeforeEach(func() {
		logger = lagertest.NewTestLogger("test")
		describer = fakeDescriber{}
		archives = nil
	})

	add := func(name, version string) string {
		path := filepath.Join("/debs", name+"_"+version+"_amd64.deb")
		describer[path] = map[string]string{"Package": name, "Version": version}
		return path
	}

	JustBeforeEach(func() {
		kept, err = dpkg.Filter{Describer: describer, Logger: logger}.Filter(archives)
	})

	Context("with two versions of the same package", func() {

		BeforeEach(func() {
			archives = []string{add("foo", "1.0"), add("foo", "1.2")}
		})

		It("keeps only the newest one", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(kept).To(Equal([]string{"/debs/foo_1.2_amd64.deb"}))
		})

		It("logs the skipped archive", func() {
			Expect(logger.LogMessages()).To(ContainElement("test.filter.skipping-obsolete"))
		})
	})

	Context("with versions relying on debian ordering", func() {

		BeforeEach(func() {
			archives = []string{
				add("bar", "1:0.9"),
				add("bar", "2.0"),
				add("baz", "1.0~rc1"),
				add("baz", "1.0"),
				add("qux", "1.0-10"),
				add("qux", "1.0-9"),
			}
		})

		It("compares epochs, tildes and revisions", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(kept).To(Equal([]string{
				"/debs/bar_1:0.9_amd64.deb",
				"/debs/baz_1.0_amd64.deb",
				"/debs/qux_1.0-10_amd64.deb",
			}))
		})
	})

	Context("with unrelated packages", func() {

		BeforeEach(func() {
			archives = []string{add("zsh", "5"), add("apt", "1"), add("make", "4")}
		})

		It("sorts by package name", func() {
			Expect(kept).To(Equal([]string{
				"/debs/apt_1_amd64.deb",
				"/debs/make_4_amd64.deb",
				"/debs/zsh_5_amd64.deb",
			}))
		})
	})

	Context("regardless of the order of the input", func() {

		It("keeps the same set", func() {
			a, b, c, d := add("foo", "1.0"), add("foo", "1.2"), add("foo", "1.1"), add("bar", "3")

			var results [][]string
			for _, permutation := range [][]string{
				{a, b, c, d},
				{d, c, b, a},
				{b, d, a, c},
				{c, a, d, b},
			} {
				res, err := dpkg.Filter{Describer: describer, Logger: logger}.Filter(permutation)
				Expect(err).ToNot(HaveOccurred())
				results = append(results, res)
			}

			for _, res := range results {
				Expect(res).To(Equal([]string{"/debs/bar_3_amd64.deb", "/debs/foo_1.2_amd64.deb"}))
			}
		})
	})

	Context("with an unparseable version", func() {

		BeforeEach(func() {
			archives = []string{add("foo", "")}
		})

		It("fails", func() {
			Expect(err).To(HaveOccurred())
		})
	})

})
