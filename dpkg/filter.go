package dpkg

import (
	"sort"

	"code.cloudfoundry.org/lager"
	"github.com/pkg/errors"
	"pault.ag/go/debian/version"
)

// Filter keeps a single archive per package name: the one carrying the
// greatest version according to the debian version ordering.
//
// Later archives win ties. Dropped archives are logged together with the
// version that superseded them. The result is sorted by package name.
//
type Filter struct {
	Describer Describer
	Logger    lager.Logger
}

type candidate struct {
	path    string
	version version.Version
	raw     string
}

func (f Filter) Filter(archives []string) (kept []string, err error) {
	var (
		sess   = f.Logger.Session("filter", lager.Data{"archives": len(archives)})
		newest = map[string]candidate{}
	)

	sess.Info("start")
	defer sess.Info("finish")

	for _, archive := range archives {
		var values []string

		values, err = f.Describer.Describe(archive, FieldPackage, FieldVersion)
		if err != nil {
			err = errors.Wrapf(err, "failed describing %s", archive)
			return
		}

		name := values[0]
		current := candidate{path: archive, raw: values[1]}

		current.version, err = version.Parse(values[1])
		if err != nil {
			err = errors.Wrapf(err, "failed parsing version `%s` of %s", values[1], archive)
			return
		}

		held, found := newest[name]
		if !found {
			newest[name] = current
			continue
		}

		if version.Compare(current.version, held.version) >= 0 {
			logObsolete(sess, name, held, current)
			newest[name] = current
			continue
		}

		logObsolete(sess, name, current, held)
	}

	names := make([]string, 0, len(newest))
	for name := range newest {
		names = append(names, name)
	}

	sort.Strings(names)

	kept = make([]string, 0, len(names))
	for _, name := range names {
		kept = append(kept, newest[name].path)
	}

	return
}

func logObsolete(logger lager.Logger, name string, obsolete, superseding candidate) {
	logger.Info("skipping-obsolete", lager.Data{
		"package":       name,
		"obsolete":      obsolete.raw,
		"superseded-by": superseding.raw,
		"archive":       obsolete.path,
	})
}
