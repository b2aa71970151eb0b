package chroot

import (
	"os"
	"os/exec"
	"strconv"
	"strings"

	"code.cloudfoundry.org/lager"
	"github.com/pkg/errors"
)

// HelperCommand is the (hidden) subcommand that the binary re-executes
// itself with in order to set up a user namespace before running the
// actual command.
//
const HelperCommand = "uchroot-exec"

// idMappers are the setuid tools that let an unprivileged user map ranges
// of subordinate ids into a user namespace.
//
var idMappers = []string{"newuidmap", "newgidmap"}

var lookPath = exec.LookPath

// Uchroot relies on user namespaces: the invoking user is mapped to root
// in a new user and mount namespace where the binds get mounted, and the
// configured id ranges are mapped right after it so that packages can own
// files as system users.
//
type Uchroot struct {
	*session
}

func NewUchroot(cfg Config, logger lager.Logger) (c *Uchroot, err error) {
	if getuid() != 0 {
		for _, tool := range idMappers {
			_, err = lookPath(tool)
			if err != nil {
				err = errors.Wrapf(err,
					"uchroot needs %s (from the uidmap package) to map id ranges", tool)
				return
			}
		}
	}

	binds, err := cfg.binds(true)
	if err != nil {
		return
	}

	helper := Helper{
		Rootfs:   cfg.Rootfs,
		UIDRange: cfg.UIDRange,
		GIDRange: cfg.GIDRange,
	}

	for _, bind := range binds {
		var info os.FileInfo

		info, err = os.Stat(bind.Host)
		if err != nil {
			err = errors.Wrapf(err, "failed to stat bind source %s", bind.Host)
			return
		}

		// regular files get copied in by the session
		if info.Mode().IsRegular() {
			continue
		}

		helper.Binds = append(helper.Binds, bind)
	}

	self, err := os.Executable()
	if err != nil {
		err = errors.Wrapf(err, "failed finding path to the current executable")
		return
	}

	helperArgs := helper.Args(self, false)

	s := newSession(TypeUchroot, cfg.Rootfs, binds, logger)
	s.placeholders = true
	s.wrap = func(args []string) []string {
		return append(append([]string(nil), helperArgs...), args...)
	}

	c = &Uchroot{session: s}
	return
}

// Helper is what the helper needs to know to run a command inside the
// rootfs.
//
type Helper struct {
	Rootfs   string
	Binds    []Bind
	UIDRange Range
	GIDRange Range
}

// Args is the command line that re-executes `self` as the helper, up to
// (and including) the `--` that separates it from the command to run.
//
// The outer stage (`mapped` false) creates the namespaces and maps ids; the
// inner one (`mapped` true) waits for that to be done before mounting the
// binds and changing root.
//
func (h Helper) Args(self string, mapped bool) (args []string) {
	args = []string{self, HelperCommand, "--rootfs", h.Rootfs}

	if mapped {
		args = append(args, "--mapped")
	} else {
		args = append(args,
			"--uid-range", h.uidRange().String(),
			"--gid-range", h.gidRange().String())
	}

	for _, bind := range h.Binds {
		args = append(args, "--bind", bind.String())
	}

	args = append(args, "--")
	return
}

func (h Helper) uidRange() Range {
	if h.UIDRange.Size == 0 {
		return DefaultRange
	}

	return h.UIDRange
}

func (h Helper) gidRange() Range {
	if h.GIDRange.Size == 0 {
		return DefaultRange
	}

	return h.GIDRange
}

// Args is the command line that prefixes every command.
//
func (u *Uchroot) Args() []string {
	return u.wrap(nil)
}

// ParseRange interprets `start:size`.
//
func ParseRange(s string) (r Range, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		err = errors.Errorf("malformed id range `%s`", s)
		return
	}

	r.Start, err = strconv.Atoi(parts[0])
	if err != nil {
		err = errors.Wrapf(err, "malformed start of id range `%s`", s)
		return
	}

	r.Size, err = strconv.Atoi(parts[1])
	if err != nil {
		err = errors.Wrapf(err, "malformed size of id range `%s`", s)
		return
	}

	if r.Start < 1 || r.Size < 1 {
		err = errors.Errorf("id range `%s` must start past 0 and not be empty", s)
		return
	}

	return
}

func (r Range) String() string {
	return strconv.Itoa(r.Start) + ":" + strconv.Itoa(r.Size)
}

// idMappings maps `id` to root and `r` right after it.
//
func idMappings(id int, r Range) []idMapping {
	return []idMapping{
		{Inside: 0, Outside: id, Size: 1},
		{Inside: 1, Outside: r.Start, Size: r.Size},
	}
}

type idMapping struct {
	Inside  int
	Outside int
	Size    int
}

// mapperArgs renders the arguments of newuidmap/newgidmap for `pid`.
//
func mapperArgs(pid int, mappings []idMapping) (args []string) {
	args = []string{strconv.Itoa(pid)}

	for _, m := range mappings {
		args = append(args,
			strconv.Itoa(m.Inside), strconv.Itoa(m.Outside), strconv.Itoa(m.Size))
	}

	return
}
