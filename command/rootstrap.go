package command

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/lager"
	"github.com/cirocosta/rootstrap/chroot"
	"github.com/cirocosta/rootstrap/config"
	"github.com/containerd/console"
	"github.com/fatih/color"
	"github.com/hashicorp/hcl2/hcl"
	"github.com/pkg/errors"
)

var Rootstrap struct {
	LogLevel string `long:"log-level" default:"info" choice:"debug" choice:"info" choice:"error" description:"minimum level of the log entries written to stderr"`

	Bootstrap bootstrapCommand `command:"bootstrap" description:"builds a rootfs as described by a configuration file"`
	Unpack    unpackCommand    `command:"unpack"    description:"unpacks debian archives onto a rootfs"`
	Tweak     tweakCommand     `command:"tweak"     description:"fixes up a freshly unpacked rootfs"`
	Configure configureCommand `command:"configure" description:"configures unpacked packages from within the rootfs"`
	Exec      execCommand      `command:"exec"      description:"runs a command inside the rootfs"`
	Status    statusCommand    `command:"status"    description:"lists the packages recorded in the dpkg status of a rootfs"`
	Report    reportCommand    `command:"report"    description:"shows a size report as a table"`
	Freeze    freezeCommand    `command:"freeze"    description:"pins the versions of the packages of a rootfs"`
	Bom       bomCommand       `command:"bom"       description:"generates the bill of materials of a rootfs"`
	Key       keyCommand       `command:"key"       description:"adds public keys to the apt keyring of a rootfs"`
	Pack      packCommand      `command:"pack"      description:"archives a rootfs into a tarball"`

	UchrootExec uchrootExecCommand `command:"uchroot-exec" hidden:"true"`
}

// Logger is set up by `main` once flags are parsed.
//
var Logger = lager.NewLogger("rootstrap")

var logLevels = map[string]lager.LogLevel{
	"debug": lager.DEBUG,
	"info":  lager.INFO,
	"error": lager.ERROR,
}

func NewLogger(level string) (logger lager.Logger, err error) {
	minLevel, ok := logLevels[level]
	if !ok {
		err = errors.Errorf("unknown log level `%s`", level)
		return
	}

	logger = lager.NewLogger("rootstrap")
	logger.RegisterSink(lager.NewWriterSink(os.Stderr, minLevel))

	return
}

// writer resolves `fname` to a file to write to, `-` meaning stdout.
//
func writer(fname string) (w io.Writer, err error) {
	if fname == "-" || fname == "" {
		w = os.Stdout
		return
	}

	err = os.MkdirAll(filepath.Dir(fname), 0755)
	if err != nil {
		err = errors.Wrapf(err, "failed creating directory for %s", fname)
		return
	}

	w, err = os.Create(fname)
	if err != nil {
		err = errors.Wrapf(err, "failed creating file %s", fname)
		return
	}

	return
}

func parseConfig(filename string, vars map[string]string) (cfg *config.Config, err error) {
	color.NoColor = false

	cfg, err = config.ParseFile(filename, vars)
	if err != nil {
		diagsErr, ok := errors.Cause(err).(hcl.Diagnostics)
		if ok && len(diagsErr) > 0 {
			fmt.Fprintln(os.Stderr, config.PrettyDiagnosticFile(filename, diagsErr[0]))
		}

		err = errors.Wrapf(err, "failed to parse config file %s", filename)
		return
	}

	return
}

// terminalWidth is the number of columns of the terminal attached to
// stdout, if any.
//
func terminalWidth() int {
	current, err := console.ConsoleFromFile(os.Stdout)
	if err != nil {
		return 0
	}

	size, err := current.Size()
	if err != nil {
		return 0
	}

	return int(size.Width)
}

// chrootOptions are the flags of every command that runs something from
// within a rootfs.
//
type chrootOptions struct {
	Chroot       string   `long:"chroot"        default:"uchroot" choice:"chroot" choice:"proot" choice:"uchroot" description:"mechanism used to run commands inside the rootfs"`
	Binds        []string `long:"bind"          description:"host[:guest] path to expose inside the rootfs"`
	QemuBinary   string   `long:"qemu-binary"   description:"user-mode emulator for running foreign binaries"`
	PackageCache string   `long:"package-cache" description:"host directory shown at /opt/wheelhouse"`
}

func (o chrootOptions) open(rootfs string, logger lager.Logger) (c chroot.Chroot, err error) {
	backend, err := chroot.ParseType(o.Chroot)
	if err != nil {
		return
	}

	specs := o.Binds
	if specs == nil {
		specs = config.DefaultBinds
	}

	binds, err := chroot.ParseBinds(specs)
	if err != nil {
		return
	}

	c, err = chroot.New(backend, chroot.Config{
		Rootfs:          rootfs,
		Binds:           binds,
		EmulationBinary: o.QemuBinary,
		PackageCache:    o.PackageCache,
		UIDRange:        chroot.DefaultRange,
		GIDRange:        chroot.DefaultRange,
	}, logger)
	return
}
