// Package chroot runs commands as if the root of the filesystem was a
// rootfs being built, through one of several isolation mechanisms.
//
package chroot

import (
	"context"
	"io"
	"os/exec"
	"sort"

	"code.cloudfoundry.org/lager"
	"github.com/pkg/errors"
)

// Type names an isolation mechanism.
//
type Type string

const (
	TypeNone    Type = "none"
	TypePosix   Type = "chroot"
	TypeProot   Type = "proot"
	TypeUchroot Type = "uchroot"
)

func ParseType(s string) (t Type, err error) {
	switch Type(s) {
	case TypeNone, TypePosix, TypeProot, TypeUchroot:
		t = Type(s)
	case "":
		t = TypeNone
	default:
		err = errors.Errorf("unknown chroot type `%s`", s)
	}

	return
}

// WheelhouseGuestPath is where the package cache directory shows up inside
// the rootfs.
//
const WheelhouseGuestPath = "opt/wheelhouse"

// Range is a contiguous block of ids on the host.
//
type Range struct {
	Start int `hcl:"start"`
	Size  int `hcl:"size"`
}

var DefaultRange = Range{Start: 100000, Size: 65536}

// Config is what every backend is built from.
//
type Config struct {
	Rootfs string
	Binds  []Bind

	// EmulationBinary is a user-mode emulator (e.g. qemu-arm-static) that
	// makes foreign-architecture binaries runnable.
	//
	EmulationBinary string

	// PackageCache is a host directory exposed at `/opt/wheelhouse`.
	//
	PackageCache string

	UIDRange Range
	GIDRange Range
}

// Chroot runs commands inside a rootfs.
//
// `Enter` must be called before any command runs, and `Exit` after the last
// one; `With` takes care of both.
//
type Chroot interface {
	Enter() error
	Exit() error

	// Command prepares a process to be run inside the rootfs, leaving it
	// up to the caller to start and wait for it.
	//
	Command(ctx context.Context, args []string, opts ...Option) (cmd *exec.Cmd, err error)

	// Run runs a command, streaming its output.
	//
	Run(ctx context.Context, args []string, opts ...Option) (err error)

	// Output runs a command, returning what it wrote to stdout.
	//
	Output(ctx context.Context, args []string, opts ...Option) (out []byte, err error)
}

// New builds the backend of type `t`. Precondition failures (like missing
// privileges) are reported before anything is touched on disk.
//
func New(t Type, cfg Config, logger lager.Logger) (c Chroot, err error) {
	switch t {
	case TypePosix:
		c, err = NewPosix(cfg, logger)
	case TypeProot:
		c, err = NewProot(cfg, logger)
	case TypeUchroot:
		c, err = NewUchroot(cfg, logger)
	default:
		err = errors.Errorf("no chroot backend for type `%s`", t)
	}

	return
}

// With enters `c`, runs `fn` and exits `c`, whatever the outcome of `fn`.
//
func With(c Chroot, fn func(c Chroot) error) (err error) {
	err = c.Enter()
	if err != nil {
		err = errors.Wrapf(err, "failed entering chroot")
		return
	}

	defer func() {
		exitErr := c.Exit()
		if exitErr == nil {
			return
		}

		if err == nil {
			err = errors.Wrapf(exitErr, "failed exiting chroot")
			return
		}

		// the error of `fn` stays the cause
		err = errors.Wrapf(err, "also failed exiting chroot: %v", exitErr)
	}()

	err = fn(c)
	return
}

// Env is a set of environment variables.
//
type Env map[string]string

// BaseEnv is the environment every command starts from. It pins the locale
// so that tools behave deterministically.
//
func BaseEnv() Env {
	return Env{
		"DEBIAN_FRONTEND": "noninteractive",
		"LANG":            "en_US.UTF-8",
		"LANGUAGE":        "en_US",
		"LC_ALL":          "C",
		"PATH":            "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
	}
}

// Merge returns a new Env with the variables of both. Variables of `e` win
// over the ones from `other`.
//
func (e Env) Merge(other Env) Env {
	merged := Env{}

	for k, v := range other {
		merged[k] = v
	}

	for k, v := range e {
		merged[k] = v
	}

	return merged
}

// List renders the environment as sorted `KEY=value` entries.
//
func (e Env) List() []string {
	list := make([]string, 0, len(e))

	for k, v := range e {
		list = append(list, k+"="+v)
	}

	sort.Strings(list)
	return list
}

type options struct {
	env    Env
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Option tweaks how a single command is run.
//
type Option func(o *options)

func WithEnv(env Env) Option {
	return func(o *options) {
		o.env = env
	}
}

func WithStdin(r io.Reader) Option {
	return func(o *options) {
		o.stdin = r
	}
}

func WithStdout(w io.Writer) Option {
	return func(o *options) {
		o.stdout = w
	}
}

func WithStderr(w io.Writer) Option {
	return func(o *options) {
		o.stderr = w
	}
}
