package chroot

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"

	"code.cloudfoundry.org/lager"
	"github.com/cirocosta/rootstrap/dpkg"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
)

const backupSuffix = ".rootstrap-orig"

// session holds what all backends share: the materialization of binds into
// the rootfs on Enter, its exact reversal on Exit, and the way commands are
// assembled and run.
//
type session struct {
	backend Type
	rootfs  string
	binds   []Bind
	env     Env
	logger  lager.Logger

	// wrap turns the command to run inside the rootfs into the command to
	// run on the host.
	//
	wrap func(args []string) []string

	// mount and unmount, when set, are used to expose directories and
	// special files into the rootfs.
	//
	mount   func(src, dest string) error
	unmount func(dest string) error

	// placeholders makes binds of special files (devices, sockets) be
	// backed by an empty file in the rootfs.
	//
	placeholders bool

	undo    []func() error
	entered bool
}

func newSession(backend Type, rootfs string, binds []Bind, logger lager.Logger) *session {
	return &session{
		backend: backend,
		rootfs:  rootfs,
		binds:   binds,
		env:     BaseEnv(),
		logger:  logger.Session(string(backend)),
		wrap:    func(args []string) []string { return args },
	}
}

func (s *session) Enter() (err error) {
	if s.entered {
		err = errors.Errorf("%s session already entered", s.backend)
		return
	}

	sess := s.logger.Session("enter")

	sess.Info("start")
	defer sess.Info("finish")

	for _, bind := range s.binds {
		err = s.materialize(sess, bind)
		if err == nil {
			continue
		}

		unwindErr := s.unwind()
		if unwindErr != nil {
			sess.Error("unwind", unwindErr)
		}

		err = errors.Wrapf(err, "failed materializing bind %s", bind)
		return
	}

	s.entered = true
	return
}

func (s *session) Exit() (err error) {
	sess := s.logger.Session("exit")

	sess.Info("start")
	defer sess.Info("finish")

	err = s.unwind()
	s.entered = false

	return
}

// unwind runs every pending undo action, newest first. All of them are
// attempted; the first failure is reported.
//
func (s *session) unwind() (err error) {
	for len(s.undo) > 0 {
		last := len(s.undo) - 1
		fn := s.undo[last]
		s.undo = s.undo[:last]

		undoErr := fn()
		if undoErr != nil && err == nil {
			err = undoErr
		}
	}

	return
}

func (s *session) deferUndo(fn func() error) {
	s.undo = append(s.undo, fn)
}

// destination resolves the guest path of a bind within the rootfs. The
// last component is not resolved so that a symlink there gets set aside
// instead of followed.
//
func (s *session) destination(guest string) (dest string, err error) {
	parent, err := securejoin.SecureJoin(s.rootfs, path.Dir(guest))
	if err != nil {
		err = errors.Wrapf(err, "failed resolving %s in %s", guest, s.rootfs)
		return
	}

	dest = filepath.Join(parent, path.Base(guest))
	return
}

func (s *session) materialize(logger lager.Logger, bind Bind) (err error) {
	info, err := os.Stat(bind.Host)
	if err != nil {
		err = errors.Wrapf(err, "failed to stat bind source %s", bind.Host)
		return
	}

	dest, err := s.destination(bind.Guest)
	if err != nil {
		return
	}

	switch {
	case info.Mode().IsRegular():
		err = s.mkdirAll(filepath.Dir(dest))
		if err != nil {
			return
		}

		logger.Debug("copy", lager.Data{"src": bind.Host, "dest": dest})
		err = s.copyIn(bind.Host, dest)
		return
	case info.IsDir():
		// mount points are fully resolved within the rootfs so that
		// mounting never follows a link out of it.
		dest, err = securejoin.SecureJoin(s.rootfs, bind.Guest)
		if err != nil {
			err = errors.Wrapf(err, "failed resolving %s in %s", bind.Guest, s.rootfs)
			return
		}

		err = s.mkdirAll(dest)
		if err != nil {
			return
		}
	default:
		if !s.placeholders {
			return
		}

		dest, err = securejoin.SecureJoin(s.rootfs, bind.Guest)
		if err != nil {
			err = errors.Wrapf(err, "failed resolving %s in %s", bind.Guest, s.rootfs)
			return
		}

		err = s.mkdirAll(filepath.Dir(dest))
		if err != nil {
			return
		}

		err = s.placeholder(dest)
		if err != nil {
			return
		}
	}

	if s.mount == nil {
		return
	}

	logger.Debug("mount", lager.Data{"src": bind.Host, "dest": dest})

	err = s.mount(bind.Host, dest)
	if err != nil {
		err = errors.Wrapf(err, "failed bind mounting %s onto %s", bind.Host, dest)
		return
	}

	s.deferUndo(func() error {
		logger.Debug("unmount", lager.Data{"dest": dest})
		return errors.Wrapf(s.unmount(dest), "failed unmounting %s", dest)
	})

	return
}

// mkdirAll creates `dir` and its missing parents, remembering to remove
// (only) the ones it created.
//
func (s *session) mkdirAll(dir string) (err error) {
	var missing []string

	for current := dir; ; current = filepath.Dir(current) {
		_, statErr := os.Lstat(current)
		if statErr == nil || current == filepath.Dir(current) {
			break
		}

		missing = append(missing, current)
	}

	for idx := len(missing) - 1; idx >= 0; idx-- {
		created := missing[idx]

		err = os.Mkdir(created, 0755)
		if err != nil {
			err = errors.Wrapf(err, "failed creating directory %s", created)
			return
		}

		s.deferUndo(func() error {
			return errors.Wrapf(os.Remove(created), "failed removing %s", created)
		})
	}

	return
}

// setAside moves whatever is at `dest` out of the way, arranging for it to
// be put back on exit.
//
func (s *session) setAside(dest string) (err error) {
	_, err = os.Lstat(dest)
	if os.IsNotExist(err) {
		err = nil
		return
	}

	if err != nil {
		return
	}

	backup := dest + backupSuffix

	err = os.Rename(dest, backup)
	if err != nil {
		err = errors.Wrapf(err, "failed setting %s aside", dest)
		return
	}

	s.deferUndo(func() error {
		return errors.Wrapf(os.Rename(backup, dest), "failed restoring %s", dest)
	})

	return
}

func (s *session) copyIn(src, dest string) (err error) {
	err = s.setAside(dest)
	if err != nil {
		return
	}

	err = copyFile(src, dest)
	if err != nil {
		os.Remove(dest)
		err = errors.Wrapf(err, "failed copying %s to %s", src, dest)
		return
	}

	s.deferUndo(func() error {
		return errors.Wrapf(os.Remove(dest), "failed removing %s", dest)
	})

	return
}

func (s *session) placeholder(dest string) (err error) {
	_, err = os.Lstat(dest)
	if err == nil {
		return
	}

	if !os.IsNotExist(err) {
		return
	}

	file, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		err = errors.Wrapf(err, "failed creating placeholder %s", dest)
		return
	}

	file.Close()

	s.deferUndo(func() error {
		return errors.Wrapf(os.Remove(dest), "failed removing placeholder %s", dest)
	})

	return
}

func copyFile(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return
	}

	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return
	}

	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return
	}

	err = out.Close()
	if err != nil {
		return
	}

	err = os.Chmod(dest, info.Mode().Perm())
	if err != nil {
		return
	}

	err = os.Chtimes(dest, info.ModTime(), info.ModTime())
	return
}

func (s *session) Command(ctx context.Context, args []string, opts ...Option) (cmd *exec.Cmd, err error) {
	if !s.entered {
		err = errors.Errorf("%s session not entered", s.backend)
		return
	}

	if len(args) == 0 {
		err = errors.Errorf("no command to run")
		return
	}

	o := options{stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	argv := s.wrap(args)

	cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = s.env.Merge(o.env).List()
	cmd.Stdin = o.stdin
	cmd.Stdout = o.stdout
	cmd.Stderr = o.stderr

	s.logger.Debug("command", lager.Data{"cmd": dpkg.Quote(cmd.Args)})
	return
}

func (s *session) Run(ctx context.Context, args []string, opts ...Option) (err error) {
	cmd, err := s.Command(ctx, args, opts...)
	if err != nil {
		return
	}

	err = commandError(cmd, cmd.Run(), "")
	return
}

func (s *session) Output(ctx context.Context, args []string, opts ...Option) (out []byte, err error) {
	var stdout, stderr bytes.Buffer

	opts = append(opts, WithStdout(&stdout), WithStderr(&stderr))

	cmd, err := s.Command(ctx, args, opts...)
	if err != nil {
		return
	}

	err = commandError(cmd, cmd.Run(), stderr.String())
	if err != nil {
		return
	}

	out = stdout.Bytes()
	return
}

func commandError(cmd *exec.Cmd, err error, output string) error {
	if err == nil {
		return nil
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return errors.Wrapf(err, "failed running `%s`", dpkg.Quote(cmd.Args))
	}

	return &CommandFailedError{
		Args:     cmd.Args,
		ExitCode: exitErr.ExitCode(),
		Output:   output,
	}
}
