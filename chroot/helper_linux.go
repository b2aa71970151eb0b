package chroot

import (
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Spawn runs the inner stage of the helper in new user and mount
// namespaces, maps the ids it needs and lets it go on, returning the exit
// status of `args`.
//
func Spawn(h Helper, args []string) (status int, err error) {
	self, err := os.Executable()
	if err != nil {
		err = errors.Wrapf(err, "failed finding path to the current executable")
		return
	}

	ready, release, err := os.Pipe()
	if err != nil {
		err = errors.Wrapf(err, "failed creating synchronization pipe")
		return
	}

	defer release.Close()

	uid, gid := getuid(), os.Getgid()
	argv := append(h.Args(self, true), args...)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{ready}
	cmd.SysProcAttr = namespaceAttrs(uid, gid, h.uidRange(), h.gidRange())

	err = cmd.Start()
	ready.Close()
	if err != nil {
		err = errors.Wrapf(err, "failed starting helper in new namespaces")
		return
	}

	if uid != 0 {
		err = mapIDs(cmd.Process.Pid, uid, gid, h.uidRange(), h.gidRange())
		if err != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return
		}
	}

	release.Close()

	err = cmd.Wait()
	if err == nil {
		return
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		err = errors.Wrapf(err, "failed waiting for helper")
		return
	}

	err = nil
	status = exitErr.ExitCode()

	waitStatus, ok := exitErr.Sys().(syscall.WaitStatus)
	if ok && waitStatus.Signaled() {
		status = 128 + int(waitStatus.Signal())
	}

	return
}

func mapIDs(pid, uid, gid int, uids, gids Range) (err error) {
	mappings := map[string][]idMapping{
		"newuidmap": idMappings(uid, uids),
		"newgidmap": idMappings(gid, gids),
	}

	for _, tool := range idMappers {
		var out []byte

		out, err = exec.Command(tool, mapperArgs(pid, mappings[tool])...).CombinedOutput()
		if err != nil {
			err = errors.Wrapf(err, "failed mapping ids with %s: %s",
				tool, strings.TrimSpace(string(out)))
			return
		}
	}

	return
}

// Exec finishes what Spawn started: being already in a fresh user and mount
// namespace, it waits for `ready` to be closed (ids being mapped by then),
// mounts the binds, changes the root to `rootfs` and replaces the current
// process with `args`.
//
// It only returns on failure.
//
func Exec(ready io.Reader, rootfs string, binds []Bind, args []string) (err error) {
	if len(args) == 0 {
		err = errors.Errorf("no command to run")
		return
	}

	if ready != nil {
		_, err = io.Copy(ioutil.Discard, ready)
		if err != nil {
			err = errors.Wrapf(err, "failed waiting for id mappings")
			return
		}

		// not to be inherited by `args`
		if closer, ok := ready.(io.Closer); ok {
			closer.Close()
		}
	}

	err = unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, "")
	if err != nil {
		err = errors.Wrapf(err, "failed making mounts private")
		return
	}

	for _, bind := range binds {
		var dest string

		dest, err = securejoin.SecureJoin(rootfs, bind.Guest)
		if err != nil {
			err = errors.Wrapf(err, "failed resolving %s in %s", bind.Guest, rootfs)
			return
		}

		err = bindMount(bind.Host, dest)
		if err != nil {
			err = errors.Wrapf(err, "failed bind mounting %s onto %s", bind.Host, dest)
			return
		}
	}

	err = unix.Chroot(rootfs)
	if err != nil {
		err = errors.Wrapf(err, "failed changing root to %s", rootfs)
		return
	}

	err = os.Chdir("/")
	if err != nil {
		err = errors.Wrapf(err, "failed changing directory to the new root")
		return
	}

	bin := args[0]
	if filepath.Base(bin) == bin {
		bin, err = exec.LookPath(bin)
		if err != nil {
			err = errors.Wrapf(err, "failed finding `%s` in the rootfs", args[0])
			return
		}
	}

	err = unix.Exec(bin, args, os.Environ())
	err = errors.Wrapf(err, "failed executing %s", bin)
	return
}
