package chroot

import (
	"fmt"

	"github.com/cirocosta/rootstrap/dpkg"
)

// CommandFailedError is returned whenever a command run inside the rootfs
// exits with a non-zero status.
//
type CommandFailedError struct {
	Args     []string
	ExitCode int

	// Output is what the command wrote to stderr, when captured.
	//
	Output string
}

func (e *CommandFailedError) Error() string {
	msg := fmt.Sprintf("command `%s` exited with %d", dpkg.Quote(e.Args), e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}

	return msg
}

// PrivilegeError indicates that a backend requires privileges that the
// current process does not have.
//
type PrivilegeError struct {
	Backend Type
	EUID    int
}

func (e *PrivilegeError) Error() string {
	return fmt.Sprintf("%s backend must run as root (euid is %d)", e.Backend, e.EUID)
}
