package dpkg

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"code.cloudfoundry.org/lager"
	"github.com/pkg/errors"
)

// ExitStatus extracts the exit code carried by an error returned from
// `exec.Cmd`, or -1 if the process never ran to completion.
//
func ExitStatus(err error) int {
	exitErr, ok := errors.Cause(err).(*exec.ExitError)
	if !ok {
		return -1
	}

	return exitErr.ExitCode()
}

// Quote renders an argv the way it would be typed in a shell, for logging
// purposes.
//
func Quote(args []string) string {
	quoted := make([]string, len(args))

	for idx, arg := range args {
		if arg != "" && strings.IndexFunc(arg, needsQuoting) < 0 {
			quoted[idx] = arg
			continue
		}

		quoted[idx] = "'" + strings.Replace(arg, "'", `'"'"'`, -1) + "'"
	}

	return strings.Join(quoted, " ")
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./=:,+@%", r):
		return false
	}

	return true
}

// runCommand runs `name` with `args`, returning its standard output. Standard
// error is captured and included in the error when the command fails.
//
func runCommand(ctx context.Context, logger lager.Logger, env []string, name string, args ...string) (out []byte, err error) {
	var (
		stdout, stderr bytes.Buffer
		cmd            = exec.CommandContext(ctx, name, args...)
	)

	if logger != nil {
		logger.Debug("run", lager.Data{"cmd": Quote(cmd.Args)})
	}

	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err != nil {
		err = errors.Wrapf(err, "failed running `%s` - %s",
			Quote(cmd.Args), stderr.String())
		return
	}

	out = stdout.Bytes()
	return
}
