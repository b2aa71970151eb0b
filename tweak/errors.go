package tweak

import (
	"fmt"
)

// PatchApplyError indicates that a patch did not apply cleanly to the file
// it targets.
//
type PatchApplyError struct {
	Target     string
	ExitStatus int
	Output     string
}

func (e *PatchApplyError) Error() string {
	return fmt.Sprintf("failed to apply patch to %s (exit status %d): %s",
		e.Target, e.ExitStatus, e.Output)
}
