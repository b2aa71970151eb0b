package dpkg

import (
	"fmt"
)

// MalformedRecordError is returned when a paragraph-formatted input carries a
// line that is neither a `key: value` pair, a continuation, nor a paragraph
// separator.
//
type MalformedRecordError struct {
	Source string
	Line   int
	Text   string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed rfc822 record on %s:%d: `%s`",
		e.Source, e.Line, e.Text)
}

// ExtractionError indicates that either the data or the control member of a
// debian archive could not be unpacked.
//
// ExitStatus carries the exit code of the external tool when one was used,
// or -1 when unpacking happened in-process.
//
type ExtractionError struct {
	Archive    string
	ExitStatus int
	Err        error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed extracting %s (exit status %d): %v",
		e.Archive, e.ExitStatus, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// DigestMismatchError indicates that what got downloaded is not what the
// repository indexes describe.
//
type DigestMismatchError struct {
	URI      string
	Checksum string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("%s does not match its checksum %s", e.URI, e.Checksum)
}
