package dpkg

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const maxLineLength = 1024 * 1024

// Scanner reads paragraphs out of RFC822-like files such as
// `/var/lib/dpkg/status` or apt `Packages` indexes.
//
// Paragraphs are separated by blank lines; within a paragraph, `key: value`
// lines start a field and lines starting with whitespace continue the
// current one.
//
type Scanner struct {
	scanner *bufio.Scanner
	source  string
	line    int
}

func NewScanner(reader io.Reader) *Scanner {
	return NewNamedScanner(reader, "?")
}

// NewNamedScanner creates a scanner whose errors identify the input by
// `source` (usually a filename).
//
func NewNamedScanner(reader io.Reader, source string) *Scanner {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)

	return &Scanner{
		scanner: scanner,
		source:  source,
	}
}

// ScanFile parses every paragraph found in `filename`.
//
func ScanFile(filename string) (records []Record, err error) {
	file, err := os.Open(filename)
	if err != nil {
		err = errors.Wrapf(err, "failed to open %s", filename)
		return
	}

	defer file.Close()

	records, err = NewNamedScanner(file, filename).ScanAll()
	return
}

func (p *Scanner) ScanAll() (records []Record, err error) {
	var (
		record Record
		done   bool
	)

	for {
		record, done, err = p.Scan()
		if err != nil {
			err = errors.Wrapf(err, "failed scanning paragraphs from %s", p.source)
			return
		}

		if done {
			return
		}

		records = append(records, record)
	}
}

// Scan reads the next paragraph. `done` is true once the input has no more
// paragraphs, in which case `record` is empty.
//
// A paragraph still open at the end of the input is returned even without a
// trailing blank line.
//
func (p *Scanner) Scan() (record Record, done bool, err error) {
	var (
		key   string
		lines []string
	)

	flush := func() {
		if key != "" {
			record.Set(key, strings.Join(lines, "\n"))
		}
		key, lines = "", nil
	}

	for p.scanner.Scan() {
		p.line++
		line := strings.TrimRight(p.scanner.Text(), " \t\r")

		if strings.TrimSpace(line) == "" {
			flush()
			if !record.IsEmpty() {
				return
			}

			continue
		}

		if key != "" && (line[0] == ' ' || line[0] == '\t') {
			lines = append(lines, line[1:])
			continue
		}

		splitted := strings.SplitN(line, ":", 2)
		if len(splitted) != 2 || line[0] == ' ' || line[0] == '\t' {
			err = &MalformedRecordError{
				Source: p.source,
				Line:   p.line,
				Text:   line,
			}
			return
		}

		flush()
		key = splitted[0]
		lines = []string{strings.TrimSpace(splitted[1])}
	}

	err = p.scanner.Err()
	if err != nil {
		err = errors.Wrapf(err, "failed reading from %s", p.source)
		return
	}

	flush()
	done = record.IsEmpty()

	return
}
