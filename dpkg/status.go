package dpkg

import (
	"bufio"
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	DatabaseDir = "var/lib/dpkg"
	InfoDir     = "var/lib/dpkg/info"

	StatusUnpacked = "install ok unpacked"
)

// StatusDatabase appends to the files that make up the installed-package
// database of a rootfs.
//
// `available` and `status` are opened once, in append mode, and kept open
// until `Close`. A single StatusDatabase must be the only writer of a given
// rootfs.
//
type StatusDatabase struct {
	root      string
	available *os.File
	status    *os.File
}

func StatusPath(root string) string {
	return filepath.Join(root, DatabaseDir, "status")
}

func AvailablePath(root string) string {
	return filepath.Join(root, DatabaseDir, "available")
}

func InfoPath(root, pkg, suffix string) string {
	return filepath.Join(root, InfoDir, pkg+"."+suffix)
}

// OpenStatusDatabase opens the database under `root`, creating the info
// directory and the files if needed.
//
func OpenStatusDatabase(root string) (db *StatusDatabase, err error) {
	err = os.MkdirAll(filepath.Join(root, InfoDir), 0755)
	if err != nil {
		err = errors.Wrapf(err, "failed creating dpkg info dir under %s", root)
		return
	}

	db = &StatusDatabase{root: root}

	db.available, err = openAppend(AvailablePath(root))
	if err != nil {
		return
	}

	db.status, err = openAppend(StatusPath(root))
	if err != nil {
		db.available.Close()
		return
	}

	return
}

func openAppend(path string) (file *os.File, err error) {
	file, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		err = errors.Wrapf(err, "failed opening %s for appending", path)
		return
	}

	return
}

func (db *StatusDatabase) Close() (err error) {
	availableErr := db.available.Close()
	err = db.status.Close()

	if availableErr != nil {
		err = availableErr
	}

	return
}

// AppendControl appends the non-blank lines of a control file to both
// `available` and `status`. The `available` paragraph is terminated right
// away, while the `status` one receives the unpacked status line and stays
// open so that conffiles can follow.
//
func (db *StatusDatabase) AppendControl(control io.Reader) (err error) {
	var (
		lines   bytes.Buffer
		scanner = bufio.NewScanner(control)
	)

	scanner.Buffer(make([]byte, 64*1024), maxLineLength)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		lines.WriteString(line)
		lines.WriteString("\n")
	}

	err = scanner.Err()
	if err != nil {
		err = errors.Wrapf(err, "failed reading control file")
		return
	}

	_, err = db.available.Write(append(lines.Bytes(), '\n'))
	if err != nil {
		err = errors.Wrapf(err, "failed appending to available")
		return
	}

	_, err = io.WriteString(db.status,
		lines.String()+FieldStatus+": "+StatusUnpacked+"\n")
	if err != nil {
		err = errors.Wrapf(err, "failed appending to status")
		return
	}

	return
}

// CloseParagraph appends the `Conffiles` field (if there is any conffile)
// and terminates the paragraph opened by AppendControl.
//
func (db *StatusDatabase) CloseParagraph(conffiles []Conffile) (err error) {
	var b strings.Builder

	if len(conffiles) > 0 {
		b.WriteString(FieldConffiles + ":\n")
		for _, c := range conffiles {
			b.WriteString(" " + c.Path + " " + c.Digest + "\n")
		}
	}

	b.WriteString("\n")

	_, err = io.WriteString(db.status, b.String())
	if err != nil {
		err = errors.Wrapf(err, "failed appending conffiles to status")
		return
	}

	return
}

// WriteList writes the manifest of files owned by `pkg`.
//
func (db *StatusDatabase) WriteList(pkg string, manifest []string) (err error) {
	var content strings.Builder

	for _, entry := range manifest {
		content.WriteString(entry)
		content.WriteString("\n")
	}

	dest := InfoPath(db.root, pkg, "list")

	err = ioutil.WriteFile(dest, []byte(content.String()), 0644)
	if err != nil {
		err = errors.Wrapf(err, "failed writing file list %s", dest)
		return
	}

	return
}

// InstallScript files a maintainer script (or any other control member)
// away as `info/<pkg>.<name>`, keeping its permission bits.
//
func (db *StatusDatabase) InstallScript(pkg, name, src string) (err error) {
	dest := InfoPath(db.root, pkg, name)

	err = copyFile(src, dest)
	if err != nil {
		err = errors.Wrapf(err, "failed installing %s of %s", name, pkg)
		return
	}

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

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
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

// AddDependency adds `dependency` to the `Depends` field of the paragraph
// of `pkg` in the status file at `statusPath`.
//
// The file is rewritten into a sibling temporary file which then replaces
// the original through a rename, so that readers never observe a partially
// written database. Nothing is written when the package is absent or
// already depends on `dependency`.
//
func AddDependency(statusPath, pkg, dependency string) (changed bool, err error) {
	content, err := ioutil.ReadFile(statusPath)
	if err != nil {
		err = errors.Wrapf(err, "failed reading %s", statusPath)
		return
	}

	patched, changed := addDependency(string(content), pkg, dependency)
	if !changed {
		return
	}

	info, err := os.Stat(statusPath)
	if err != nil {
		err = errors.Wrapf(err, "failed to stat %s", statusPath)
		return
	}

	err = writeAtomically(statusPath, []byte(patched), info.Mode().Perm())
	if err != nil {
		err = errors.Wrapf(err, "failed replacing %s", statusPath)
		return
	}

	return
}

func addDependency(content, pkg, dependency string) (patched string, changed bool) {
	var (
		lines       = strings.SplitAfter(content, "\n")
		inParagraph bool
		sawDepends  bool
		depends     []string
		out         strings.Builder
	)

	// the field may be folded over several lines: it is only complete once
	// a line that does not continue it shows up.
	flushDepends := func() {
		if len(depends) == 0 {
			return
		}

		if !dependsOn(strings.Join(depends, ""), dependency) {
			last := len(depends) - 1
			value := strings.TrimRight(depends[last], "\r\n")

			separator := ", "
			if strings.HasSuffix(strings.TrimSpace(value), ",") {
				separator = " "
			}

			depends[last] = value + separator + dependency + depends[last][len(value):]
			if !strings.HasSuffix(depends[last], "\n") {
				depends[last] += "\n"
			}

			changed = true
		}

		for _, line := range depends {
			out.WriteString(line)
		}

		depends = nil
	}

	closeParagraph := func() {
		if inParagraph && !sawDepends {
			out.WriteString(FieldDepends + ": " + dependency + "\n")
			changed = true
		}
		inParagraph = false
	}

	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r\n")

		continues := strings.TrimSpace(trimmed) != "" && (trimmed[0] == ' ' || trimmed[0] == '\t')
		if len(depends) > 0 && continues {
			depends = append(depends, line)
			continue
		}

		flushDepends()

		switch {
		case strings.TrimSpace(trimmed) == "":
			closeParagraph()
		case trimmed == FieldPackage+": "+pkg:
			inParagraph = true
			sawDepends = false
		case inParagraph && strings.HasPrefix(trimmed, FieldDepends+":"):
			sawDepends = true
			depends = append(depends, line)
			continue
		}

		out.WriteString(line)
	}

	flushDepends()

	if inParagraph && !sawDepends {
		if !strings.HasSuffix(content, "\n") && content != "" {
			out.WriteString("\n")
		}
		closeParagraph()
	}

	patched = out.String()
	return
}

func dependsOn(dependsLine, dependency string) bool {
	value := strings.TrimPrefix(dependsLine, FieldDepends+":")

	for _, alternatives := range strings.Split(value, ",") {
		for _, alternative := range strings.Split(alternatives, "|") {
			fields := strings.Fields(alternative)
			if len(fields) > 0 && fields[0] == dependency {
				return true
			}
		}
	}

	return false
}

func writeAtomically(dest string, content []byte, mode os.FileMode) (err error) {
	tmp, err := ioutil.TempFile(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp")
	if err != nil {
		return
	}

	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	_, err = tmp.Write(content)
	if err != nil {
		tmp.Close()
		return
	}

	err = tmp.Sync()
	if err != nil {
		tmp.Close()
		return
	}

	err = tmp.Close()
	if err != nil {
		return
	}

	err = os.Chmod(tmp.Name(), mode)
	if err != nil {
		return
	}

	err = os.Rename(tmp.Name(), dest)
	return
}
