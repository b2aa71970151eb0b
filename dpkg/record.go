package dpkg

import (
	"strings"
)

// Field is a single `Name: Value` entry of a paragraph. Multi-line values
// have their lines joined by `\n`, without the leading whitespace that marks
// a continuation.
//
type Field struct {
	Name  string
	Value string
}

// Record is one paragraph of an RFC822-like file (`status`, `available`,
// apt `Packages` indexes, control files).
//
// Fields keep the order in which they were first seen. Setting a field that
// already exists replaces its value in place.
//
type Record struct {
	fields []Field
	index  map[string]int
}

func NewRecord(fields ...Field) (r Record) {
	for _, f := range fields {
		r.Set(f.Name, f.Value)
	}

	return
}

func (r *Record) Set(name, value string) {
	if r.index == nil {
		r.index = map[string]int{}
	}

	if idx, found := r.index[name]; found {
		r.fields[idx].Value = value
		return
	}

	r.index[name] = len(r.fields)
	r.fields = append(r.fields, Field{Name: name, Value: value})
}

func (r Record) Get(name string) (value string, found bool) {
	idx, found := r.index[name]
	if !found {
		return
	}

	value = r.fields[idx].Value
	return
}

// Value returns the value of the field `name`, or an empty string if the
// paragraph does not carry it.
//
func (r Record) Value(name string) string {
	value, _ := r.Get(name)
	return value
}

func (r Record) Has(name string) bool {
	_, found := r.index[name]
	return found
}

func (r Record) Fields() []Field {
	return append([]Field(nil), r.fields...)
}

func (r Record) Len() int {
	return len(r.fields)
}

func (r Record) IsEmpty() bool {
	return len(r.fields) == 0
}

// String renders the paragraph back into its textual form, one field per
// line, continuation lines prefixed with a single space. No paragraph
// terminator is appended.
//
func (r Record) String() string {
	var b strings.Builder

	for _, f := range r.fields {
		lines := strings.Split(f.Value, "\n")

		b.WriteString(f.Name)
		b.WriteString(":")
		if lines[0] != "" {
			b.WriteString(" ")
			b.WriteString(lines[0])
		}
		b.WriteString("\n")

		for _, line := range lines[1:] {
			b.WriteString(" ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// Conffile is a configuration file tracked by the package manager together
// with the md5 digest of its content at installation time.
//
type Conffile struct {
	Path   string `yaml:"path"`
	Digest string `yaml:"digest"`
}

// ParseConffiles interprets the value of a `Conffiles` field.
//
func ParseConffiles(value string) (conffiles []Conffile) {
	for _, line := range strings.Split(value, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		conffiles = append(conffiles, Conffile{
			Path:   fields[0],
			Digest: fields[1],
		})
	}

	return
}

// FormatConffiles renders conffiles as the value of a `Conffiles` field: an
// empty first line followed by one `path digest` line per entry.
//
func FormatConffiles(conffiles []Conffile) string {
	lines := make([]string, 0, len(conffiles)+1)
	lines = append(lines, "")

	for _, c := range conffiles {
		lines = append(lines, c.Path+" "+c.Digest)
	}

	return strings.Join(lines, "\n")
}
