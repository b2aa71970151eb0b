package config

import (
	"bufio"
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/hashicorp/hcl2/gohcl"
	"github.com/hashicorp/hcl2/hcl"
	"github.com/hashicorp/hcl2/hcl/hclsyntax"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
)

// ParseFile reads and parses the configuration at `filename`.
//
func ParseFile(filename string, vars map[string]string) (cfg *Config, err error) {
	content, err := ioutil.ReadFile(filename)
	if err != nil {
		err = errors.Wrapf(err, "failed reading config file %s", filename)
		return
	}

	cfg, err = Parse(content, filename, vars)
	return
}

// Parse parses the contents of a given file `filename`, interpolating
// variables (`vars`), performing not only syntax, but also semantic checks.
//
func Parse(content []byte, filename string, vars map[string]string) (cfg *Config, err error) {
	f, diags := hclsyntax.ParseConfig(content, filename, hcl.Pos{})
	if diags.HasErrors() {
		err = errors.Wrapf(diags, "failed to parse")
		return
	}

	cfg = new(Config)

	diags = gohcl.DecodeBody(f.Body, createEvalContext(vars), cfg)
	if diags.HasErrors() {
		err = errors.Wrapf(diags, "failed to decode")
		return
	}

	err = cfg.ApplyDefaults()
	if err != nil {
		err = errors.Wrapf(err, "invalid configuration in %s", filename)
		return
	}

	return
}

// diagnosticContext is how many lines preceding the offending ones are
// shown along with a diagnostic.
//
const diagnosticContext = 2

// Lines is a 1-indexed view over the lines of a file.
//
type Lines struct {
	lines []string
}

func NewLines(content string) (l *Lines) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	l = new(Lines)

	for scanner.Scan() {
		l.lines = append(l.lines, scanner.Text())
	}

	return
}

func (l *Lines) Len() int {
	return len(l.lines)
}

// At returns the n-th line, starting from 1.
//
func (l *Lines) At(n int) string {
	if n < 1 || n > len(l.lines) {
		return ""
	}

	return l.lines[n-1]
}

// PrettyDiagnosticFile is PrettyDiagnostic for the file the diagnostic
// came from, falling back to the bare diagnostic if it can't be read.
//
func PrettyDiagnosticFile(filename string, diag *hcl.Diagnostic) (res string) {
	content, err := ioutil.ReadFile(filename)
	if err != nil {
		res = diag.Error()
		return
	}

	res = PrettyDiagnostic(string(content), diag)
	return
}

// PrettyDiagnostic renders a diagnostic along with the lines it refers to,
// underlining the offending range:
//
//	rootstrap.hcl:2,1-8: Unsupported argument; ...
//	   1 | suite = "xenial"
//	   2 | flavour = "vanilla"
//	     | ^^^^^^^
//
func PrettyDiagnostic(content string, diag *hcl.Diagnostic) (res string) {
	if diag.Subject == nil {
		res = diag.Error()
		return
	}

	var (
		buf     strings.Builder
		lines   = NewLines(content)
		subject = diag.Subject
		red     = color.New(color.FgRed, color.Bold).SprintFunc()
	)

	fmt.Fprintf(&buf, "%s: %s", subject, diag.Summary)
	if diag.Detail != "" {
		fmt.Fprintf(&buf, "; %s", diag.Detail)
	}
	buf.WriteString("\n")

	first := subject.Start.Line - diagnosticContext
	if first < 1 {
		first = 1
	}

	for n := first; n <= subject.End.Line && n <= lines.Len(); n++ {
		fmt.Fprintf(&buf, "%4d | %s\n", n, lines.At(n))
	}

	// ranges spanning several lines only get their start marked
	width := subject.End.Column - subject.Start.Column
	if width < 1 || subject.End.Line != subject.Start.Line {
		width = 1
	}

	indent := subject.Start.Column - 1
	if indent < 0 {
		indent = 0
	}

	fmt.Fprintf(&buf, "%4s | %s%s", "",
		strings.Repeat(" ", indent), red(strings.Repeat("^", width)))

	res = buf.String()
	return
}

// createEvalContext exposes `vars` as `var.<name>` and the environment of
// the process as `env.<NAME>`.
//
func createEvalContext(vars map[string]string) *hcl.EvalContext {
	var (
		variables   = map[string]cty.Value{}
		environment = map[string]cty.Value{}
	)

	for key, value := range vars {
		variables[key] = cty.StringVal(value)
	}

	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !hclsyntax.ValidIdentifier(parts[0]) {
			continue
		}

		environment[parts[0]] = cty.StringVal(parts[1])
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"var": cty.ObjectVal(variables),
			"env": cty.ObjectVal(environment),
		},
	}
}
