// Package diag holds the diagnostics produced while building and the error
// types that are turned into them.
package diag

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Severity defines the importance of a diagnostic.
type Severity uint8

const (
	Note Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Note:
		return "NOTE"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	}
	return "UNKNOWN"
}

// ParseSeverity accepts the names produced by String in any case, plus "info".
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToUpper(s) {
	case "NOTE", "INFO":
		return Note, true
	case "WARNING", "WARN":
		return Warning, true
	case "ERROR":
		return Error, true
	}
	return Note, false
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, ok := ParseSeverity(string(b))
	if !ok {
		return fmt.Errorf("diag: unknown severity %q", b)
	}
	*s = v
	return nil
}

// Kind names the stage a diagnostic came from.
type Kind string

const (
	KindParse     Kind = "parse"
	KindAnalysis  Kind = "analysis"
	KindTransform Kind = "transform"
	KindBuilder   Kind = "builder"
)

// Region is a 1-based source span. A nil Region means the top of the resource.
type Region struct {
	StartLine int `json:"start_line"`
	StartCol  int `json:"start_col"`
	EndLine   int `json:"end_line"`
	EndCol    int `json:"end_col"`
}

type Diagnostic struct {
	Resource string   `json:"resource,omitempty"`
	Severity Severity `json:"severity"`
	Kind     Kind     `json:"kind"`
	Message  string   `json:"message"`
	Region   *Region  `json:"region,omitempty"`
	Cause    error    `json:"-"`
}

func (d Diagnostic) String() string {
	var b strings.Builder
	if d.Resource != "" {
		b.WriteString(d.Resource)
		if d.Region != nil {
			fmt.Fprintf(&b, ":%d:%d", d.Region.StartLine, d.Region.StartCol)
		}
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(d.Severity.String()))
	b.WriteString(": ")
	b.WriteString(d.Message)
	if d.Cause != nil {
		b.WriteString(": ")
		b.WriteString(d.Cause.Error())
	}
	return b.String()
}

// AtTop builds a diagnostic attached to the top of resource.
func AtTop(resource string, sev Severity, kind Kind, msg string, cause error) Diagnostic {
	return Diagnostic{Resource: resource, Severity: sev, Kind: kind, Message: msg, Cause: cause}
}

// Top builds a batch-level diagnostic that belongs to no resource.
func Top(sev Severity, kind Kind, msg string, cause error) Diagnostic {
	return Diagnostic{Severity: sev, Kind: kind, Message: msg, Cause: cause}
}

// Messages is an ordered diagnostic list.
type Messages []Diagnostic

// HasErrors reports whether any entry has Error severity.
func (m Messages) HasErrors() bool {
	for i := range m {
		if m[i].Severity >= Error {
			return true
		}
	}
	return false
}

// Count returns the number of entries with exactly severity sev.
func (m Messages) Count(sev Severity) int {
	n := 0
	for i := range m {
		if m[i].Severity == sev {
			n++
		}
	}
	return n
}

// Errors returns the Error-severity entries.
func (m Messages) Errors() Messages {
	var out Messages
	for _, d := range m {
		if d.Severity >= Error {
			out = append(out, d)
		}
	}
	return out
}

// Sort orders by resource, then position, keeping insertion order for ties.
func (m Messages) Sort() {
	slices.SortStableFunc(m, func(a, b Diagnostic) int {
		if c := cmp.Compare(a.Resource, b.Resource); c != 0 {
			return c
		}
		return cmp.Compare(line(a), line(b))
	})
}

func line(d Diagnostic) int {
	if d.Region == nil {
		return 0
	}
	return d.Region.StartLine
}
