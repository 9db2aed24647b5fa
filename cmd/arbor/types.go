package main

import (
	"strings"
	"time"

	"github.com/jward/arbor"
	"github.com/jward/arbor/internal/diag"
)

// CLIResult is the top-level JSON envelope for all query commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLIMessage is a JSON-friendly diagnostic. File is empty for messages of
// the build itself.
type CLIMessage struct {
	File      string `json:"file,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	StartCol  int    `json:"start_col,omitempty"`
	Severity  string `json:"severity"`
	Kind      string `json:"kind,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Message   string `json:"message"`
}

// CLIBuild summarizes one Build call.
type CLIBuild struct {
	BuildID     string       `json:"build_id"`
	Changed     int          `json:"changed"`
	Removed     int          `json:"removed"`
	Errors      int          `json:"errors"`
	Warnings    int          `json:"warnings"`
	Outputs     []string     `json:"outputs,omitempty"`
	Interrupted bool         `json:"interrupted"`
	Messages    []CLIMessage `json:"messages"`
}

// CLIFileStatus is a JSON-friendly file status.
type CLIFileStatus struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Parse    string `json:"parse,omitempty"`
	Analysis string `json:"analysis,omitempty"`
	Success  bool   `json:"success"`
	Errors   int    `json:"errors"`
	Warnings int    `json:"warnings"`
	Error    string `json:"error,omitempty"`
}

// CLIBuildLog is one entry of the build log.
type CLIBuildLog struct {
	ID          string     `json:"id"`
	Location    string     `json:"location"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Changed     int        `json:"changed"`
	Removed     int        `json:"removed"`
	Errors      int        `json:"errors"`
	Warnings    int        `json:"warnings"`
	Interrupted bool       `json:"interrupted"`
}

// CLIResultFile is the analysis result of one file.
type CLIResultFile struct {
	CLIFileStatus
	Context string `json:"context,omitempty"`
	AST     string `json:"ast,omitempty"`
}

func toCLIMessage(d diag.Diagnostic) CLIMessage {
	m := CLIMessage{
		File:     d.Resource,
		Severity: strings.ToLower(d.Severity.String()),
		Kind:     string(d.Kind),
		Message:  d.Message,
	}
	if d.Cause != nil {
		m.Message += ": " + d.Cause.Error()
	}
	if d.Region != nil {
		m.StartLine, m.StartCol = d.Region.StartLine, d.Region.StartCol
	}
	return m
}

func storedToCLIMessage(d *arbor.StoredDiagnostic) CLIMessage {
	m := CLIMessage{
		File:     d.Path,
		Severity: d.Severity,
		Kind:     d.Kind,
		Stage:    string(d.Stage),
		Message:  d.Message,
	}
	if d.StartLine != nil {
		m.StartLine = *d.StartLine
	}
	if d.StartCol != nil {
		m.StartCol = *d.StartCol
	}
	return m
}

func toCLIBuild(out *arbor.BuildOutput) CLIBuild {
	all := out.AllMessages()
	all.Sort()
	b := CLIBuild{
		BuildID:     out.BuildID,
		Changed:     len(out.Changed),
		Removed:     len(out.Removed),
		Errors:      all.Count(diag.Error),
		Warnings:    all.Count(diag.Warning),
		Interrupted: out.Interrupted,
		Messages:    make([]CLIMessage, 0, len(all)),
	}
	for _, tr := range out.TransformResults {
		for _, o := range tr.Outputs {
			b.Outputs = append(b.Outputs, o.Path)
		}
	}
	for _, d := range all {
		b.Messages = append(b.Messages, toCLIMessage(d))
	}
	return b
}

func toCLIFileStatus(f *arbor.FileStatus) CLIFileStatus {
	return CLIFileStatus{
		Path:     f.Path,
		Language: f.Language,
		Parse:    string(f.Parse),
		Analysis: string(f.Analysis),
		Success:  f.Success,
		Errors:   f.Errors,
		Warnings: f.Warnings,
		Error:    f.Error,
	}
}

func toCLIResultFile(f *arbor.FileStatus) CLIResultFile {
	r := CLIResultFile{CLIFileStatus: toCLIFileStatus(f), Context: f.Context}
	if f.AST != nil {
		r.AST = f.AST.String()
	}
	return r
}

func toCLIBuildLog(b *arbor.Build) CLIBuildLog {
	return CLIBuildLog{
		ID:          b.ID,
		Location:    b.Location,
		StartedAt:   b.StartedAt,
		FinishedAt:  b.FinishedAt,
		Changed:     b.Changed,
		Removed:     b.Removed,
		Errors:      b.Errors,
		Warnings:    b.Warnings,
		Interrupted: b.Interrupted,
	}
}
