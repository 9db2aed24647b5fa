package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/jward/arbor"
)

var validFormats = []string{"json", "text"}

func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}

var (
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	green  = color.New(color.FgGreen)
)

func severityColor(sev string) *color.Color {
	switch sev {
	case "error":
		return red
	case "warning":
		return yellow
	}
	return cyan
}

// formatMessagesText writes one "file:line:col: severity: message" line per
// message, coloring the severity.
func formatMessagesText(w io.Writer, msgs []CLIMessage) {
	for _, m := range msgs {
		if m.File != "" {
			fmt.Fprint(w, m.File)
			if m.StartLine > 0 {
				fmt.Fprintf(w, ":%d:%d", m.StartLine, m.StartCol)
			}
			fmt.Fprint(w, ": ")
		}
		severityColor(m.Severity).Fprint(w, m.Severity)
		fmt.Fprintf(w, ": %s\n", m.Message)
	}
}

// formatBuildText writes the messages of a build followed by a summary line.
func formatBuildText(w io.Writer, b CLIBuild) {
	formatMessagesText(w, b.Messages)
	for _, o := range b.Outputs {
		fmt.Fprintf(w, "wrote %s\n", o)
	}
	summary := green
	switch {
	case b.Errors > 0:
		summary = red
	case b.Warnings > 0:
		summary = yellow
	}
	status := "built"
	if b.Interrupted {
		status = "interrupted"
	}
	summary.Fprintf(w, "%s: %d changed, %d removed, %d errors, %d warnings\n",
		status, b.Changed, b.Removed, b.Errors, b.Warnings)
}

func formatStatusText(w io.Writer, files []CLIFileStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tLANGUAGE\tPARSE\tANALYSIS\tERRORS\tWARNINGS")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			f.Path, f.Language, f.Parse, f.Analysis, f.Errors, f.Warnings)
	}
	tw.Flush()
}

func formatBuildsText(w io.Writer, builds []CLIBuildLog) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tCHANGED\tREMOVED\tERRORS\tWARNINGS")
	for _, b := range builds {
		dur := "-"
		if b.FinishedAt != nil {
			dur = b.FinishedAt.Sub(b.StartedAt).Round(time.Millisecond).String()
		}
		if b.Interrupted {
			dur += " (interrupted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			b.ID, b.StartedAt.Local().Format(time.DateTime), dur, b.Changed, b.Removed, b.Errors, b.Warnings)
	}
	tw.Flush()
}

func formatResultText(w io.Writer, r CLIResultFile) {
	fmt.Fprintf(w, "File: %s\n", r.Path)
	fmt.Fprintf(w, "Language: %s\n", r.Language)
	fmt.Fprintf(w, "Analysis: %s (success: %t)\n", r.Analysis, r.Success)
	if r.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}
	if r.AST != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, r.AST)
	}
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(os.Stdout, result)
	}
	return writeJSON(os.Stdout, result)
}

// outputResultText dispatches to the text formatter of the result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch r := result.Results.(type) {
	case []CLIMessage:
		formatMessagesText(w, r)
	case []CLIFileStatus:
		formatStatusText(w, r)
	case []CLIBuildLog:
		formatBuildsText(w, r)
	case CLIResultFile:
		formatResultText(w, r)
	default:
		return writeJSON(w, result)
	}
	return nil
}

// outputBuild prints one build in the selected format.
func outputBuild(w io.Writer, out *arbor.BuildOutput) error {
	b := toCLIBuild(out)
	if flagFormat == "text" {
		formatBuildText(w, b)
		return nil
	}
	return writeJSON(w, CLIResult{Command: "build", Results: b})
}

// outputError reports err in the selected format and marks it handled.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	_ = writeJSON(os.Stdout, CLIResult{Command: command, Error: err.Error()})
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
