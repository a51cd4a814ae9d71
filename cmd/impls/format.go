package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/muesli/termenv"
)

// statusLabel renders a verdict status, coloured when out is a terminal.
func statusLabel(out *termenv.Output, status string) string {
	label, color := "ERROR", "3"
	switch status {
	case "pass":
		label, color = "PASS", "2"
	case "fail":
		label, color = "FAIL", "1"
	}
	if out.Profile == termenv.Ascii {
		return label
	}
	style := out.String(label).Foreground(out.Color(color))
	if status != "pass" {
		style = style.Bold()
	}
	return style.String()
}

// formatReportText prints failing verdicts as "file:line:col" lines, then
// violations, rule errors and a summary.
func formatReportText(w io.Writer, r CLIReport) {
	out := termenv.NewOutput(w)
	for _, v := range r.Verdicts {
		if v.Status == "pass" {
			continue
		}
		d := v.Directive
		fmt.Fprintf(w, "%s:%d:%d: %s %s: %s", d.File, d.Line, d.Col, statusLabel(out, v.Status), d.Subject, d.Expr)
		if v.Error != "" {
			fmt.Fprintf(w, ": %s", v.Error)
		}
		fmt.Fprintln(w)
	}
	for _, v := range r.Violations {
		fmt.Fprintf(w, "%s: %s %s\n", v.Rule, statusLabel(out, "fail"), v.Message)
	}
	for _, e := range r.RuleErrors {
		fmt.Fprintf(w, "%s %s\n", statusLabel(out, "error"), e)
	}

	summary := "ok"
	if !r.OK {
		summary = "FAILED"
	}
	fmt.Fprintf(w, "%s: %d passed, %d failed, %d errored", summary, r.Passed, r.Failed, r.Errored)
	if len(r.Violations) > 0 {
		fmt.Fprintf(w, ", %d violation(s)", len(r.Violations))
	}
	fmt.Fprintln(w)
}

// formatDirectivesText formats CLIDirective results as aligned columns.
func formatDirectivesText(w io.Writer, ds []CLIDirective) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tNAME\tSUBJECT\tEXPR\tLOCATION\tFUNC")
	for _, d := range ds {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s:%d:%d\t%s\n",
			d.ID, d.Kind, d.Name, d.Subject, d.Expr, d.File, d.Line, d.Col, d.FuncName)
	}
	tw.Flush()
}

// formatVerdictsText formats CLIVerdict results as aligned columns.
func formatVerdictsText(w io.Writer, vs []CLIVerdict) {
	out := termenv.NewOutput(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tLOCATION\tSUBJECT\tEXPR\tERROR")
	for _, v := range vs {
		d := v.Directive
		fmt.Fprintf(tw, "%s\t%s:%d:%d\t%s\t%s\t%s\n",
			statusLabel(out, v.Status), d.File, d.Line, d.Col, d.Subject, d.Expr, v.Error)
	}
	tw.Flush()
}

// formatViolationsText formats CLIViolation results as aligned columns.
func formatViolationsText(w io.Writer, vs []CLIViolation) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tPACKAGE\tMESSAGE")
	for _, v := range vs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Rule, v.Package, v.Message)
	}
	tw.Flush()
}

// formatRunsText formats CLIRun results as aligned columns.
func formatRunsText(w io.Writer, runs []CLIRun) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tPASSED\tFAILED\tERRORED\tROOT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Passed, r.Failed, r.Errored, r.Root)
	}
	tw.Flush()
}

// formatHistoryText formats CLIHistory results as aligned columns.
func formatHistoryText(w io.Writer, hs []CLIHistory) {
	out := termenv.NewOutput(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tRUN\tSTARTED\tERROR")
	for _, h := range hs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			statusLabel(out, h.Status), h.RunID, h.StartedAt.Local().Format(time.DateTime), h.Error)
	}
	tw.Flush()
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLIReport:
		formatReportText(w, v)
	case []CLIDirective:
		formatDirectivesText(w, v)
	case []CLIVerdict:
		formatVerdictsText(w, v)
	case []CLIViolation:
		formatViolationsText(w, v)
	case []CLIRun:
		formatRunsText(w, v)
	case []CLIHistory:
		formatHistoryText(w, v)
	case []string:
		for _, s := range v {
			fmt.Fprintln(w, s)
		}
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}

	// Pagination footer.
	if result.TotalCount != nil {
		count := *result.TotalCount
		shown := resultLen(result.Results)
		if shown < count {
			fmt.Fprintf(w, "\nShowing %d of %d results\n", shown, count)
		}
	}
	return nil
}

// resultLen returns the length of a result slice, or 1 for a single value.
func resultLen(v any) int {
	switch r := v.(type) {
	case []CLIDirective:
		return len(r)
	case []CLIVerdict:
		return len(r)
	case []CLIViolation:
		return len(r)
	case []CLIRun:
		return len(r)
	case []CLIHistory:
		return len(r)
	case []string:
		return len(r)
	case nil:
		return 0
	default:
		return 1
	}
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
