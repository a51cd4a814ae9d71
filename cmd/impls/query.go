package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jward/impls"
	"github.com/spf13/cobra"
)

var (
	flagLimit   int
	flagOffset  int
	flagKind    string
	flagPath    string
	flagSubject string
	flagFunc    string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the index and recorded check runs",
	Long:  "Read directives, failures, violations and runs from the database written by index and check. Line and column numbers are 1-based.",
}

func init() {
	queryCmd.PersistentFlags().IntVar(&flagLimit, "limit", 50, "pagination limit (max 500)")
	queryCmd.PersistentFlags().IntVar(&flagOffset, "offset", 0, "pagination offset")

	directivesCmd.Flags().StringVar(&flagKind, "kind", "", "filter by kind: assert|const")
	directivesCmd.Flags().StringVar(&flagPath, "path", "", "only directives in files under this directory")
	directivesCmd.Flags().StringVar(&flagSubject, "subject", "", "only directives about this subject type")
	directivesCmd.Flags().StringVar(&flagFunc, "func", "", "only directives inside this function")

	queryCmd.AddCommand(directivesCmd)
	queryCmd.AddCommand(failuresCmd)
	queryCmd.AddCommand(violationsCmd)
	queryCmd.AddCommand(runsCmd)
	queryCmd.AddCommand(historyCmd)
}

// --- Helpers ---

// openQuery opens the engine over an existing database from the --db flag
// path (or the configured default) and returns it with the indexed root.
func openQuery() (*impls.Engine, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("getting cwd: %w", err)
	}
	cfg, err := loadConfig(cwd)
	if err != nil {
		return nil, "", err
	}
	dbPath := resolveDBPath(findRepoRoot(cwd), cfg)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, "", fmt.Errorf("database not found: %s (run 'impls index' first)", dbPath)
	}

	engine, err := impls.New(dbPath, impls.WithLogger(logger))
	if err != nil {
		return nil, "", err
	}
	root, err := engine.Store().GetMetadata("root")
	if err != nil {
		engine.Close()
		return nil, "", err
	}
	return engine, root, nil
}

// resolveDirPath converts a directory argument to the canonical absolute
// form paths are indexed under.
func resolveDirPath(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

// relPath renders path relative to root when it lies inside it.
func relPath(root, path string) string {
	if root == "" {
		return path
	}
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(os.Stdout, result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// buildPagination creates a Pagination from CLI flags.
func buildPagination() impls.Pagination {
	return impls.Pagination{
		Limit:  flagLimit,
		Offset: flagOffset,
	}
}

func directiveToCLI(d impls.Directive, path, root string) CLIDirective {
	return CLIDirective{
		ID:       d.ID,
		Kind:     d.Kind,
		Name:     d.Name,
		Subject:  d.Subject,
		Expr:     d.Expr,
		File:     relPath(root, path),
		Line:     d.Line + 1,
		Col:      d.Col + 1,
		FuncName: d.FuncName,
	}
}

func runToCLI(r *impls.Run) CLIRun {
	return CLIRun{
		ID:         r.ID,
		Root:       r.Root,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Passed:     r.Passed,
		Failed:     r.Failed,
		Errored:    r.Errored,
	}
}

func violationsToCLI(vs []*impls.Violation) []CLIViolation {
	out := make([]CLIViolation, 0, len(vs))
	for _, v := range vs {
		out = append(out, CLIViolation{Rule: v.Rule, Package: v.Package, Message: v.Message})
	}
	return out
}

// reportToCLI converts a check report, with paths relative to its root.
func reportToCLI(r *impls.Report) CLIReport {
	out := CLIReport{
		RunID:      r.RunID,
		OK:         r.OK(),
		Passed:     r.Passed,
		Failed:     r.Failed,
		Errored:    r.Errored,
		Verdicts:   make([]CLIVerdict, 0, len(r.Results)),
		Violations: violationsToCLI(r.Violations),
		RuleErrors: r.RuleErrors,
	}
	for _, res := range r.Results {
		v := CLIVerdict{
			Directive: directiveToCLI(res.Directive, res.Path, r.Root),
			Status:    res.Status(),
			Error:     res.Err,
		}
		if res.Err == "" {
			value := res.Value
			v.Value = &value
		}
		out.Verdicts = append(out.Verdicts, v)
	}
	return out
}

// --- Commands ---

var directivesCmd = &cobra.Command{
	Use:   "directives",
	Short: "List indexed directives",
	Args:  cobra.NoArgs,
	RunE:  runDirectives,
}

func runDirectives(cmd *cobra.Command, args []string) error {
	engine, root, err := openQuery()
	if err != nil {
		return outputError("directives", err)
	}
	defer engine.Close()

	var filter impls.DirectiveFilter
	if flagKind != "" {
		filter.Kinds = strings.Split(flagKind, ",")
	}
	if cmd.Flags().Changed("path") {
		dir, err := resolveDirPath(flagPath)
		if err != nil {
			return outputError("directives", err)
		}
		filter.PathPrefix = &dir
	}
	if cmd.Flags().Changed("subject") {
		filter.Subject = &flagSubject
	}
	if cmd.Flags().Changed("func") {
		filter.FuncName = &flagFunc
	}

	page, err := engine.Query().Directives(filter, buildPagination())
	if err != nil {
		return outputError("directives", err)
	}
	results := make([]CLIDirective, 0, len(page.Items))
	for _, d := range page.Items {
		results = append(results, directiveToCLI(d.Directive, d.FilePath, root))
	}
	total := page.TotalCount
	return outputResult(CLIResult{Command: "directives", Results: results, TotalCount: &total})
}

var failuresCmd = &cobra.Command{
	Use:   "failures [run-id]",
	Short: "List failing and errored directives of a run (default: latest)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFailures,
}

func runFailures(cmd *cobra.Command, args []string) error {
	engine, root, err := openQuery()
	if err != nil {
		return outputError("failures", err)
	}
	defer engine.Close()

	failures, err := engine.Query().Failures(runArg(args))
	if err != nil {
		return outputError("failures", err)
	}
	results := make([]CLIVerdict, 0, len(failures))
	for _, f := range failures {
		v := CLIVerdict{
			Directive: directiveToCLI(f.Directive, f.Path, root),
			Status:    "fail",
			Error:     f.Error,
		}
		if f.Error != "" {
			v.Status = "error"
		} else {
			v.Value = new(bool)
		}
		results = append(results, v)
	}
	return outputResult(CLIResult{Command: "failures", Results: results})
}

var violationsCmd = &cobra.Command{
	Use:   "violations [run-id]",
	Short: "List rule violations of a run (default: latest)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runViolations,
}

func runViolations(cmd *cobra.Command, args []string) error {
	engine, _, err := openQuery()
	if err != nil {
		return outputError("violations", err)
	}
	defer engine.Close()

	vs, err := engine.Query().Violations(runArg(args))
	if err != nil {
		return outputError("violations", err)
	}
	return outputResult(CLIResult{Command: "violations", Results: violationsToCLI(vs)})
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded check runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func runRuns(cmd *cobra.Command, args []string) error {
	engine, _, err := openQuery()
	if err != nil {
		return outputError("runs", err)
	}
	defer engine.Close()

	runs, err := engine.Query().Runs(flagLimit)
	if err != nil {
		return outputError("runs", err)
	}
	results := make([]CLIRun, 0, len(runs))
	for _, r := range runs {
		results = append(results, runToCLI(r))
	}
	return outputResult(CLIResult{Command: "runs", Results: results})
}

func runArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

var historyCmd = &cobra.Command{
	Use:   "history <directive-id>",
	Short: "List a directive's verdicts across runs, newest first",
	Long:  "List a directive's verdicts across runs, newest first. Verdicts recorded before the directive moved within its package are included.",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return outputError("history", fmt.Errorf("invalid directive id %q", args[0]))
	}
	engine, _, err := openQuery()
	if err != nil {
		return outputError("history", err)
	}
	defer engine.Close()

	d, entries, err := engine.Query().History(id, flagLimit)
	if err != nil {
		return outputError("history", err)
	}
	if d == nil {
		return outputError("history", fmt.Errorf("directive %d not found", id))
	}
	results := make([]CLIHistory, 0, len(entries))
	for _, h := range entries {
		results = append(results, historyToCLI(d.Kind, h))
	}
	return outputResult(CLIResult{Command: "history", Results: results})
}

func historyToCLI(kind string, h *impls.HistoryEntry) CLIHistory {
	out := CLIHistory{RunID: h.RunID, StartedAt: h.StartedAt, Value: h.Result, Error: h.Error}
	switch {
	case h.Result == nil:
		out.Status = "error"
	case *h.Result || kind == impls.KindConst:
		out.Status = "pass"
	default:
		out.Status = "fail"
	}
	return out
}
