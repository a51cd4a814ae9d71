package main

import (
	"fmt"
	"go/token"
	"strings"

	"github.com/jward/impls"
	"github.com/jward/impls/internal/extract"
	"github.com/spf13/cobra"
	"golang.org/x/tools/go/packages"
)

var (
	flagDir string
	flagPkg string
)

var evalCmd = &cobra.Command{
	Use:   "eval '<Type>: <Expression>'",
	Short: "Evaluate one expression at package scope",
	Long:  "Type-checks the package and evaluates the expression against the subject type in its package scope. Prints true or false.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEval,
}

func init() {
	evalCmd.Flags().StringVar(&flagDir, "dir", ".", "directory the package pattern is resolved from")
	evalCmd.Flags().StringVar(&flagPkg, "pkg", ".", "package whose scope names are resolved in")
}

// CLIEval is the JSON result of eval.
type CLIEval struct {
	Package string `json:"package"`
	Subject string `json:"subject"`
	Expr    string `json:"expr"`
	Value   bool   `json:"value"`
}

func runEval(cmd *cobra.Command, args []string) error {
	subject, expr, err := splitSubject(strings.Join(args, " "))
	if err != nil {
		return outputError("eval", err)
	}
	e, err := impls.Parse(expr)
	if err != nil {
		return outputError("eval", err)
	}

	pkgs, err := packages.Load(&packages.Config{
		Context: contextOf(cmd),
		Mode:    packages.NeedName | packages.NeedTypes | packages.NeedSyntax | packages.NeedTypesInfo | packages.NeedImports,
		Dir:     flagDir,
		Logf: func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		},
	}, flagPkg)
	if err != nil {
		return outputError("eval", fmt.Errorf("loading %s: %w", flagPkg, err))
	}
	if len(pkgs) != 1 {
		return outputError("eval", fmt.Errorf("pattern %q matched %d packages, want 1", flagPkg, len(pkgs)))
	}
	pkg := pkgs[0]
	if len(pkg.Errors) > 0 {
		return outputError("eval", fmt.Errorf("package %s does not type-check: %s", pkg.PkgPath, pkg.Errors[0]))
	}

	ok, err := impls.NewChecker(pkg.Fset, pkg.Types).Eval(token.NoPos, subject, e)
	if err != nil {
		return outputError("eval", err)
	}
	if flagFormat == "text" {
		fmt.Fprintln(cmd.OutOrStdout(), ok)
		return nil
	}
	return outputResult(CLIResult{Command: "eval", Results: CLIEval{
		Package: pkg.PkgPath,
		Subject: subject,
		Expr:    e.String(),
		Value:   ok,
	}})
}

// splitSubject splits "<Type>: <Expression>" the way a directive is split.
func splitSubject(arg string) (string, string, error) {
	d, err := extract.ParseDirective(extract.Prefix + extract.KindAssert + " " + arg)
	if err != nil {
		return "", "", err
	}
	return d.Subject, d.Expr, nil
}

var parseCmd = &cobra.Command{
	Use:   "parse '<Expression>'",
	Short: "Print the fully parenthesised form of an expression",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runParse,
}

// CLIParse is the JSON result of parse.
type CLIParse struct {
	Expr   string   `json:"expr"`
	Tree   string   `json:"tree"`
	Leaves []string `json:"leaves"`
}

func runParse(cmd *cobra.Command, args []string) error {
	e, err := impls.Parse(strings.Join(args, " "))
	if err != nil {
		return outputError("parse", err)
	}
	if flagFormat == "text" {
		fmt.Fprintln(cmd.OutOrStdout(), impls.Tree(e))
		return nil
	}
	var leaves []string
	for _, ref := range impls.Leaves(e) {
		leaves = append(leaves, ref.String())
	}
	return outputResult(CLIResult{Command: "parse", Results: CLIParse{
		Expr:   e.String(),
		Tree:   impls.Tree(e),
		Leaves: leaves,
	}})
}
