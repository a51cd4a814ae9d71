package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jward/impls"
	"github.com/jward/impls/internal/watch"
	"github.com/spf13/cobra"
)

var flagWatch bool

var checkCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Evaluate every directive and run rule scripts",
	Long:  "Indexes the module, type-checks each package holding directives and evaluates them in scope. Exits 1 when an assertion fails, a directive cannot be evaluated or a rule reports a violation.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&flagWatch, "watch", false, "re-run the check whenever a Go file changes")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(args)
	if err != nil {
		return outputError("check", err)
	}
	engine, err := ws.newEngine()
	if err != nil {
		return outputError("check", err)
	}
	defer engine.Close()

	if flagWatch {
		return watchCheck(contextOf(cmd), ws, engine)
	}

	report, err := engine.Check(contextOf(cmd), ws.target)
	if err != nil {
		return outputError("check", err)
	}
	if err := outputResult(CLIResult{Command: "check", Results: reportToCLI(report)}); err != nil {
		return err
	}
	if !report.OK() {
		return errCheckFailed
	}
	return nil
}

// watchCheck runs a check, then another after every debounced batch of
// changes, until interrupted.
func watchCheck(parent context.Context, ws *workspace, engine *impls.Engine) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := watch.New(watch.Config{
		Root:     ws.target,
		Debounce: ws.cfg.Watch.Debounce,
		Match:    engine.Matches,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer w.Close()
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	runOnce := func() {
		report, err := engine.Check(ctx, ws.target)
		if err != nil {
			if ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			}
			return
		}
		_ = outputResult(CLIResult{Command: "check", Results: reportToCLI(report)})
	}

	runOnce()
	for batch := range w.Batches() {
		logger.Info("files changed", "count", len(batch), "first", batch[0])
		runOnce()
	}
	return nil
}

var genCmd = &cobra.Command{
	Use:   "gen [path]",
	Short: "Write impls_gen.go constants for //impls:const directives",
	Long:  "Evaluates every //impls:const directive and writes one impls_gen.go per package. Files for packages without consts are removed.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGen,
}

func runGen(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(args)
	if err != nil {
		return outputError("gen", err)
	}
	engine, err := ws.newEngine()
	if err != nil {
		return outputError("gen", err)
	}
	defer engine.Close()

	written, err := engine.Generate(contextOf(cmd), ws.target)
	if err != nil {
		return outputError("gen", err)
	}
	base, err := resolveDirPath(ws.target)
	if err != nil {
		return outputError("gen", err)
	}
	files := make([]string, 0, len(written))
	for _, p := range written {
		files = append(files, relPath(base, p))
	}
	return outputResult(CLIResult{Command: "gen", Results: files})
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
