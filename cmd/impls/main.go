package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jward/impls"
	"github.com/jward/impls/internal/config"
	"github.com/jward/impls/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagDB      string
	flagFormat  string
	flagConfig  string
	flagVerbose bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// errCheckFailed makes a failing check exit 1 without an extra message.
var errCheckFailed = errors.New("check failed")

var logger = logging.NewNop()

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled && err != errCheckFailed {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "impls",
	Short:         "Check boolean interface-satisfaction assertions in Go code",
	Long:          "impls evaluates //impls: directives such as `//impls:assert *T: io.Reader & !io.Writer` against the type-checked package they appear in.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.New(logging.LevelFor(flagVerbose))
		slog.SetDefault(logger)
		return validateFormat(flagFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: .impls/index.db relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: .impls.yaml in the target or a parent)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging on stderr")

	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(genCmd)
	rootCmd.AddCommand(queryCmd)
}

var flagForce bool

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index the directives of a module",
	Long:  "Finds //impls: directives with tree-sitter and records them in the SQLite database. Unchanged files are skipped.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete database and reindex from scratch")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	ws, err := openWorkspace(args)
	if err != nil {
		return err
	}

	if flagForce {
		if err := os.Remove(ws.dbPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing database for --force: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Cleared database: %s\n", ws.dbPath)
	}

	engine, err := ws.newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.IndexDirectory(context.Background(), ws.target); err != nil {
		return fmt.Errorf("indexing: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Indexed %s in %s\n", ws.target, time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "Database: %s\n", ws.dbPath)
	return nil
}

// workspace is the resolved target, repository root and configuration for
// one command invocation.
type workspace struct {
	target   string
	repoRoot string
	dbPath   string
	cfg      *config.Config
}

// openWorkspace resolves the target directory from args, then the repo root,
// the configuration and the database path.
func openWorkspace(args []string) (*workspace, error) {
	target, err := resolveTargetDir(args)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(target)
	if err != nil {
		return nil, err
	}
	repoRoot := findRepoRoot(target)
	return &workspace{
		target:   target,
		repoRoot: repoRoot,
		dbPath:   resolveDBPath(repoRoot, cfg),
		cfg:      cfg,
	}, nil
}

// newEngine creates the database directory and an Engine configured from
// the workspace config.
func (ws *workspace) newEngine() (*impls.Engine, error) {
	if err := os.MkdirAll(filepath.Dir(ws.dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(ws.dbPath), err)
	}
	opts := []impls.Option{
		impls.WithLogger(logger),
		impls.WithInclude(ws.cfg.Include...),
		impls.WithExclude(ws.cfg.Exclude...),
		impls.WithBuildFlags(ws.cfg.BuildFlags...),
		impls.WithParallel(ws.cfg.Parallel),
	}
	if ws.cfg.RulesDir != "" {
		opts = append(opts, impls.WithRulesDir(config.Resolve(ws.repoRoot, ws.cfg.RulesDir)))
	}
	engine, err := impls.New(ws.dbPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return engine, nil
}

// loadConfig reads --config when given, otherwise the layered user and
// project configuration for dir.
func loadConfig(dir string) (*config.Config, error) {
	if flagConfig == "" {
		return config.NewLoader(logger).Load(dir)
	}
	cfg, err := config.LoadFromFile(flagConfig)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// resolveTargetDir returns the absolute path of the directory to work on.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag, the config,
// or the default, relative to repoRoot unless absolute.
func resolveDBPath(repoRoot string, cfg *config.Config) string {
	p := flagDB
	if p == "" && cfg != nil {
		p = cfg.DB
	}
	if p == "" {
		p = filepath.Join(".impls", "index.db")
	}
	return config.Resolve(repoRoot, p)
}
