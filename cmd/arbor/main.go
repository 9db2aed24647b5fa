package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/arbor"
	"github.com/jward/arbor/internal/config"
	"github.com/jward/arbor/internal/logging"
	"github.com/jward/arbor/scripts"
)

var (
	flagFormat string
	flagDir    string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// errBuildFailed reports a build with errors. The messages were printed.
var errBuildFailed = errors.New("build failed")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled && !errors.Is(err, errBuildFailed) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "arbor",
	Short:         "Incremental, script-driven build pipeline for tree-sitter languages",
	Long:          "Arbor parses source files with tree-sitter, analyzes them with constraint-generating Risor scripts and transforms the results, rebuilding only what changed.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagFormat, "format", "text", "output format: json|text")
	pf.StringVar(&flagDir, "dir", "", "project directory (default: nearest ancestor with "+config.FileName+")")
	pf.String("db", "", "database path (default: .arbor/arbor.db in the project)")
	pf.String("scripts-dir", "", "load scripts from disk instead of the bundled ones")
	pf.String("log-level", "", "log level: debug|info|warn|error")
	pf.String("log-format", "", "log format: text|json")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(buildsCmd)
	rootCmd.AddCommand(resultCmd)
}

// --- Build ---

var (
	flagChanged []string
	flagRemoved []string
	flagFull    bool
)

var buildCmd = &cobra.Command{
	Use:   "build [path]",
	Short: "Build the project below path",
	Long: "Builds the given changes, or every source file when none are given. " +
		"A change to the scripts since the last build forces a full build.",
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	f := buildCmd.Flags()
	f.StringSliceVar(&flagChanged, "changed", nil, "added or modified files")
	f.StringSliceVar(&flagRemoved, "removed", nil, "deleted files")
	f.BoolVar(&flagFull, "full", false, "build every source file")
	f.String("out-dir", "", "transform output directory")
	f.String("goal", "", "transform goal")
	f.Bool("parallel", false, "analyze contexts in parallel")
	f.Int("workers", 0, "parallel workers (default: number of CPUs)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd, args)
	if err != nil {
		return outputError("build", err)
	}
	defer env.b.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	changes, err := explicitChanges(env.dir, flagChanged, flagRemoved)
	if err != nil {
		return outputError("build", err)
	}
	if flagFull || len(changes) == 0 || env.b.ScriptsChanged() {
		env.logger.Debug("full build", "dir", env.dir)
		all, err := env.b.Sources(ctx, env.dir)
		if err != nil {
			return outputError("build", err)
		}
		changes = append(all, removedOnly(changes)...)
	}

	out, err := env.b.Build(ctx, env.dir, changes)
	if err != nil {
		return outputError("build", err)
	}
	if err := outputBuild(os.Stdout, out); err != nil {
		return err
	}
	if !out.Succeeded() {
		return errBuildFailed
	}
	return nil
}

// explicitChanges turns the --changed and --removed flags into changes.
func explicitChanges(dir string, changed, removed []string) ([]arbor.Change, error) {
	var out []arbor.Change
	for _, group := range []struct {
		paths []string
		kind  arbor.ChangeKind
	}{{changed, arbor.Modify}, {removed, arbor.Delete}} {
		for _, p := range group.paths {
			abs, err := resolveFilePath(dir, p)
			if err != nil {
				return nil, err
			}
			out = append(out, arbor.Change{Resource: arbor.ResourceID(abs), Kind: group.kind})
		}
	}
	return out, nil
}

func removedOnly(changes []arbor.Change) []arbor.Change {
	var out []arbor.Change
	for _, c := range changes {
		if c.Kind == arbor.Delete {
			out = append(out, c)
		}
	}
	return out
}

// --- Clean ---

var cleanCmd = &cobra.Command{
	Use:   "clean [path]",
	Short: "Drop the analysis state and persisted results of the project",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd, args)
		if err != nil {
			return outputError("clean", err)
		}
		defer env.b.Close()
		if err := env.b.Clean(cmd.Context(), env.dir); err != nil {
			return outputError("clean", err)
		}
		env.logger.Info("cleaned", "dir", env.dir)
		return nil
	},
}

// --- Shared setup ---

type cmdEnv struct {
	dir    string
	cfg    *config.Config
	logger *slog.Logger
	b      *arbor.Builder
}

// setup resolves the project directory, loads its configuration and opens
// a Builder on it.
func setup(cmd *cobra.Command, args []string) (*cmdEnv, error) {
	target, err := resolveTargetDir(args)
	if err != nil {
		return nil, err
	}
	dir := target
	if flagDir != "" {
		if dir, err = filepath.Abs(flagDir); err != nil {
			return nil, fmt.Errorf("resolving --dir: %w", err)
		}
	} else if len(args) == 0 {
		dir = findProjectRoot(target)
	}
	env, err := loadEnv(cmd, dir)
	if err != nil {
		return nil, err
	}
	if env.b, err = openBuilder(env.cfg, env.logger); err != nil {
		return nil, err
	}
	return env, nil
}

// loadEnv loads the configuration of dir and builds the logger.
func loadEnv(cmd *cobra.Command, dir string) (*cmdEnv, error) {
	cfg, err := config.Load(dir, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return &cmdEnv{dir: dir, cfg: cfg, logger: logger}, nil
}

// openBuilder creates the database directory and a Builder configured from
// cfg. The bundled scripts are used when cfg.ScriptsDir does not exist.
func openBuilder(cfg *config.Config, logger *slog.Logger) (*arbor.Builder, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DB), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(cfg.DB), err)
	}
	opts := []arbor.Option{
		arbor.WithLogger(logger),
		arbor.WithParallel(cfg.Parallel),
		arbor.WithWorkers(cfg.Workers),
		arbor.WithOutDir(cfg.OutDir),
		arbor.WithGoal(cfg.Goal),
		arbor.WithDebug(cfg.Debug),
		arbor.WithIgnore(cfg.Ignore...),
		arbor.WithDialectExt(cfg.DialectExt),
	}
	if info, err := os.Stat(cfg.ScriptsDir); err != nil || !info.IsDir() {
		logger.Debug("using bundled scripts", "scripts_dir", cfg.ScriptsDir)
		opts = append(opts, arbor.WithScriptsFS(scripts.FS))
	}
	b, err := arbor.New(cfg.DB, cfg.ScriptsDir, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating builder: %w", err)
	}
	return b, nil
}

// resolveTargetDir returns the absolute path of the directory to build.
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

// findProjectRoot walks up from startDir looking for a project file or an
// .arbor directory. Returns startDir if neither is found.
func findProjectRoot(startDir string) string {
	dir := startDir
	for {
		if _, err := os.Stat(filepath.Join(dir, config.FileName)); err == nil {
			return dir
		}
		if info, err := os.Stat(filepath.Join(dir, ".arbor")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveFilePath makes file absolute relative to dir.
func resolveFilePath(dir, file string) (string, error) {
	if filepath.IsAbs(file) {
		return filepath.Clean(file), nil
	}
	if dir == "" {
		abs, err := filepath.Abs(file)
		if err != nil {
			return "", fmt.Errorf("resolving file path %q: %w", file, err)
		}
		return abs, nil
	}
	return filepath.Join(dir, file), nil
}
