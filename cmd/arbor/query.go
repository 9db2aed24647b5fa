package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/arbor"
	"github.com/jward/arbor/internal/store"
)

var (
	flagState    string
	flagSeverity string
	flagStage    string
	flagBuild    string
	flagLimit    int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted state of every built file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		qb, done, err := openQuery(cmd)
		if err != nil {
			return outputError("status", err)
		}
		defer done()

		files, err := qb.Status(arbor.State(flagState))
		if err != nil {
			return outputError("status", err)
		}
		results := make([]CLIFileStatus, 0, len(files))
		for _, f := range files {
			results = append(results, toCLIFileStatus(f))
		}
		return outputResult(CLIResult{Command: "status", Results: results, TotalCount: intPtr(len(results))})
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages [file]",
	Short: "List persisted diagnostics",
	Long:  "Lists the diagnostics of the last build of every file, or of one file. Messages of the build itself have no file.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qb, done, err := openQuery(cmd)
		if err != nil {
			return outputError("messages", err)
		}
		defer done()

		f := arbor.MessageFilter{
			Stage:    store.Stage(flagStage),
			BuildID:  flagBuild,
			Severity: flagSeverity,
		}
		if len(args) > 0 {
			if f.Path, err = resolveFilePath("", args[0]); err != nil {
				return outputError("messages", err)
			}
		}
		ds, err := qb.Messages(f)
		if err != nil {
			return outputError("messages", err)
		}
		results := make([]CLIMessage, 0, len(ds))
		for _, d := range ds {
			results = append(results, storedToCLIMessage(d))
		}
		return outputResult(CLIResult{Command: "messages", Results: results, TotalCount: intPtr(len(results))})
	},
}

var buildsCmd = &cobra.Command{
	Use:   "builds",
	Short: "Show the build log, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		qb, done, err := openQuery(cmd)
		if err != nil {
			return outputError("builds", err)
		}
		defer done()

		bs, err := qb.Builds(flagLimit)
		if err != nil {
			return outputError("builds", err)
		}
		results := make([]CLIBuildLog, 0, len(bs))
		for _, b := range bs {
			results = append(results, toCLIBuildLog(b))
		}
		return outputResult(CLIResult{Command: "builds", Results: results, TotalCount: intPtr(len(results))})
	},
}

var resultCmd = &cobra.Command{
	Use:   "result <file>",
	Short: "Show the analyzed AST of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qb, done, err := openQuery(cmd)
		if err != nil {
			return outputError("result", err)
		}
		defer done()

		path, err := resolveFilePath("", args[0])
		if err != nil {
			return outputError("result", err)
		}
		fs, err := qb.Result(path)
		if err != nil {
			return outputError("result", err)
		}
		if fs == nil {
			return outputError("result", fmt.Errorf("no result for %s (run 'arbor build' first)", path))
		}
		return outputResult(CLIResult{Command: "result", Results: toCLIResultFile(fs)})
	},
}

func init() {
	statusCmd.Flags().StringVar(&flagState, "state", "", "only files in this analysis state: valid|invalid|error")
	messagesCmd.Flags().StringVar(&flagSeverity, "severity", "", "only this severity: error|warning|note")
	messagesCmd.Flags().StringVar(&flagStage, "stage", "", "only this stage: parse|analysis|transform|builder")
	messagesCmd.Flags().StringVar(&flagBuild, "build", "", "only messages of this build")
	buildsCmd.Flags().IntVar(&flagLimit, "limit", 20, "number of builds to show (0 for all)")
}

// openQuery opens the project's database for reading. It fails when no
// build has created it yet.
func openQuery(cmd *cobra.Command) (*arbor.QueryBuilder, func(), error) {
	env, err := setupExisting(cmd)
	if err != nil {
		return nil, nil, err
	}
	return env.b.Query(), func() { env.b.Close() }, nil
}

func setupExisting(cmd *cobra.Command) (*cmdEnv, error) {
	dir := flagDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting cwd: %w", err)
		}
		dir = findProjectRoot(cwd)
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", dir, err)
	}
	env, err := loadEnv(cmd, dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(env.cfg.DB); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s (run 'arbor build' first)", env.cfg.DB)
	}
	if env.b, err = openBuilder(env.cfg, env.logger); err != nil {
		return nil, err
	}
	return env, nil
}

func intPtr(n int) *int { return &n }
