package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jward/arbor"
	"github.com/jward/arbor/internal/resource"
	"github.com/jward/arbor/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Build the project, then rebuild on every file change",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.String("out-dir", "", "transform output directory")
	f.String("goal", "", "transform goal")
	f.Bool("parallel", false, "analyze contexts in parallel")
	f.Int("workers", 0, "parallel workers (default: number of CPUs)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd, args)
	if err != nil {
		return outputError("watch", err)
	}
	defer env.b.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	changes, err := env.b.Sources(ctx, env.dir)
	if err != nil {
		return outputError("watch", err)
	}
	if err := watchBuild(ctx, env, changes); err != nil {
		return outputError("watch", err)
	}

	w, err := watcher.New(env.dir, resource.NewIgnorer(env.cfg.Ignore...), watcher.WithLogger(env.logger))
	if err != nil {
		return outputError("watch", err)
	}
	defer w.Close()

	env.logger.Info("watching", "dir", env.dir)
	err = w.Run(ctx, env.cfg.Watch.Quiet(), env.cfg.Watch.MaxWait(), func(ctx context.Context, changes []arbor.Change) {
		if err := watchBuild(ctx, env, changes); err != nil {
			env.logger.Error("build failed", "error", err)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return outputError("watch", err)
	}
	return nil
}

// watchBuild runs one build and prints it. A change to the scripts turns
// the batch into a full build.
func watchBuild(ctx context.Context, env *cmdEnv, changes []arbor.Change) error {
	if env.b.ScriptsChanged() {
		env.logger.Info("scripts changed, rebuilding everything")
		all, err := env.b.Sources(ctx, env.dir)
		if err != nil {
			return err
		}
		changes = append(all, removedOnly(changes)...)
	}
	out, err := env.b.Build(ctx, env.dir, changes)
	if err != nil {
		return err
	}
	if out.Interrupted {
		env.logger.Info("build interrupted", "build", out.BuildID)
	}
	return outputBuild(os.Stdout, out)
}
