package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/pulse/internal/kernel"
	"github.com/alexisbeaulieu97/pulse/internal/mods"
)

type runOptions struct {
	ModsDir string
	Side    string
	Ticks   int64
}

var runCmdRunner = runKernel

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load mods and drive the heartbeat until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Ticks < 0 {
				return fmt.Errorf("--ticks must not be negative")
			}
			return runCmdRunner(cmd.Context(), root, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.ModsDir, "mods", "m", "", "Directory of mod manifests (overrides loader.mods_dir)")
	cmd.Flags().StringVar(&opts.Side, "side", "", "Side to run as: client, server or both")
	cmd.Flags().Int64Var(&opts.Ticks, "ticks", 0, "Stop after this many ticks (0 runs until interrupted)")

	return cmd
}

func runKernel(ctx context.Context, root *rootFlags, opts runOptions, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(root, opts.ModsDir, opts.Side)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel, errOut)
	if err != nil {
		return err
	}

	k, err := kernel.New(*cfg, kernel.WithLogger(log))
	if err != nil {
		return err
	}

	// Load failures are isolated per mod; the kernel still runs the rest.
	order, err := k.LoadMods(ctx, mods.Factories(cfg.Mods))
	if err != nil {
		log.Error(err, "some mods failed to load")
	}
	log.With("order", order.String()).Info("mods loaded")

	runErr := k.RunUntilSignal(ctx, opts.Ticks, os.Interrupt, syscall.SIGTERM)

	st := newStyles(out)
	for _, component := range k.Components() {
		fmt.Fprintln(out, st.summary(component.Summary()))
	}
	fmt.Fprintln(out, st.summary(k.Summary()))
	return runErr
}
