package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/dapsession/internal/integration/debug"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run [configuration]",
		Short: "Start a debug session and wait until it ends",
		Long: `run starts the named configuration of the launch file, or the only one
when the file holds a single configuration. It returns when every session
has ended or on SIGINT/SIGTERM.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			file, err := loadLaunchFile(cfg)
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			launch, err := pickConfiguration(file, name)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			runErr := rt.Run(ctx, launch)
			if err := rt.Close(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}

func pickConfiguration(file *debug.LaunchFile, name string) (debug.Configuration, error) {
	if name != "" {
		c, ok := file.Find(name)
		if !ok {
			return debug.Configuration{}, fmt.Errorf("no configuration named %q (have %v)", name, file.Names())
		}
		return c, nil
	}
	if len(file.Configurations) != 1 {
		return debug.Configuration{}, fmt.Errorf("launch file has %d configurations, name one of %v", len(file.Configurations), file.Names())
	}
	return file.Configurations[0], nil
}
