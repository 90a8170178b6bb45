package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/dapsession/internal/config"
	"github.com/dshills/dapsession/internal/integration/debug"
)

type rootOptions struct {
	configFile string
	logLevel   string
	launchFile string
	workspace  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "dapsession",
		Short: "Run Debug Adapter Protocol sessions from launch configurations",
		Long: `dapsession connects to running debug adapters and drives debug sessions
described in a launch file (.dapsession/launch.yaml by default).

  dapsession configs          List the configurations of the launch file
  dapsession run app          Start the configuration named "app"`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default: dapsession.yaml in the user config dir or working directory)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level, overrides log.level")
	flags.StringVarP(&opts.launchFile, "launch", "l", "", "launch file, overrides launch_file")
	flags.StringVarP(&opts.workspace, "workspace", "w", "", "workspace folder, overrides workspace_folder")

	cmd.AddCommand(newRunCmd(opts), newConfigsCmd(opts), newVersionCmd())
	return cmd
}

// load reads the configuration and applies flag overrides.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.launchFile != "" {
		cfg.LaunchFile = o.launchFile
	}
	if o.workspace != "" {
		cfg.WorkspaceFolder = o.workspace
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadLaunchFile(cfg *config.Config) (*debug.LaunchFile, error) {
	path := cfg.ResolvePath(cfg.LaunchFile)
	file, err := debug.LoadLaunchFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}
