package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newConfigsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "configs",
		Short: "List the configurations of the launch file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			file, err := loadLaunchFile(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tREQUEST\tADAPTER")
			for _, c := range file.Configurations {
				adapter := c.DebugServer
				if adapter == "" {
					adapter = c.DebugServerURL
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name, c.Type, c.Request, adapter)
			}
			return w.Flush()
		},
	}
}
