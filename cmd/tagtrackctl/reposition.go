package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/tagtrack/internal/config"
	"github.com/signalsfoundry/tagtrack/internal/runtime"
)

func newRepositionCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reposition",
		Short: "Position the full detection history of every depth tag",
		Long: "Run the positioner over every detection triplet in the store and insert\n" +
			"the resulting fixes. Fixes already stored are left untouched.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(root.configPath)
			if err != nil {
				return err
			}
			rt, err := runtime.New(cmd.Context(), cfg, root.logger(), prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer rt.Close()

			added, err := rt.Reposition(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d fixes\n", added)
			return err
		},
	}
}
