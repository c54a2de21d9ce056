package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-groupchat-backend/internal/config"
	"github.com/tbourn/go-groupchat-backend/internal/http/handlers"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Print the resolved provider catalog (keys masked)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		catalog, err := config.OpenCatalog(cfg.Providers.File)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tFAMILY\tMODEL\tKEY")
		for _, p := range catalog.List() {
			v := handlers.NewProviderView(p)
			key := v.APIKey
			if !v.KeyConfigured {
				key = "(missing)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.Name, v.Family, v.Model, key)
		}
		return w.Flush()
	},
}
