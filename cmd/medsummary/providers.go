package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/medsummary/internal/repository"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured model providers and whether policy allows them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		models, closers, err := newModels(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			for _, c := range closers {
				_ = c()
			}
		}()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMODEL\tLOCALITY\tCONSENT\tUSABLE")
		for _, p := range models.Providers(cfg.Policy.AllowExternalProcessing) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n", p.Name, p.Model, p.Locality, p.RequiresConsent, p.Usable)
		}
		return w.Flush()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the job store schema if it does not exist",
	RunE: func(cmd *cobra.Command, _ []string) error {
		repo, err := repository.Open(cmd.Context(), cfg.Storage, logger)
		if err != nil {
			return err
		}
		logger.Info("migrate.ok", "driver", cfg.Storage.Driver)
		return repo.Close()
	},
}

func init() {
	rootCmd.AddCommand(providersCmd, migrateCmd)
}
