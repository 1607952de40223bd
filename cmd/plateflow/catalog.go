package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plateflow/plateflow/pkg/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Maintain the cell line and drug catalog",
}

var catalogReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Merge catalog entries whose names differ only in case or spacing",
	Long: `Recompute catalog keys and merge entries that now share one onto the
oldest entry, repointing wells and drug assignments. A drug group whose
merge would put the same drug on a well twice is reported and left alone.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		report, err := catalog.Reconcile(cmd.Context(), a.store, a.logger)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range report.Merges {
			names := make([]string, len(m.Merged))
			for i, e := range m.Merged {
				names[i] = e.Name
			}
			if m.Skipped != "" {
				fmt.Fprintf(out, "  skipped %s %q: %s\n", m.Table, m.Kept.Name, m.Skipped)
				continue
			}
			fmt.Fprintf(out, "  merged %s %s into %q\n", m.Table, strings.Join(names, ", "), m.Kept.Name)
		}
		fmt.Fprintf(out, "  %d groups merged, %d keys recomputed\n", report.Merged(), report.Rekeyed)
		return nil
	}),
}

func init() {
	catalogCmd.AddCommand(catalogReconcileCmd)
	rootCmd.AddCommand(catalogCmd)
}
