package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plateflow/plateflow/pkg/platemap"
)

var platemapCmd = &cobra.Command{
	Use:   "platemap",
	Short: "Edit well treatments",
}

var platemapApplyCmd = &cobra.Command{
	Use:   "apply <dataset-id> <map.yaml>",
	Short: "Replace cell lines and drugs of the wells listed in a plate map",
	Long: `Apply a YAML plate map. Every listed well gets exactly the cell line
and drugs in the map; unlisted wells are untouched. The whole map is applied
in one transaction.

  plates:
    - plate: PlateA
      wells:
        - well: A1
          cell_line: MCF7
          drugs:
            - {drug: Gefitinib, dose: 1, units: uM}
    - plate: PlateB        # created when missing
      width: 24
      height: 16
      wells:
        - well: P24
          cell_line: A549`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		m, err := platemap.LoadFile(args[1])
		if err != nil {
			return err
		}
		report, err := platemap.NewApplier(a.store, a.groups(), a.logger).Apply(cmd.Context(), args[0], m)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %d plates created, %d wells created, %d wells updated, %d drug slots written\n",
			report.PlatesCreated, report.WellsCreated, report.WellsUpdated, report.DrugRows)
		return nil
	}),
}

func init() {
	platemapCmd.AddCommand(platemapApplyCmd)
	rootCmd.AddCommand(platemapCmd)
}
