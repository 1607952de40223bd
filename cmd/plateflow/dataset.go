package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/plateflow/plateflow/pkg/tui"
)

var (
	datasetOwner  string
	datasetAll    bool
	datasetYes    bool
	datasetAsJSON bool
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Manage datasets",
}

var datasetCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a dataset and print its id",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		owner := datasetOwner
		if owner == "" {
			if u, err := user.Current(); err == nil {
				owner = u.Username
			}
		}
		ds, err := a.store.CreateDataset(cmd.Context(), args[0], owner)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ds.ID)
		return nil
	}),
}

var datasetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List datasets",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		list, err := a.store.ListDatasets(cmd.Context(), datasetAll)
		if err != nil {
			return err
		}
		if datasetAsJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(list)
		}
		tui.Datasets(cmd.OutOrStdout(), list)
		return nil
	}),
}

var datasetShowCmd = &cobra.Command{
	Use:   "show <dataset-id>",
	Short: "Show the plates of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		ds, err := a.store.GetDataset(ctx, args[0])
		if err != nil {
			return err
		}
		plates, err := a.store.PlateSummaries(ctx, ds.ID)
		if err != nil {
			return err
		}
		if datasetAsJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"dataset": ds, "plates": plates})
		}
		tui.Plates(cmd.OutOrStdout(), ds, plates)
		return nil
	}),
}

var datasetDeleteCmd = &cobra.Command{
	Use:   "delete <dataset-id>",
	Short: "Soft-delete a dataset",
	Long: `Mark a dataset deleted. Its data stays in the store but it no longer
accepts uploads and is hidden from listings unless --all is given.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		ds, err := a.store.GetDataset(ctx, args[0])
		if err != nil {
			return err
		}
		if !datasetYes && !tui.Confirm(os.Stdin, cmd.ErrOrStderr(), fmt.Sprintf("  Delete dataset %q? [y/N]: ", ds.Name)) {
			fmt.Fprintln(cmd.ErrOrStderr(), "  Cancelled.")
			return nil
		}
		if err := a.store.DeleteDataset(ctx, ds.ID); err != nil {
			return err
		}
		a.logger.Info("dataset deleted", "dataset", ds.ID, "name", ds.Name)
		return nil
	}),
}

var datasetRenameCmd = &cobra.Command{
	Use:   "rename <dataset-id> <name>",
	Short: "Rename a dataset",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		return a.store.RenameDataset(cmd.Context(), args[0], args[1])
	}),
}

func init() {
	datasetCreateCmd.Flags().StringVar(&datasetOwner, "owner", "", "Owner recorded on the dataset (default: current user)")
	datasetListCmd.Flags().BoolVar(&datasetAll, "all", false, "Include deleted datasets")
	datasetListCmd.Flags().BoolVar(&datasetAsJSON, "json", false, "Print JSON")
	datasetShowCmd.Flags().BoolVar(&datasetAsJSON, "json", false, "Print JSON")
	datasetDeleteCmd.Flags().BoolVarP(&datasetYes, "yes", "y", false, "Do not ask for confirmation")

	datasetCmd.AddCommand(datasetCreateCmd, datasetListCmd, datasetShowCmd, datasetDeleteCmd, datasetRenameCmd)
	rootCmd.AddCommand(datasetCmd)
}
