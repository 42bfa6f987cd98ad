package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/adr/internal/batch"
)

var downloadOverwrite bool

var downloadCmd = &cobra.Command{
	Use:     "download <path> [runner]",
	Short:   "Download stored job output to <path>/<batch>/<file>",
	Example: `  adr download ./results --overwrite`,
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), true, args[1:])
		if err != nil {
			return err
		}
		defer s.close()

		report, err := batch.DownloadResults(cmd.Context(), s.store, s.runner, args[0], downloadOverwrite, s.log)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "downloaded %d files, skipped %d existing\n", len(report.Downloaded), len(report.Skipped))
		return nil
	},
}

func init() {
	downloadCmd.Flags().BoolVar(&downloadOverwrite, "overwrite", false, "replace files that already exist locally")
	rootCmd.AddCommand(downloadCmd)
}
