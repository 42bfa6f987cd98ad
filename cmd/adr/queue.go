package main

import (
	"fmt"
	"path/filepath"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/spf13/cobra"

	"github.com/example/adr/internal/batch"
	"github.com/example/adr/internal/config"
)

var (
	queueCommand        string
	queuePreProcessing  string
	queuePostProcessing string
	queueStore          []string
	queueExclude        []string
)

var queueCmd = &cobra.Command{
	Use:   "queue <file>...",
	Short: "Upload input files as one batch and queue a job per file",
	Long: `Upload the common root directory of the input files as one batch and queue
one job per file. In the command template {} is replaced by the file path
relative to the batch root. Arguments may be glob patterns.`,
	Example: `  # Queue every model input below ./runs with the configured command
  adr queue 'runs/*/params.txt'

  # Custom command, keep NetCDF and CSV output
  adr queue runs/a/params.txt runs/b/params.txt --command './model {}' --store '\.nc$' --store '\.csv$'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQueue,
}

func init() {
	queueCmd.Flags().StringVar(&queueCommand, "command", "", "command template (default from config)")
	queueCmd.Flags().StringVar(&queuePreProcessing, "preprocessing", "", "command run before each job")
	queueCmd.Flags().StringVar(&queuePostProcessing, "postprocessing", "", "command run after each job")
	queueCmd.Flags().StringArrayVar(&queueStore, "store", nil, "regular expression for output files to store (repeatable)")
	queueCmd.Flags().StringArrayVar(&queueExclude, "exclude", nil, "regular expression for input files left out of the batch (repeatable)")
	rootCmd.AddCommand(queueCmd)
}

func runQueue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, true, nil)
	if err != nil {
		return err
	}
	defer s.close()

	files, err := expandInputs(args)
	if err != nil {
		return err
	}

	pub := s.cfg.Publish
	if cmd.Flags().Changed("command") {
		pub.Command = queueCommand
	}
	if cmd.Flags().Changed("preprocessing") {
		pub.PreProcessing = queuePreProcessing
	}
	if cmd.Flags().Changed("postprocessing") {
		pub.PostProcessing = queuePostProcessing
	}
	if cmd.Flags().Changed("store") {
		pub.StorePatterns = queueStore
	}
	if cmd.Flags().Changed("exclude") {
		pub.ExcludePatterns = queueExclude
	}
	if _, err := config.CompilePatterns(pub.StorePatterns); err != nil {
		return fmt.Errorf("store patterns: %w", err)
	}
	excludes, err := config.CompilePatterns(pub.ExcludePatterns)
	if err != nil {
		return fmt.Errorf("exclude patterns: %w", err)
	}

	publisher := batch.NewPublisher(s.store, s.gateway(), s.log, batch.WithTempDir(pub.TempDir))
	res, err := publisher.Publish(ctx, batch.Request{
		Runner:         s.runner,
		Files:          files,
		Command:        pub.Command,
		PreProcessing:  pub.PreProcessing,
		PostProcessing: pub.PostProcessing,
		StorePatterns:  pub.StorePatterns,
		Excludes:       excludes,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "batch %s: %d jobs queued from %s\n", res.Batch, len(res.Jobs), res.Root)
	return nil
}

// expandInputs resolves glob patterns; an argument that matches nothing is
// passed through so a missing file is reported by the publisher.
func expandInputs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			matches = []string{arg}
		}
		files = append(files, matches...)
	}
	return slice.Unique(files), nil
}
