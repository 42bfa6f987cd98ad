package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/adr/internal/processor"
	"github.com/example/adr/internal/registry"
)

var (
	processWorkDir     string
	processStopOnEmpty bool
	processMetricsFile string
)

var processCmd = &cobra.Command{
	Use:   "process [runner]",
	Short: "Process jobs from a runner's queue",
	Long: `Run the worker loop: claim a job, fetch its batch once, run the job script
inside the batch directory, store matching output and restore the batch
directory before the next job.`,
	Example: `  # Process until interrupted
  adr process --workdir /data/adr

  # Drain the queue and exit
  adr process --stop-on-empty`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processWorkDir, "workdir", "", "directory holding batch directories (default from config)")
	processCmd.Flags().BoolVar(&processStopOnEmpty, "stop-on-empty", false, "exit once the queue stays empty for a full poll cycle")
	processCmd.Flags().StringVar(&processMetricsFile, "metrics-file", "", "write Prometheus textfile metrics here after every job")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, true, args)
	if err != nil {
		return err
	}
	defer s.close()

	cfg := processor.ConfigFrom(s.runner, s.cfg)
	if cmd.Flags().Changed("workdir") {
		cfg.WorkDir = processWorkDir
	}
	if cmd.Flags().Changed("stop-on-empty") {
		cfg.StopOnEmpty = processStopOnEmpty
	}
	cfg.MetricsFile = processMetricsFile

	p, err := processor.New(cfg, s.gateway(), s.store, s.log)
	if err != nil {
		return err
	}

	reg := registry.New(s.store, s.broker, s.log)
	address := workerAddress(s.cfg.Worker.Address)
	if err := reg.Register(ctx, s.runner, address); err != nil {
		s.log.Warn("worker registration failed", zap.String("address", address), zap.Error(err))
	} else {
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := reg.Deregister(dctx, s.runner, address); err != nil {
				s.log.Warn("worker deregistration failed", zap.String("address", address), zap.Error(err))
			}
		}()
	}
	return p.Run(ctx)
}

func workerAddress(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "localhost"
}
