package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/example/adr/internal/config"
	"github.com/example/adr/internal/logger"
	"github.com/example/adr/internal/objstore"
	"github.com/example/adr/internal/observability"
	"github.com/example/adr/internal/queue"
)

const Version = "0.3.0"

var (
	cfgFile    string
	runnerFlag string
	verbosity  int
)

var rootCmd = &cobra.Command{
	Use:   "adr",
	Short: "Distributed runner for batch jobs",
	Long: `adr creates runners (a queue paired with a storage bucket), queues batches
of input files to them and processes the queued jobs on any number of workers.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.adr/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&runnerFlag, "runner", "r", "", "runner id (default: the persisted default runner)")
	rootCmd.PersistentFlags().IntVar(&verbosity, "verbose", 30, "console log level: 10 debug, 20 info, 30 warn, 40 error")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// backendFactory builds the store and broker for a command. Tests swap it
// for in-memory backends.
var backendFactory = func(ctx context.Context, cfg config.Config) (objstore.Store, queue.Broker, error) {
	store, err := objstore.NewMinIO(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("connect object store: %w", err)
	}
	broker, err := queue.NewRedisBroker(ctx, cfg.Queue)
	if err != nil {
		return nil, nil, fmt.Errorf("connect queue: %w", err)
	}
	return store, broker, nil
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

// session carries what a command needs once configuration, logging and
// backends are set up.
type session struct {
	cfg      config.Config
	runner   string
	log      *zap.Logger
	store    objstore.Store
	broker   queue.Broker
	shutdown func(context.Context) error
}

// openSession loads the configuration and connects the backends. With
// needRunner set the runner is resolved from args, --runner or the default.
func openSession(ctx context.Context, needRunner bool, args []string) (*session, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath(), err)
	}
	s := &session{cfg: cfg}
	if needRunner {
		explicit := runnerFlag
		if len(args) > 0 {
			explicit = args[0]
		}
		if s.runner, err = cfg.ResolveRunner(explicit); err != nil {
			return nil, err
		}
	}
	name := s.runner
	if name == "" {
		name = "adr"
	}
	s.log = logger.New(logger.Options{Config: cfg.Log, Name: name, Verbosity: verbosity})

	shutdown, err := observability.InitTracing("adr", cfg.Tracing)
	if err != nil {
		s.log.Warn("tracing disabled", zap.Error(err))
	}
	s.shutdown = shutdown

	if s.store, s.broker, err = backendFactory(ctx, cfg); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) gateway() *queue.Gateway {
	return queue.NewGateway(s.broker, s.log)
}

func (s *session) close() {
	var err error
	if s.broker != nil {
		err = multierr.Append(err, s.broker.Close())
	}
	if s.shutdown != nil {
		err = multierr.Append(err, s.shutdown(context.Background()))
	}
	if err != nil {
		s.log.Debug("closing session", zap.Error(err))
	}
	_ = s.log.Sync()
}

// saveDefaultRunner persists runner as the default in the config file.
func saveDefaultRunner(runner string) error {
	cfg, err := config.LoadFile(configPath())
	if err != nil {
		return err
	}
	cfg.Runner = runner
	return config.Save(configPath(), cfg)
}
