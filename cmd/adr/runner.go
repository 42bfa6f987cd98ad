package main

import (
	"fmt"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/adr/internal/registry"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a runner and make it the default",
	Long:  `Create a runner: a queue and a storage bucket sharing a fresh id.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd.Context(), false, nil)
		if err != nil {
			return err
		}
		defer s.close()

		id, err := registry.New(s.store, s.broker, s.log).CreateRunner(cmd.Context())
		if err != nil {
			return err
		}
		if err := saveDefaultRunner(id); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy [runner]",
	Short: "Destroy a runner with its queue and all stored objects",
	Example: `  # Destroy the default runner
  adr destroy

  # Destroy a specific runner
  adr destroy 0f8c5a52-6a34-4c8e-9a55-3f3f8f1d1c2e`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, true, args)
		if err != nil {
			return err
		}
		defer s.close()

		reg := registry.New(s.store, s.broker, s.log)
		if err := reg.DestroyRunner(ctx, s.runner); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "destroyed %s\n", s.runner)

		if s.cfg.Runner != s.runner {
			return nil
		}
		remaining, err := reg.ListRunners(ctx)
		if err != nil {
			return err
		}
		next := ""
		if len(remaining) > 0 {
			next = remaining[0]
		}
		s.log.Info("switching default runner", zap.String("runner", next))
		return saveDefaultRunner(next)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List runners, marking the default with *",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd.Context(), false, nil)
		if err != nil {
			return err
		}
		defer s.close()
		return printRunners(cmd, registry.New(s.store, s.broker, s.log), s.cfg.Runner)
	},
}

var setCmd = &cobra.Command{
	Use:   "set [runner]",
	Short: "Set the default runner, or list runners without an argument",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, false, nil)
		if err != nil {
			return err
		}
		defer s.close()

		reg := registry.New(s.store, s.broker, s.log)
		if len(args) == 0 {
			return printRunners(cmd, reg, s.cfg.Runner)
		}
		runners, err := reg.ListRunners(ctx)
		if err != nil {
			return err
		}
		if !slice.Contain(runners, args[0]) {
			return fmt.Errorf("%w: %s", registry.ErrUnknownRunner, args[0])
		}
		return saveDefaultRunner(args[0])
	},
}

var workersCmd = &cobra.Command{
	Use:   "workers [runner]",
	Short: "List worker addresses registered to a runner",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), true, args)
		if err != nil {
			return err
		}
		defer s.close()

		workers, err := registry.New(s.store, s.broker, s.log).Workers(cmd.Context(), s.runner)
		if err != nil {
			return err
		}
		for _, w := range workers {
			fmt.Fprintln(cmd.OutOrStdout(), w)
		}
		return nil
	},
}

func printRunners(cmd *cobra.Command, reg *registry.Registry, current string) error {
	runners, err := reg.ListRunners(cmd.Context())
	if err != nil {
		return err
	}
	for _, r := range runners {
		mark := " "
		if r == current {
			mark = "*"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, r)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(createCmd, destroyCmd, listCmd, setCmd, workersCmd)
}
