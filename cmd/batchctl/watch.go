package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hanfei1991/minionbatch/pkg/eventbus"
)

func newWatchCmd(a *app) *cobra.Command {
	var patterns []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print bus events as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.watch(cmd.Context(), patterns)
		},
	}
	cmd.Flags().StringSliceVarP(&patterns, "pattern", "p",
		[]string{eventbus.BatchPattern()}, "tag patterns to print")
	return cmd
}

func (a *app) watch(ctx context.Context, patterns []string) error {
	b, err := a.openBus()
	if err != nil {
		return err
	}
	defer b.close()

	ev, err := b.connect(ctx)
	if err != nil {
		return err
	}
	defer closeAll([]eventbus.Event{ev})
	ev.SetHandler(a.printEvent)
	for _, pattern := range patterns {
		if err := ev.Subscribe(pattern); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}
