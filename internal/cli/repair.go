package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ggg436/greenloops/feed-sync/internal/core/services"
)

// NewRepairCommand creates the one-shot counter repair command.
func NewRepairCommand(rootOpts *RootOptions) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Reset negative like counters",
		Long: `Scans every stored post and resets each negative like counter to the
number of recorded likers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepair(cmd.Context(), rootOpts, batchSize, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "posts per scan batch (default from config)")

	return cmd
}

func runRepair(ctx context.Context, opts *RootOptions, batchSize int, out io.Writer) error {
	cfg := opts.Config
	if batchSize > 0 {
		cfg.RepairBatchSize = batchSize
	}

	defer startTracing(ctx, cfg)()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	n, err := services.NewCounterReconciler(b.scanner, cfg.RepairBatchSize).ScanAndRepair(ctx)
	if err != nil {
		return fmt.Errorf("repair stopped after %d posts: %w", n, err)
	}
	_, err = fmt.Fprintf(out, "repaired %d posts\n", n)
	return err
}
