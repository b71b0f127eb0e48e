package services

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
	"github.com/ggg436/greenloops/feed-sync/internal/core/ports"
)

const DefaultRepairBatchSize = 500

// CounterReconciler repairs like counters that drifted below zero.
type CounterReconciler struct {
	scanner   ports.PostScanner
	batchSize int
}

var _ ports.Maintenance = (*CounterReconciler)(nil)

func NewCounterReconciler(scanner ports.PostScanner, batchSize int) *CounterReconciler {
	if batchSize <= 0 {
		batchSize = DefaultRepairBatchSize
	}
	return &CounterReconciler{scanner: scanner, batchSize: batchSize}
}

// ScanAndRepair walks every post and resets each negative like counter to the number of
// likers. Running it twice in a row repairs nothing the second time.
func (r *CounterReconciler) ScanAndRepair(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("feed-sync").Start(ctx, "CounterReconciler.ScanAndRepair")
	defer span.End()

	repaired, scanned := 0, 0
	err := r.scanner.ScanPosts(ctx, r.batchSize, func(batch []*domain.Post) error {
		scanned += len(batch)
		for _, p := range batch {
			if p.Likes >= 0 {
				continue
			}
			target := p.RepairedLikes()
			if err := r.scanner.SetLikes(ctx, p.ID, target); err != nil {
				return fmt.Errorf("repair likes of post %s: %w", p.ID, err)
			}
			slog.Info("like counter repaired", "post_id", p.ID, "from", p.Likes, "to", target)
			repaired++
		}
		return nil
	})

	span.SetAttributes(attribute.Int("posts.scanned", scanned), attribute.Int("posts.repaired", repaired))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("counter reconciliation aborted", "repaired", repaired, "error", err)
		return repaired, err
	}

	slog.Info("counter reconciliation finished", "scanned", scanned, "repaired", repaired)
	return repaired, nil
}
