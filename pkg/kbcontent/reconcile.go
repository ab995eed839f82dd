package kbcontent

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// DefaultReconcileBatchSize is used when Reconcile gets a non-positive batch size.
const DefaultReconcileBatchSize = 100

func (s *service) Reconcile(ctx context.Context, batchSize int) (*ReconcileReport, error) {
	if batchSize <= 0 {
		batchSize = DefaultReconcileBatchSize
	}

	report := &ReconcileReport{}
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		batch, err := s.repository.ListCompleted(ctx, after, batchSize)
		if err != nil {
			return report, contentErr(after, "reconcile", err)
		}

		for _, c := range batch {
			report.Checked++
			exists, err := s.blobStore.Exists(ctx, c.FilePath)
			if err != nil {
				return report, storageErr(s.blobStore.Name(), c.FilePath, "exists", err)
			}
			if exists {
				continue
			}

			marked, err := s.repository.MarkFailed(ctx, c.ID)
			if err != nil {
				return report, contentErr(c.ID, "reconcile", err)
			}
			if marked {
				report.MarkedFailed++
				reconcileMarkedFailedTotal.Inc()
				slog.Warn("Object missing, content marked failed", "content_id", c.ID, "key", c.FilePath)
			}
		}

		if len(batch) < batchSize {
			break
		}
		after = batch[len(batch)-1].ID
	}

	slog.Info("Reconcile finished", "checked", report.Checked, "marked_failed", report.MarkedFailed)
	return report, nil
}
