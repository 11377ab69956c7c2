package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"

	"ms-validation/internal/apperrors"
	"ms-validation/internal/logger"
	"ms-validation/internal/models"
)

type OfflineReconciler interface {
	ReconcileOfflineBatch(ctx context.Context, records []models.OfflineScanRecord, managerID string) (*models.ReconciliationSummary, error)
}

// OfflineBatchHandler decodes offline batches uploaded through the event bus
// and reconciles them the same way the HTTP sync endpoint does. A batch with
// records that failed on a retryable store error returns a transient error so
// the consumer redelivers it; records already applied are skipped on replay.
func OfflineBatchHandler(r OfflineReconciler, validate *validator.Validate, log *logger.Logger) func(ctx context.Context, msg kafka.Message) error {
	return func(ctx context.Context, msg kafka.Message) error {
		var batch models.OfflineBatch
		if err := json.Unmarshal(msg.Value, &batch); err != nil {
			return fmt.Errorf("decode offline batch: %w", err)
		}
		if err := validate.Struct(batch); err != nil {
			return fmt.Errorf("invalid offline batch: %w", err)
		}

		for i := range batch.Records {
			if batch.Records[i].DeviceID == "" {
				batch.Records[i].DeviceID = batch.DeviceID
			}
		}

		summary, err := r.ReconcileOfflineBatch(ctx, batch.Records, batch.ManagerID)
		if err != nil {
			return err
		}
		log.LogSync("KAFKA_BATCH", batch.ManagerID, fmt.Sprintf("offset=%d records=%d processed=%d conflicts=%d skipped=%d errors=%d",
			msg.Offset, len(batch.Records), summary.ProcessedCount, summary.ConflictCount, summary.SkippedCount, summary.ErrorCount))

		retryable := 0
		for _, res := range summary.Results {
			if res.Outcome == models.OutcomeError && apperrors.IsTransientCode(res.Code) {
				retryable++
			}
		}
		if retryable > 0 {
			return apperrors.WithMessage(apperrors.ErrStoreUnavailable, "%d of %d records in batch at offset %d failed transiently", retryable, len(batch.Records), msg.Offset)
		}
		return nil
	}
}
