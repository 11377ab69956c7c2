package db

import (
	"context"
	"time"

	"ms-validation/internal/models"
)

// InsertValidation appends a row to the validation ledger.
func (d *DB) InsertValidation(ctx context.Context, v *models.TicketValidation) error {
	_, err := d.conn(ctx).NewInsert().Model(v).Exec(ctx)
	return classify(err)
}

// ListSyncedNear returns the offline rows for ticketID recorded by deviceID
// whose validation time lies within window of at, oldest first. Rows written
// by the reconciliation run excludeBatchID are left out.
func (d *DB) ListSyncedNear(ctx context.Context, ticketID, deviceID string, at time.Time, window time.Duration, excludeBatchID string) ([]models.TicketValidation, error) {
	at = at.UTC()
	var rows []models.TicketValidation
	q := d.conn(ctx).NewSelect().
		Model(&rows).
		Where("ticket_id = ?", ticketID).
		Where("method = ?", models.MethodOfflineSync).
		Where("validated_at >= ?", at.Add(-window)).
		Where("validated_at <= ?", at.Add(window))
	if deviceID == "" {
		q = q.Where("device_id IS NULL")
	} else {
		q = q.Where("device_id = ?", deviceID)
	}
	if excludeBatchID != "" {
		q = q.Where("(sync_batch_id IS NULL OR sync_batch_id <> ?)", excludeBatchID)
	}
	if err := q.OrderExpr("validated_at ASC").Scan(ctx); err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

// ListValidationsByTicket returns the ledger of a ticket, oldest first.
func (d *DB) ListValidationsByTicket(ctx context.Context, ticketID string) ([]models.TicketValidation, error) {
	var rows []models.TicketValidation
	err := d.conn(ctx).NewSelect().
		Model(&rows).
		Where("ticket_id = ?", ticketID).
		OrderExpr("validated_at ASC, scan_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}
