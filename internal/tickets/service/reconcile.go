package tickets

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"ms-validation/internal/apperrors"
	"ms-validation/internal/models"
	qr "ms-validation/internal/tickets/qr_codec"
)

// ReconcileOfflineBatch merges scans recorded by a disconnected device into the
// ledger. Records are applied in scan-time order, each in its own transaction,
// so one bad record never blocks the rest. The server state wins every
// conflict: a record that the server would no longer admit is recorded as an
// invalid ledger row and reported, never applied.
func (s *ValidationService) ReconcileOfflineBatch(ctx context.Context, records []models.OfflineScanRecord, managerID string) (*models.ReconciliationSummary, error) {
	if managerID == "" {
		return nil, apperrors.ErrMissingValidator
	}

	ordered := make([]models.OfflineScanRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ScannedAt.Before(ordered[j].ScannedAt)
	})

	run := &reconcileRun{
		batchID:   uuid.NewString(),
		validator: models.Validator{ManagerID: managerID},
		claimed:   make(map[string]bool),
	}
	summary := &models.ReconciliationSummary{Results: make([]models.OfflineRecordResult, 0, len(ordered))}

	for _, rec := range ordered {
		var res models.OfflineRecordResult
		if err := ctx.Err(); err != nil {
			res = errorResult(rec, rec.TicketID, apperrors.Wrap(apperrors.ErrStoreUnavailable, err))
		} else {
			res = s.reconcileRecord(ctx, run, rec)
		}

		switch res.Outcome {
		case models.OutcomeProcessed:
			summary.ProcessedCount++
		case models.OutcomeConflict:
			summary.ConflictCount++
		case models.OutcomeSkipped:
			summary.SkippedCount++
		default:
			summary.ErrorCount++
		}
		summary.Results = append(summary.Results, res)
	}

	s.Logger.LogSync("RECONCILED", managerID, fmt.Sprintf("processed=%d conflicts=%d skipped=%d errors=%d",
		summary.ProcessedCount, summary.ConflictCount, summary.SkippedCount, summary.ErrorCount))

	if s.Publisher != nil {
		if err := s.Publisher.PublishSyncCompleted(ctx, managerID, summary); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("failed to publish sync summary for manager %s: %v", managerID, err))
		}
	}
	return summary, nil
}

// reconcileRun is the state shared by the records of one batch. Rows written
// by the run carry batchID, and a row from an earlier run can absorb at most
// one replayed record.
type reconcileRun struct {
	batchID   string
	validator models.Validator
	claimed   map[string]bool
}

// claimReplay returns the unclaimed earlier-run row closest to at, if any.
func (r *reconcileRun) claimReplay(rows []models.TicketValidation, at time.Time) *models.TicketValidation {
	var (
		best     *models.TicketValidation
		bestDist time.Duration
	)
	for i := range rows {
		if r.claimed[rows[i].ID] {
			continue
		}
		dist := rows[i].ValidatedAt.Sub(at)
		if dist < 0 {
			dist = -dist
		}
		if best == nil || dist < bestDist {
			best, bestDist = &rows[i], dist
		}
	}
	if best != nil {
		r.claimed[best.ID] = true
	}
	return best
}

func (s *ValidationService) reconcileRecord(ctx context.Context, run *reconcileRun, rec models.OfflineScanRecord) models.OfflineRecordResult {
	validator := run.validator
	ticketID := rec.TicketID

	var claim *qr.Claim
	if rec.QRPayload != "" {
		decoded, err := s.Codec.Decode(rec.QRPayload)
		if err != nil {
			return errorResult(rec, ticketID, err)
		}
		if ticketID != "" && ticketID != decoded.TicketID {
			return errorResult(rec, ticketID, apperrors.WithMessage(apperrors.ErrTicketMismatch, "record ticket %s does not match QR payload", ticketID))
		}
		claim = decoded
		ticketID = decoded.TicketID
	}
	if ticketID == "" {
		return errorResult(rec, ticketID, apperrors.WithMessage(apperrors.ErrInvalidRequest, "record has neither ticket id nor QR payload"))
	}
	if rec.ScannedAt.IsZero() {
		return errorResult(rec, ticketID, apperrors.WithMessage(apperrors.ErrInvalidRequest, "record has no scan time"))
	}

	at := rec.ScannedAt.UTC().Truncate(time.Microsecond)
	scan := models.ScanContext{DeviceID: rec.DeviceID, Location: rec.Location, Metadata: rec.Metadata}
	res := models.OfflineRecordResult{TicketID: ticketID, ScannedAt: at}

	var event *models.ValidationEvent
	err := s.DB.RunInTx(ctx, func(ctx context.Context) error {
		target, err := s.DB.LockTicketForScan(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := matchClaim(claim, target.Ticket); err != nil {
			return err
		}

		if err := s.Authz.Authorize(ctx, s.DB, validator, target.Campaign.SellerID); err != nil {
			return err
		}

		prior, err := s.DB.ListSyncedNear(ctx, ticketID, rec.DeviceID, at, s.IdempotencyWindow, run.batchID)
		if err != nil {
			return err
		}
		if replay := run.claimReplay(prior, at); replay != nil {
			res.Outcome = models.OutcomeSkipped
			res.Reason = "already recorded within the idempotency window"
			res.ValidationID = replay.ID
			return nil
		}

		if reason := checkTicketState(target); reason != nil {
			row := newLedgerRow(target, validator, models.MethodOfflineSync, at, scan)
			row.SyncBatchID = run.batchID
			row.ScanNumber = target.Ticket.ScanCount
			row.IsValid = false
			row.Reason = string(reason.Code)
			row.CreatedAt = s.now()
			if row.Metadata == nil {
				row.Metadata = map[string]any{}
			}
			row.Metadata["server_scan_count"] = target.Ticket.ScanCount
			row.Metadata["server_status"] = string(target.Ticket.Status)
			if err := s.DB.InsertValidation(ctx, row); err != nil {
				return err
			}

			res.Outcome = models.OutcomeConflict
			res.Code = string(reason.Code)
			res.Reason = reason.Message
			res.ValidationID = row.ID
			evt := buildEvent(target, row)
			event = &evt
			return nil
		}

		row := newLedgerRow(target, validator, models.MethodOfflineSync, at, scan)
		row.SyncBatchID = run.batchID
		if err := s.applyScan(ctx, target, row, nil); err != nil {
			return err
		}
		res.Outcome = models.OutcomeProcessed
		res.ValidationID = row.ID
		res.ScanNumber = row.ScanNumber
		evt := buildEvent(target, row)
		event = &evt
		return nil
	})
	if err != nil {
		s.Logger.LogSync("RECORD_FAILED", validator.ManagerID, fmt.Sprintf("ticket %s: %v", ticketID, err))
		return errorResult(rec, ticketID, err)
	}

	if event != nil {
		s.emit(ctx, *event)
	}
	return res
}

func errorResult(rec models.OfflineScanRecord, ticketID string, err error) models.OfflineRecordResult {
	res := models.OfflineRecordResult{
		TicketID:  ticketID,
		ScannedAt: rec.ScannedAt,
		Outcome:   models.OutcomeError,
		Code:      string(apperrors.CodeInternal),
		Reason:    err.Error(),
	}
	if appErr, ok := apperrors.As(err); ok {
		res.Code = string(appErr.Code)
		res.Reason = appErr.Message
	}
	return res
}
