package models

import "time"

// OfflineScanRecord is one scan recorded on a device while it was disconnected.
type OfflineScanRecord struct {
	TicketID  string         `json:"ticket_id" validate:"required_without=QRPayload"`
	QRPayload string         `json:"qr_payload,omitempty"`
	ScannedAt time.Time      `json:"scanned_at" validate:"required"`
	DeviceID  string         `json:"device_id,omitempty"`
	Location  string         `json:"location,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// OfflineBatch is the envelope uploaded by a device (HTTP or Kafka).
type OfflineBatch struct {
	ManagerID string              `json:"manager_id" validate:"required"`
	DeviceID  string              `json:"device_id,omitempty"`
	Records   []OfflineScanRecord `json:"records" validate:"required,min=1,max=500,dive"`
}

type RecordOutcome string

const (
	OutcomeProcessed RecordOutcome = "PROCESSED"
	OutcomeConflict  RecordOutcome = "CONFLICT"
	OutcomeSkipped   RecordOutcome = "SKIPPED"
	OutcomeError     RecordOutcome = "ERROR"
)

type OfflineRecordResult struct {
	TicketID     string        `json:"ticket_id"`
	ScannedAt    time.Time     `json:"scanned_at"`
	Outcome      RecordOutcome `json:"outcome"`
	Code         string        `json:"code,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	ValidationID string        `json:"validation_id,omitempty"`
	ScanNumber   int           `json:"scan_number,omitempty"`
}

type ReconciliationSummary struct {
	ProcessedCount int                   `json:"processed_count"`
	ConflictCount  int                   `json:"conflict_count"`
	ErrorCount     int                   `json:"error_count"`
	SkippedCount   int                   `json:"skipped_count"`
	Results        []OfflineRecordResult `json:"results"`
}
