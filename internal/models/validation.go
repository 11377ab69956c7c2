package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ValidationMethod string

const (
	MethodQRScan      ValidationMethod = "QR_SCAN"
	MethodOfflineSync ValidationMethod = "OFFLINE_SYNC"
	MethodManual      ValidationMethod = "MANUAL"
)

// TicketValidation is one ledger row. Rows are only ever inserted.
type TicketValidation struct {
	bun.BaseModel `bun:"table:ticket_validations"`

	ID              string           `bun:"id,pk" json:"id"`
	TicketID        string           `bun:"ticket_id,notnull" json:"ticket_id"`
	CampaignID      string           `bun:"campaign_id,notnull" json:"campaign_id"`
	ValidatedBy     *string          `bun:"validated_by" json:"validated_by,omitempty"`
	ValidatedByUser *string          `bun:"validated_by_user" json:"validated_by_user,omitempty"`
	Method          ValidationMethod `bun:"method,notnull" json:"method"`
	ScanNumber      int              `bun:"scan_number,notnull" json:"scan_number"`
	IsValid         bool             `bun:"is_valid,notnull" json:"is_valid"`
	Reason          string           `bun:"reason,nullzero" json:"reason,omitempty"`
	DeviceID        string           `bun:"device_id,nullzero" json:"device_id,omitempty"`
	Location        string           `bun:"location,nullzero" json:"location,omitempty"`
	Metadata        map[string]any   `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	SyncBatchID     string           `bun:"sync_batch_id,nullzero" json:"sync_batch_id,omitempty"`
	ValidatedAt     time.Time        `bun:"validated_at,notnull" json:"validated_at"`
	CreatedAt       time.Time        `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// Validator identifies who performs a scan. Exactly one of ManagerID / UserID
// is expected to be set.
type Validator struct {
	ManagerID string `json:"manager_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

func (v Validator) IsManager() bool { return v.ManagerID != "" }

func (v Validator) IsSeller() bool { return v.ManagerID == "" && v.UserID != "" }

// ScanContext carries the device-side details of a scan attempt.
type ScanContext struct {
	DeviceID string         `json:"device_id,omitempty"`
	Location string         `json:"location,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ScanSignal is advisory output of a ScanAdvisor. It never changes the admission decision.
type ScanSignal struct {
	Flagged     bool   `json:"flagged"`
	Reason      string `json:"reason,omitempty"`
	RecentScans int64  `json:"recent_scans"`
}
