package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketStatusValid     TicketStatus = "VALID"
	TicketStatusUsed      TicketStatus = "USED"
	TicketStatusCancelled TicketStatus = "CANCELLED"
	TicketStatusExpired   TicketStatus = "EXPIRED"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID           string       `bun:"id,pk" json:"id"`
	TicketNumber string       `bun:"ticket_number,unique,notnull" json:"ticket_number"`
	CampaignID   string       `bun:"campaign_id,notnull" json:"campaign_id"`
	BookingID    string       `bun:"booking_id,notnull" json:"booking_id"`
	Status       TicketStatus `bun:"status,notnull" json:"status"`
	ScanCount    int          `bun:"scan_count,notnull" json:"scan_count"`
	MaxScans     int          `bun:"max_scans,notnull" json:"max_scans"`
	UsedAt       *time.Time   `bun:"used_at" json:"used_at,omitempty"`
	CreatedAt    time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time    `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// EffectiveMaxScans resolves the admission allowance: the ticket override when
// set, otherwise the campaign policy.
func (t *Ticket) EffectiveMaxScans(c *Campaign) int {
	if t.MaxScans > 0 {
		return t.MaxScans
	}
	if c != nil && c.IsMultiScan && c.MaxScansPerTicket > 0 {
		return c.MaxScansPerTicket
	}
	return 1
}

// TicketScanTarget is the projection loaded under the row lock: the ticket plus
// the campaign and booking it belongs to.
type TicketScanTarget struct {
	Ticket   *Ticket
	Campaign *Campaign
	Booking  *Booking
}
