package models

import (
	"time"

	"github.com/uptrace/bun"
)

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "DRAFT"
	CampaignStatusActive    CampaignStatus = "ACTIVE"
	CampaignStatusPaused    CampaignStatus = "PAUSED"
	CampaignStatusEnded     CampaignStatus = "ENDED"
	CampaignStatusCancelled CampaignStatus = "CANCELLED"
)

type Campaign struct {
	bun.BaseModel `bun:"table:campaigns"`

	ID                string         `bun:"id,pk" json:"id"`
	Title             string         `bun:"title,notnull" json:"title"`
	SellerID          string         `bun:"seller_id,notnull" json:"seller_id"`
	Status            CampaignStatus `bun:"status,notnull" json:"status"`
	IsMultiScan       bool           `bun:"is_multi_scan,notnull" json:"is_multi_scan"`
	MaxScansPerTicket int            `bun:"max_scans_per_ticket,notnull" json:"max_scans_per_ticket"`
	EventDate         time.Time      `bun:"event_date,notnull" json:"event_date"`
	Venue             string         `bun:"venue" json:"venue,omitempty"`
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID            string `bun:"id,pk" json:"id"`
	CampaignID    string `bun:"campaign_id,notnull" json:"campaign_id"`
	CustomerName  string `bun:"customer_name,notnull" json:"customer_name"`
	CustomerEmail string `bun:"customer_email,notnull" json:"customer_email"`
	CustomerPhone string `bun:"customer_phone" json:"customer_phone,omitempty"`
}

// Manager is a staff account allowed to validate tickets on behalf of one seller.
type Manager struct {
	bun.BaseModel `bun:"table:managers"`

	ID       string `bun:"id,pk" json:"id"`
	SellerID string `bun:"seller_id,notnull" json:"seller_id"`
	Name     string `bun:"name" json:"name"`
	Email    string `bun:"email" json:"email"`
	IsActive bool   `bun:"is_active,notnull" json:"is_active"`
}
