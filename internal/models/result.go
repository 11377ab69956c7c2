package models

import "time"

type TicketSnapshot struct {
	ID             string       `json:"id"`
	TicketNumber   string       `json:"ticket_number"`
	Status         TicketStatus `json:"status"`
	ScanCount      int          `json:"scan_count"`
	MaxScans       int          `json:"max_scans"`
	RemainingScans int          `json:"remaining_scans"`
	UsedAt         *time.Time   `json:"used_at,omitempty"`
}

type CampaignSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	EventDate time.Time `json:"event_date"`
	Venue     string    `json:"venue,omitempty"`
}

type CustomerSummary struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// ValidationResult is returned for every admitted scan.
type ValidationResult struct {
	Ticket       TicketSnapshot   `json:"ticket"`
	Campaign     CampaignSummary  `json:"campaign"`
	Customer     CustomerSummary  `json:"customer"`
	ValidationID string           `json:"validation_id"`
	ScanNumber   int              `json:"scan_number"`
	Method       ValidationMethod `json:"method"`
	ValidatedAt  time.Time        `json:"validated_at"`
	Advisory     *ScanSignal      `json:"advisory,omitempty"`
}

// ValidationEvent is what gets published and streamed once a ledger row is committed.
type ValidationEvent struct {
	ValidationID string           `json:"validation_id"`
	TicketID     string           `json:"ticket_id"`
	TicketNumber string           `json:"ticket_number"`
	CampaignID   string           `json:"campaign_id"`
	Method       ValidationMethod `json:"method"`
	ScanNumber   int              `json:"scan_number"`
	IsValid      bool             `json:"is_valid"`
	Reason       string           `json:"reason,omitempty"`
	Status       TicketStatus     `json:"status"`
	ScanCount    int              `json:"scan_count"`
	MaxScans     int              `json:"max_scans"`
	ValidatedAt  time.Time        `json:"validated_at"`
}
