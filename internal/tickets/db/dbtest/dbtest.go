// Package dbtest builds in-memory sqlite stores and fixtures for tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-validation/internal/models"
	"ms-validation/internal/tickets/db"
)

// New opens an in-memory sqlite database with the validation schema. sqlite
// has no row locks, so the pool is limited to one connection and transactions
// run one after another.
func New(t *testing.T) (*db.DB, *bun.DB) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	ctx := context.Background()
	for _, model := range []any{
		(*models.Campaign)(nil),
		(*models.Booking)(nil),
		(*models.Manager)(nil),
		(*models.Ticket)(nil),
		(*models.TicketValidation)(nil),
	} {
		_, err := bunDB.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}

	return db.New(bunDB, 0), bunDB
}

// Fixture is a seeded seller with one active campaign and one manager.
type Fixture struct {
	SellerID string
	Campaign *models.Campaign
	Manager  *models.Manager
	Booking  *models.Booking
}

func Seed(t *testing.T, bunDB *bun.DB, multiScan bool, maxScansPerTicket int) *Fixture {
	t.Helper()
	ctx := context.Background()

	f := &Fixture{SellerID: "seller-" + uuid.NewString()[:8]}
	f.Campaign = &models.Campaign{
		ID:                uuid.NewString(),
		Title:             "Summer Festival",
		SellerID:          f.SellerID,
		Status:            models.CampaignStatusActive,
		IsMultiScan:       multiScan,
		MaxScansPerTicket: maxScansPerTicket,
		EventDate:         time.Date(2026, 7, 1, 18, 0, 0, 0, time.UTC),
		Venue:             "Main Arena",
	}
	f.Manager = &models.Manager{
		ID:       uuid.NewString(),
		SellerID: f.SellerID,
		Name:     "Gate Staff",
		Email:    "gate@example.com",
		IsActive: true,
	}
	f.Booking = &models.Booking{
		ID:            uuid.NewString(),
		CampaignID:    f.Campaign.ID,
		CustomerName:  "Jane Doe",
		CustomerEmail: "jane@example.com",
		CustomerPhone: "+15550100",
	}

	_, err := bunDB.NewInsert().Model(f.Campaign).Exec(ctx)
	require.NoError(t, err)
	_, err = bunDB.NewInsert().Model(f.Manager).Exec(ctx)
	require.NoError(t, err)
	_, err = bunDB.NewInsert().Model(f.Booking).Exec(ctx)
	require.NoError(t, err)
	return f
}

// AddTicket inserts a VALID ticket with the given override (0 means campaign policy).
func (f *Fixture) AddTicket(t *testing.T, bunDB *bun.DB, maxScans int) *models.Ticket {
	t.Helper()
	now := time.Now().UTC()
	ticket := &models.Ticket{
		ID:           uuid.NewString(),
		TicketNumber: "TKT-" + uuid.NewString()[:8],
		CampaignID:   f.Campaign.ID,
		BookingID:    f.Booking.ID,
		Status:       models.TicketStatusValid,
		MaxScans:     maxScans,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := bunDB.NewInsert().Model(ticket).Exec(context.Background())
	require.NoError(t, err)
	return ticket
}

// AddManager inserts another manager for sellerID.
func AddManager(t *testing.T, bunDB *bun.DB, sellerID string, active bool) *models.Manager {
	t.Helper()
	m := &models.Manager{ID: uuid.NewString(), SellerID: sellerID, Name: "Other", IsActive: active}
	_, err := bunDB.NewInsert().Model(m).Exec(context.Background())
	require.NoError(t, err)
	return m
}

// Ticket reloads a ticket row.
func Ticket(t *testing.T, bunDB *bun.DB, id string) *models.Ticket {
	t.Helper()
	ticket := new(models.Ticket)
	require.NoError(t, bunDB.NewSelect().Model(ticket).Where("id = ?", id).Scan(context.Background()))
	return ticket
}

// SetTicketStatus overwrites the lifecycle status of a ticket.
func SetTicketStatus(t *testing.T, bunDB *bun.DB, id string, status models.TicketStatus) {
	t.Helper()
	_, err := bunDB.NewUpdate().Model((*models.Ticket)(nil)).
		Set("status = ?", status).
		Where("id = ?", id).
		Exec(context.Background())
	require.NoError(t, err)
}

// SetCampaignStatus overwrites the status of a campaign.
func SetCampaignStatus(t *testing.T, bunDB *bun.DB, id string, status models.CampaignStatus) {
	t.Helper()
	_, err := bunDB.NewUpdate().Model((*models.Campaign)(nil)).
		Set("status = ?", status).
		Where("id = ?", id).
		Exec(context.Background())
	require.NoError(t, err)
}

// CountValidScans returns how many admitted rows the ledger holds for a ticket.
func CountValidScans(t *testing.T, bunDB *bun.DB, ticketID string) int {
	t.Helper()
	n, err := bunDB.NewSelect().
		Model((*models.TicketValidation)(nil)).
		Where("ticket_id = ?", ticketID).
		Where("is_valid = ?", true).
		Count(context.Background())
	require.NoError(t, err)
	return n
}
