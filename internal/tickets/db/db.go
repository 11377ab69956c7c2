package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"ms-validation/internal/apperrors"
	"ms-validation/internal/models"
)

type txKey struct{}

// DB is the bun-backed ticket store. Methods run on the transaction carried
// by ctx when there is one, otherwise on the pool.
type DB struct {
	Bun *bun.DB
	// LockTimeout bounds how long LockTicketForScan waits for a contended row (Postgres only).
	LockTimeout time.Duration
}

func New(bunDB *bun.DB, lockTimeout time.Duration) *DB {
	return &DB{Bun: bunDB, LockTimeout: lockTimeout}
}

func (d *DB) isPostgres() bool {
	return d.Bun.Dialect().Name() == dialect.PG
}

// RunInTx executes fn inside a database transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return fn(ctx)
	}

	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if d.isPostgres() && d.LockTimeout > 0 {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.LockTimeout.Milliseconds())
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	return classify(err)
}

func (d *DB) conn(ctx context.Context) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return d.Bun
}

// LockTicketForScan loads the ticket with its campaign and booking and holds
// the ticket row lock until the surrounding transaction ends.
func (d *DB) LockTicketForScan(ctx context.Context, ticketID string) (*models.TicketScanTarget, error) {
	return d.loadScanTarget(ctx, ticketID, true)
}

// GetTicketScanTarget is LockTicketForScan without the lock, for reads.
func (d *DB) GetTicketScanTarget(ctx context.Context, ticketID string) (*models.TicketScanTarget, error) {
	return d.loadScanTarget(ctx, ticketID, false)
}

func (d *DB) loadScanTarget(ctx context.Context, ticketID string, lock bool) (*models.TicketScanTarget, error) {
	conn := d.conn(ctx)

	ticket := new(models.Ticket)
	q := conn.NewSelect().Model(ticket).Where("id = ?", ticketID).Limit(1)
	if lock && d.isPostgres() {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WithMessage(apperrors.ErrTicketNotFound, "ticket %s not found", ticketID)
		}
		return nil, classify(err)
	}

	campaign := new(models.Campaign)
	cq := conn.NewSelect().Model(campaign).Where("id = ?", ticket.CampaignID).Limit(1)
	if lock && d.isPostgres() {
		cq = cq.For("SHARE")
	}
	if err := cq.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WithMessage(apperrors.ErrTicketNotFound, "campaign %s of ticket %s not found", ticket.CampaignID, ticketID)
		}
		return nil, classify(err)
	}

	target := &models.TicketScanTarget{Ticket: ticket, Campaign: campaign}

	booking := new(models.Booking)
	err := conn.NewSelect().Model(booking).Where("id = ?", ticket.BookingID).Limit(1).Scan(ctx)
	switch {
	case err == nil:
		target.Booking = booking
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, classify(err)
	}

	return target, nil
}

// FindTicketIDByNumber resolves the printed ticket number to its id.
func (d *DB) FindTicketIDByNumber(ctx context.Context, ticketNumber string) (string, error) {
	var id string
	err := d.conn(ctx).NewSelect().
		Model((*models.Ticket)(nil)).
		Column("id").
		Where("ticket_number = ?", ticketNumber).
		Limit(1).
		Scan(ctx, &id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperrors.WithMessage(apperrors.ErrTicketNotFound, "ticket %s not found", ticketNumber)
		}
		return "", classify(err)
	}
	return id, nil
}

// GetManagerByID returns an error wrapping sql.ErrNoRows when no manager exists.
func (d *DB) GetManagerByID(ctx context.Context, managerID string) (*models.Manager, error) {
	manager := new(models.Manager)
	err := d.conn(ctx).NewSelect().Model(manager).Where("id = ?", managerID).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("manager %s: %w", managerID, err)
		}
		return nil, classify(err)
	}
	return manager, nil
}

// AdvanceTicketScan persists the scan counters of ticket. The update only
// applies while the stored scan_count still equals previousScanCount.
func (d *DB) AdvanceTicketScan(ctx context.Context, ticket *models.Ticket, previousScanCount int) error {
	res, err := d.conn(ctx).NewUpdate().
		Model(ticket).
		Column("scan_count", "status", "used_at", "updated_at").
		Where("id = ?", ticket.ID).
		Where("scan_count = ?", previousScanCount).
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.WithMessage(apperrors.ErrLockTimeout, "ticket %s changed during validation", ticket.ID)
	}
	return nil
}

func (d *DB) GetCampaignByID(ctx context.Context, campaignID string) (*models.Campaign, error) {
	campaign := new(models.Campaign)
	err := d.conn(ctx).NewSelect().Model(campaign).Where("id = ?", campaignID).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidRequest, "campaign %s not found", campaignID)
		}
		return nil, classify(err)
	}
	return campaign, nil
}
