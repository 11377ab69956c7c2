package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-validation/internal/logger"
	"ms-validation/internal/models"
)

const (
	defaultVelocityWindow    = 30 * time.Second
	defaultVelocityThreshold = 3
)

// ScanVelocity counts scan attempts per ticket in a fixed window and flags
// tickets that are presented more often than the threshold allows. The counter
// is advisory; admission is decided by the database.
type ScanVelocity struct {
	Client    *redis.Client
	Logger    *logger.Logger
	Window    time.Duration
	Threshold int64
}

func NewScanVelocity(client *redis.Client, log *logger.Logger, window time.Duration, threshold int64) *ScanVelocity {
	if window <= 0 {
		window = defaultVelocityWindow
	}
	if threshold <= 0 {
		threshold = defaultVelocityThreshold
	}
	return &ScanVelocity{Client: client, Logger: log, Window: window, Threshold: threshold}
}

func velocityKey(ticketID string) string {
	return "scan_velocity:" + ticketID
}

// Assess records one attempt for ticketID and reports whether the ticket has
// exceeded the threshold within the current window.
func (r *ScanVelocity) Assess(ctx context.Context, ticketID string, v models.Validator) (*models.ScanSignal, error) {
	key := velocityKey(ticketID)

	count, err := r.Client.Incr(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("scan velocity: %w", err)
	}
	if count == 1 {
		if err := r.Client.Expire(ctx, key, r.Window).Err(); err != nil {
			return nil, fmt.Errorf("scan velocity: %w", err)
		}
	}

	signal := &models.ScanSignal{RecentScans: count}
	if count > r.Threshold {
		signal.Flagged = true
		signal.Reason = fmt.Sprintf("%d scan attempts within %s", count, r.Window)
		if r.Logger != nil {
			r.Logger.Debug("REDIS", fmt.Sprintf("ticket %s flagged by %s/%s", ticketID, v.ManagerID, v.UserID))
		}
	}
	return signal, nil
}

// Reset clears the counter of a ticket.
func (r *ScanVelocity) Reset(ctx context.Context, ticketID string) error {
	return r.Client.Del(ctx, velocityKey(ticketID)).Err()
}
