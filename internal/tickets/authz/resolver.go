package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-validation/internal/apperrors"
	"ms-validation/internal/models"
)

// ManagerDirectory looks up staff accounts. Implementations return an error
// wrapping sql.ErrNoRows when the manager does not exist.
type ManagerDirectory interface {
	GetManagerByID(ctx context.Context, managerID string) (*models.Manager, error)
}

// Resolver decides whether a validator may validate tickets of a campaign.
// It is stateless; the directory is passed per call so the lookup can run on
// the caller's transaction.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Authorize applies the rules in order: seller identity must own the campaign,
// a manager must exist, be active and belong to the campaign's seller.
func (r *Resolver) Authorize(ctx context.Context, dir ManagerDirectory, v models.Validator, campaignSellerID string) error {
	if v.IsSeller() {
		if v.UserID != campaignSellerID {
			return apperrors.ErrNotCampaignOwner
		}
		return nil
	}

	if !v.IsManager() {
		return apperrors.ErrMissingValidator
	}

	manager, err := dir.GetManagerByID(ctx, v.ManagerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.ErrManagerNotFound
		}
		return fmt.Errorf("failed to load manager %s: %w", v.ManagerID, err)
	}
	if manager == nil {
		return apperrors.ErrManagerNotFound
	}
	if !manager.IsActive {
		return apperrors.ErrManagerInactive
	}
	if manager.SellerID != campaignSellerID {
		return apperrors.ErrManagerNotAssignedToSeller
	}
	return nil
}
