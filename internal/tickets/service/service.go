package tickets

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"ms-validation/internal/apperrors"
	"ms-validation/internal/logger"
	"ms-validation/internal/models"
	"ms-validation/internal/tickets/authz"
	qr "ms-validation/internal/tickets/qr_codec"
)

// ValidationDBLayer is the store contract. Methods take the transaction from
// ctx when called inside RunInTx.
type ValidationDBLayer interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockTicketForScan(ctx context.Context, ticketID string) (*models.TicketScanTarget, error)
	GetTicketScanTarget(ctx context.Context, ticketID string) (*models.TicketScanTarget, error)
	GetCampaignByID(ctx context.Context, campaignID string) (*models.Campaign, error)
	FindTicketIDByNumber(ctx context.Context, ticketNumber string) (string, error)
	GetManagerByID(ctx context.Context, managerID string) (*models.Manager, error)
	AdvanceTicketScan(ctx context.Context, ticket *models.Ticket, previousScanCount int) error
	InsertValidation(ctx context.Context, v *models.TicketValidation) error
	ListSyncedNear(ctx context.Context, ticketID, deviceID string, at time.Time, window time.Duration, excludeBatchID string) ([]models.TicketValidation, error)
	ListValidationsByTicket(ctx context.Context, ticketID string) ([]models.TicketValidation, error)
}

type ClaimDecoder interface {
	Decode(payload string) (*qr.Claim, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, dir authz.ManagerDirectory, v models.Validator, campaignSellerID string) error
}

// ScanAdvisor flags suspicious scan patterns. Its output is informational only.
type ScanAdvisor interface {
	Assess(ctx context.Context, ticketID string, v models.Validator) (*models.ScanSignal, error)
}

type EventPublisher interface {
	PublishValidation(ctx context.Context, evt models.ValidationEvent) error
	PublishSyncCompleted(ctx context.Context, managerID string, summary *models.ReconciliationSummary) error
}

type Broadcaster interface {
	EmitValidationEvent(evt models.ValidationEvent)
}

const DefaultIdempotencyWindow = 60 * time.Second

type ValidationService struct {
	DB        ValidationDBLayer
	Codec     ClaimDecoder
	Authz     Authorizer
	Advisor   ScanAdvisor
	Publisher EventPublisher
	Feed      Broadcaster
	Logger    *logger.Logger

	IdempotencyWindow time.Duration
	Now               func() time.Time
}

type Option func(*ValidationService)

func WithAdvisor(a ScanAdvisor) Option { return func(s *ValidationService) { s.Advisor = a } }

func WithPublisher(p EventPublisher) Option { return func(s *ValidationService) { s.Publisher = p } }

func WithFeed(f Broadcaster) Option { return func(s *ValidationService) { s.Feed = f } }

func WithIdempotencyWindow(d time.Duration) Option {
	return func(s *ValidationService) {
		if d > 0 {
			s.IdempotencyWindow = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *ValidationService) { s.Now = now } }

func NewValidationService(db ValidationDBLayer, codec ClaimDecoder, authorizer Authorizer, log *logger.Logger, opts ...Option) *ValidationService {
	if log == nil {
		log = logger.NewConsoleLogger(io.Discard)
	}
	s := &ValidationService{
		DB:                db,
		Codec:             codec,
		Authz:             authorizer,
		Logger:            log,
		IdempotencyWindow: DefaultIdempotencyWindow,
		Now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ValidationService) now() time.Time {
	return s.Now().UTC().Truncate(time.Microsecond)
}

// admission is one request to move a ticket through VALID -> USED.
type admission struct {
	ticketID  string
	claim     *qr.Claim
	validator models.Validator
	method    models.ValidationMethod
	scan      models.ScanContext
}

// ValidateScan decodes a scanned QR payload and admits the ticket it names.
func (s *ValidationService) ValidateScan(ctx context.Context, payload string, validator models.Validator, scan models.ScanContext) (*models.ValidationResult, error) {
	claim, err := s.Codec.Decode(payload)
	if err != nil {
		s.Logger.LogSecurity("QR_REJECTED", fmt.Sprintf("device=%s: %v", scan.DeviceID, err))
		return nil, err
	}
	if !validator.IsManager() && !validator.IsSeller() {
		return nil, apperrors.ErrMissingValidator
	}
	return s.admit(ctx, admission{
		ticketID:  claim.TicketID,
		claim:     claim,
		validator: validator,
		method:    models.MethodQRScan,
		scan:      scan,
	})
}

// ValidateManual admits a ticket identified by its printed number.
func (s *ValidationService) ValidateManual(ctx context.Context, ticketNumber string, validator models.Validator, scan models.ScanContext) (*models.ValidationResult, error) {
	if ticketNumber == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidRequest, "ticket number is required")
	}
	if !validator.IsManager() && !validator.IsSeller() {
		return nil, apperrors.ErrMissingValidator
	}
	ticketID, err := s.DB.FindTicketIDByNumber(ctx, ticketNumber)
	if err != nil {
		return nil, err
	}
	return s.admit(ctx, admission{
		ticketID:  ticketID,
		validator: validator,
		method:    models.MethodManual,
		scan:      scan,
	})
}

func (s *ValidationService) admit(ctx context.Context, req admission) (*models.ValidationResult, error) {
	signal := s.assess(ctx, req.ticketID, req.validator)
	at := s.now()

	var (
		result *models.ValidationResult
		event  models.ValidationEvent
	)
	err := s.DB.RunInTx(ctx, func(ctx context.Context) error {
		target, err := s.DB.LockTicketForScan(ctx, req.ticketID)
		if err != nil {
			return err
		}
		if err := matchClaim(req.claim, target.Ticket); err != nil {
			return err
		}
		if err := s.Authz.Authorize(ctx, s.DB, req.validator, target.Campaign.SellerID); err != nil {
			return err
		}
		if err := checkAdmissible(target); err != nil {
			return err
		}

		row := newLedgerRow(target, req.validator, req.method, at, req.scan)
		if err := s.applyScan(ctx, target, row, signal); err != nil {
			return err
		}
		result = buildResult(target, row, signal)
		event = buildEvent(target, row)
		return nil
	})
	if err != nil {
		s.Logger.LogValidation("REJECT", req.ticketID, err.Error())
		return nil, err
	}

	s.Logger.LogValidation("ADMIT", req.ticketID,
		fmt.Sprintf("%s scan %d/%d", req.method, result.Ticket.ScanCount, result.Ticket.MaxScans))
	s.emit(ctx, event)
	return result, nil
}

func matchClaim(claim *qr.Claim, ticket *models.Ticket) error {
	if claim == nil {
		return nil
	}
	if claim.TicketNumber != ticket.TicketNumber || claim.CampaignID != ticket.CampaignID {
		return apperrors.WithMessage(apperrors.ErrTicketMismatch, "QR payload does not match ticket %s", ticket.ID)
	}
	return nil
}

// checkAdmissible applies the live-scan rules in order: campaign, ticket
// lifecycle, then remaining scans.
func checkAdmissible(target *models.TicketScanTarget) error {
	if target.Campaign.Status != models.CampaignStatusActive {
		return apperrors.WithMessage(apperrors.ErrCampaignNotActive, "campaign %s is %s", target.Campaign.ID, target.Campaign.Status)
	}
	if err := checkTicketState(target); err != nil {
		return err
	}
	return nil
}

func checkTicketState(target *models.TicketScanTarget) *apperrors.Error {
	t := target.Ticket
	switch t.Status {
	case models.TicketStatusCancelled:
		return apperrors.ErrTicketCancelled
	case models.TicketStatusExpired:
		return apperrors.ErrTicketExpired
	}
	maxScans := t.EffectiveMaxScans(target.Campaign)
	if t.Status == models.TicketStatusUsed || t.ScanCount >= maxScans {
		return apperrors.WithMessage(apperrors.ErrScanLimitReached, "ticket already scanned %d/%d times", t.ScanCount, maxScans)
	}
	return nil
}

// applyScan advances the locked ticket by one scan and appends row as its
// admitted ledger entry. row.ValidatedAt is the moment the scan happened,
// which for offline records is in the past.
func (s *ValidationService) applyScan(ctx context.Context, target *models.TicketScanTarget, row *models.TicketValidation, signal *models.ScanSignal) error {
	t := target.Ticket
	maxScans := t.EffectiveMaxScans(target.Campaign)
	previous := t.ScanCount
	at := row.ValidatedAt

	t.ScanCount = previous + 1
	if t.ScanCount >= maxScans {
		t.Status = models.TicketStatusUsed
	} else {
		t.Status = models.TicketStatusValid
	}
	if t.UsedAt == nil || at.After(*t.UsedAt) {
		usedAt := at
		t.UsedAt = &usedAt
	}
	t.UpdatedAt = s.now()

	if err := s.DB.AdvanceTicketScan(ctx, t, previous); err != nil {
		return err
	}

	row.ScanNumber = t.ScanCount
	row.IsValid = true
	row.CreatedAt = s.now()
	if signal != nil && signal.Flagged {
		if row.Metadata == nil {
			row.Metadata = map[string]any{}
		}
		row.Metadata["advisory"] = signal.Reason
	}
	return s.DB.InsertValidation(ctx, row)
}

func newLedgerRow(target *models.TicketScanTarget, v models.Validator, method models.ValidationMethod, at time.Time, scan models.ScanContext) *models.TicketValidation {
	row := &models.TicketValidation{
		ID:          uuid.NewString(),
		TicketID:    target.Ticket.ID,
		CampaignID:  target.Ticket.CampaignID,
		Method:      method,
		DeviceID:    scan.DeviceID,
		Location:    scan.Location,
		ValidatedAt: at,
	}
	if v.ManagerID != "" {
		id := v.ManagerID
		row.ValidatedBy = &id
	} else if v.UserID != "" {
		id := v.UserID
		row.ValidatedByUser = &id
	}
	if len(scan.Metadata) > 0 {
		row.Metadata = make(map[string]any, len(scan.Metadata))
		for k, val := range scan.Metadata {
			row.Metadata[k] = val
		}
	}
	return row
}

func (s *ValidationService) assess(ctx context.Context, ticketID string, v models.Validator) *models.ScanSignal {
	if s.Advisor == nil {
		return nil
	}
	signal, err := s.Advisor.Assess(ctx, ticketID, v)
	if err != nil {
		s.Logger.Warn("VALIDATION", fmt.Sprintf("scan advisor unavailable for ticket %s: %v", ticketID, err))
		return nil
	}
	if signal != nil && signal.Flagged {
		s.Logger.LogSecurity("SCAN_VELOCITY", fmt.Sprintf("ticket %s: %s", ticketID, signal.Reason))
	}
	return signal
}

// emit fans a committed ledger row out to the live feed and the event bus.
// Publish failures never undo a committed validation.
func (s *ValidationService) emit(ctx context.Context, evt models.ValidationEvent) {
	if s.Feed != nil {
		s.Feed.EmitValidationEvent(evt)
	}
	if s.Publisher != nil {
		if err := s.Publisher.PublishValidation(ctx, evt); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("failed to publish validation %s: %v", evt.ValidationID, err))
		}
	}
}

func buildResult(target *models.TicketScanTarget, row *models.TicketValidation, signal *models.ScanSignal) *models.ValidationResult {
	t := target.Ticket
	c := target.Campaign
	maxScans := t.EffectiveMaxScans(c)

	result := &models.ValidationResult{
		Ticket: models.TicketSnapshot{
			ID:             t.ID,
			TicketNumber:   t.TicketNumber,
			Status:         t.Status,
			ScanCount:      t.ScanCount,
			MaxScans:       maxScans,
			RemainingScans: max(maxScans-t.ScanCount, 0),
			UsedAt:         t.UsedAt,
		},
		Campaign: models.CampaignSummary{
			ID:        c.ID,
			Title:     c.Title,
			EventDate: c.EventDate,
			Venue:     c.Venue,
		},
		ValidationID: row.ID,
		ScanNumber:   row.ScanNumber,
		Method:       row.Method,
		ValidatedAt:  row.ValidatedAt,
	}
	if target.Booking != nil {
		result.Customer = models.CustomerSummary{
			Name:  target.Booking.CustomerName,
			Email: target.Booking.CustomerEmail,
			Phone: target.Booking.CustomerPhone,
		}
	}
	if signal != nil && signal.Flagged {
		result.Advisory = signal
	}
	return result
}

func buildEvent(target *models.TicketScanTarget, row *models.TicketValidation) models.ValidationEvent {
	t := target.Ticket
	return models.ValidationEvent{
		ValidationID: row.ID,
		TicketID:     t.ID,
		TicketNumber: t.TicketNumber,
		CampaignID:   t.CampaignID,
		Method:       row.Method,
		ScanNumber:   row.ScanNumber,
		IsValid:      row.IsValid,
		Reason:       row.Reason,
		Status:       t.Status,
		ScanCount:    t.ScanCount,
		MaxScans:     t.EffectiveMaxScans(target.Campaign),
		ValidatedAt:  row.ValidatedAt,
	}
}

// ValidationHistory returns the ledger of a ticket to a validator entitled to
// scan it.
func (s *ValidationService) ValidationHistory(ctx context.Context, ticketID string, validator models.Validator) ([]models.TicketValidation, error) {
	if !validator.IsManager() && !validator.IsSeller() {
		return nil, apperrors.ErrMissingValidator
	}
	target, err := s.DB.GetTicketScanTarget(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := s.Authz.Authorize(ctx, s.DB, validator, target.Campaign.SellerID); err != nil {
		return nil, err
	}
	return s.DB.ListValidationsByTicket(ctx, ticketID)
}

// AuthorizeCampaign checks that validator may watch the gates of a campaign.
func (s *ValidationService) AuthorizeCampaign(ctx context.Context, campaignID string, validator models.Validator) error {
	if !validator.IsManager() && !validator.IsSeller() {
		return apperrors.ErrMissingValidator
	}
	campaign, err := s.DB.GetCampaignByID(ctx, campaignID)
	if err != nil {
		return err
	}
	return s.Authz.Authorize(ctx, s.DB, validator, campaign.SellerID)
}
