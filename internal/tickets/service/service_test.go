package tickets_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ms-validation/internal/apperrors"
	"ms-validation/internal/logger"
	"ms-validation/internal/models"
	"ms-validation/internal/tickets/authz"
	"ms-validation/internal/tickets/db"
	"ms-validation/internal/tickets/db/dbtest"
	qr "ms-validation/internal/tickets/qr_codec"
	tickets "ms-validation/internal/tickets/service"
)

var fixedNow = time.Date(2026, 7, 1, 19, 0, 0, 0, time.UTC)

// MockEventPublisher is a mock implementation of the EventPublisher interface
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishValidation(ctx context.Context, evt models.ValidationEvent) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishSyncCompleted(ctx context.Context, managerID string, summary *models.ReconciliationSummary) error {
	args := m.Called(ctx, managerID, summary)
	return args.Error(0)
}

type recordingFeed struct {
	mu     sync.Mutex
	events []models.ValidationEvent
}

func (f *recordingFeed) EmitValidationEvent(evt models.ValidationEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

type stubAdvisor struct {
	signal *models.ScanSignal
	err    error
}

func (a stubAdvisor) Assess(context.Context, string, models.Validator) (*models.ScanSignal, error) {
	return a.signal, a.err
}

type harness struct {
	svc     *tickets.ValidationService
	store   *db.DB
	bun     *bun.DB
	codec   *qr.Codec
	fixture *dbtest.Fixture
}

func newHarness(t *testing.T, multiScan bool, maxScansPerTicket int, opts ...tickets.Option) *harness {
	t.Helper()
	store, bunDB := dbtest.New(t)
	codec, err := qr.NewCodec("service-test-secret")
	require.NoError(t, err)

	opts = append([]tickets.Option{tickets.WithClock(func() time.Time { return fixedNow })}, opts...)
	svc := tickets.NewValidationService(store, codec, authz.NewResolver(), logger.NewConsoleLogger(io.Discard), opts...)

	return &harness{
		svc:     svc,
		store:   store,
		bun:     bunDB,
		codec:   codec,
		fixture: dbtest.Seed(t, bunDB, multiScan, maxScansPerTicket),
	}
}

func (h *harness) payload(t *testing.T, ticket *models.Ticket) string {
	t.Helper()
	p, err := h.codec.Sign(qr.Claim{TicketID: ticket.ID, TicketNumber: ticket.TicketNumber, CampaignID: ticket.CampaignID})
	require.NoError(t, err)
	return p
}

func (h *harness) manager() models.Validator {
	return models.Validator{ManagerID: h.fixture.Manager.ID}
}

func (h *harness) ledger(t *testing.T, ticketID string) []models.TicketValidation {
	t.Helper()
	rows, err := h.store.ListValidationsByTicket(context.Background(), ticketID)
	require.NoError(t, err)
	return rows
}

func TestValidateScanAdmitsSingleUseTicket(t *testing.T) {
	h := newHarness(t, false, 0)
	ticket := h.fixture.AddTicket(t, h.bun, 0)
	ctx := context.Background()

	result, err := h.svc.ValidateScan(ctx, h.payload(t, ticket), h.manager(), models.ScanContext{DeviceID: "gate-1", Location: "North"})
	require.NoError(t, err)

	assert.Equal(t, models.TicketStatusUsed, result.Ticket.Status)
	assert.Equal(t, 1, result.Ticket.ScanCount)
	assert.Equal(t, 1, result.Ticket.MaxScans)
	assert.Equal(t, 0, result.Ticket.RemainingScans)
	assert.Equal(t, 1, result.ScanNumber)
	assert.Equal(t, models.MethodQRScan, result.Method)
	assert.Equal(t, "Jane Doe", result.Customer.Name)
	assert.Equal(t, "Summer Festival", result.Campaign.Title)
	assert.Nil(t, result.Advisory)

	stored := dbtest.Ticket(t, h.bun, ticket.ID)
	assert.Equal(t, models.TicketStatusUsed, stored.Status)
	require.NotNil(t, stored.UsedAt)
	assert.True(t, stored.UsedAt.Equal(fixedNow))

	rows := h.ledger(t, ticket.ID)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsValid)
	assert.Equal(t, "gate-1", rows[0].DeviceID)
	require.NotNil(t, rows[0].ValidatedBy)
	assert.Equal(t, h.fixture.Manager.ID, *rows[0].ValidatedBy)
	assert.Nil(t, rows[0].ValidatedByUser)

	_, err = h.svc.ValidateScan(ctx, h.payload(t, ticket), h.manager(), models.ScanContext{})
	assert.True(t, errors.Is(err, apperrors.ErrScanLimitReached))
	assert.Equal(t, 1, dbtest.Ticket(t, h.bun, ticket.ID).ScanCount)
	assert.Len(t, h.ledger(t, ticket.ID), 1)
}

func TestValidateScanMultiScanTicket(t *testing.T) {
	h := newHarness(t, true, 3)
	ticket := h.fixture.AddTicket(t, h.bun, 0)
	ctx := context.Background()

	wantStatus := []models.TicketStatus{models.TicketStatusValid, models.TicketStatusValid, models.TicketStatusUsed}
	for i, status := range wantStatus {
		result, err := h.svc.ValidateScan(ctx, h.payload(t, ticket), h.manager(), models.ScanContext{})
		require.NoError(t, err)
		assert.Equal(t, i+1, result.ScanNumber)
		assert.Equal(t, status, result.Ticket.Status)
		assert.Equal(t, 3-(i+1), result.Ticket.RemainingScans)
	}

	_, err := h.svc.ValidateScan(ctx, h.payload(t, ticket), h.manager(), models.ScanContext{})
	assert.True(t, errors.Is(err, apperrors.ErrScanLimitReached))

	rows := h.ledger(t, ticket.ID)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, i+1, row.ScanNumber)
	}
}

func TestTicketOverrideTakesPrecedence(t *testing.T) {
	h := newHarness(t, false, 0)
	ticket := h.fixture.AddTicket(t, h.bun, 2)

	result, err := h.svc.ValidateScan(context.Background(), h.payload(t, ticket), h.manager(), models.ScanContext{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Ticket.MaxScans)
	assert.Equal(t, models.TicketStatusValid, result.Ticket.Status)
}

func TestValidateScanRejections(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(t *testing.T, h *harness, ticket *models.Ticket) (string, models.Validator)
		want    error
	}{
		{
			name: "invalid signature",
			prepare: func(t *testing.T, h *harness, ticket *models.Ticket) (string, models.Validator) {
				other, err := qr.NewCodec("someone-else")
				require.NoError(t, err)
				p, err := other.Sign(qr.Claim{TicketID: ticket.ID, TicketNumber: ticket.TicketNumber, CampaignID: ticket.CampaignID})
				require.NoError(t, err)
				return p, h.manager()
			},
			want: apperrors.ErrInvalidSignature,
		},
		{
			name: "malformed payload",
			prepare: func(t *testing.T, h *harness, ticket *models.Ticket) (string, models.Validator) {
				return "###", h.manager()
			},
			want: apperrors.ErrMalformedPayload,
		},
		{
			name: "unknown ticket",
			prepare: func(t *testing.T, h *harness, ticket *models.Ticket) (string, models.Validator) {
				p, err := h.codec.Sign(qr.Claim{TicketID: "missing", TicketNumber: "TKT-X", CampaignID: ticket.CampaignID})
				require.NoError(t, err)
				return p, h.manager()
			},
			want: apperrors.ErrTicketNotFound,
		},
		{
			name: "claim does not match record",
			prepare: func(t *testing.T, h *harness, ticket *models.Ticket) (string, models.Validator) {
				p, err := h.codec.Sign(qr.Claim{TicketID: ticket.ID, TicketNumber: "TKT-FORGED", CampaignID: ticket.CampaignID})
				require.NoError(t, err)
				return p, h.manager()
			},
			want: apperrors.ErrTicketMismatch,
		},
		{
			name: "campaign paused",
			prepare: func(t *testing.T, h *harness, ticket *models.Ticket) (string, models.Validator) {
				dbtest.SetCampaignStatus(t, h.bun, h.fixture.Campaign.ID, models.CampaignStatusPaused)
				return h.payload(t, ticket), h.manager()
			},
			want: apperrors.ErrCampaignNotActive,
		},
		{
			name: "ticket cancelled",
			prepare: func(t *testing.T, h *harness, ticket *models.Ticket) (string, models.Validator) {
				dbtest.SetTicketStatus(t, h.bun, ticket.ID, models.TicketStatusCancelled)
				return h.payload(t, ticket), h.manager()
			},
			want: apperrors.ErrTicketCancelled,
		},
		{
			name: "ticket expired",
			prepare: func(t *testing.T, h *harness, ticket *models.Ticket) (string, models.Validator) {
				dbtest.SetTicketStatus(t, h.bun, ticket.ID, models.TicketStatusExpired)
				return h.payload(t, ticket), h.manager()
			},
			want: apperrors.ErrTicketExpired,
		},
		{
			name: "seller does not own campaign",
			prepare: func(t *testing.T, h *harness, ticket *models.Ticket) (string, models.Validator) {
				return h.payload(t, ticket), models.Validator{UserID: "another-seller"}
			},
			want: apperrors.ErrNotCampaignOwner,
		},
		{
			name: "manager inactive",
			prepare: func(t *testing.T, h *harness, ticket *models.Ticket) (string, models.Validator) {
				m := dbtest.AddManager(t, h.bun, h.fixture.SellerID, false)
				return h.payload(t, ticket), models.Validator{ManagerID: m.ID}
			},
			want: apperrors.ErrManagerInactive,
		},
		{
			name: "manager of another seller",
			prepare: func(t *testing.T, h *harness, ticket *models.Ticket) (string, models.Validator) {
				m := dbtest.AddManager(t, h.bun, "other-seller", true)
				return h.payload(t, ticket), models.Validator{ManagerID: m.ID}
			},
			want: apperrors.ErrManagerNotAssignedToSeller,
		},
		{
			name: "unknown manager",
			prepare: func(t *testing.T, h *harness, ticket *models.Ticket) (string, models.Validator) {
				return h.payload(t, ticket), models.Validator{ManagerID: "ghost"}
			},
			want: apperrors.ErrManagerNotFound,
		},
		{
			name: "no validator",
			prepare: func(t *testing.T, h *harness, ticket *models.Ticket) (string, models.Validator) {
				return h.payload(t, ticket), models.Validator{}
			},
			want: apperrors.ErrMissingValidator,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, false, 0)
			ticket := h.fixture.AddTicket(t, h.bun, 0)
			payload, validator := tc.prepare(t, h, ticket)

			result, err := h.svc.ValidateScan(context.Background(), payload, validator, models.ScanContext{})
			assert.Nil(t, result)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)

			stored := dbtest.Ticket(t, h.bun, ticket.ID)
			assert.Equal(t, 0, stored.ScanCount)
			assert.Nil(t, stored.UsedAt)
			assert.Empty(t, h.ledger(t, ticket.ID))
		})
	}
}

func TestSellerValidatesOwnCampaign(t *testing.T) {
	h := newHarness(t, false, 0)
	ticket := h.fixture.AddTicket(t, h.bun, 0)

	_, err := h.svc.ValidateScan(context.Background(), h.payload(t, ticket), models.Validator{UserID: h.fixture.SellerID}, models.ScanContext{})
	require.NoError(t, err)

	rows := h.ledger(t, ticket.ID)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].ValidatedBy)
	require.NotNil(t, rows[0].ValidatedByUser)
	assert.Equal(t, h.fixture.SellerID, *rows[0].ValidatedByUser)
}

func TestConcurrentScansAdmitExactlyOnce(t *testing.T) {
	h := newHarness(t, false, 0)
	ticket := h.fixture.AddTicket(t, h.bun, 0)
	payload := h.payload(t, ticket)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		admitted  int
		exhausted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.ValidateScan(context.Background(), payload, h.manager(), models.ScanContext{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, apperrors.ErrScanLimitReached):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, workers-1, exhausted)
	assert.Equal(t, 1, dbtest.Ticket(t, h.bun, ticket.ID).ScanCount)

	assert.Equal(t, 1, dbtest.CountValidScans(t, h.bun, ticket.ID))
}

func TestValidateScanPublishesAfterCommit(t *testing.T) {
	pub := new(MockEventPublisher)
	feed := &recordingFeed{}
	h := newHarness(t, false, 0, tickets.WithPublisher(pub), tickets.WithFeed(feed))
	ticket := h.fixture.AddTicket(t, h.bun, 0)

	pub.On("PublishValidation", mock.Anything, mock.MatchedBy(func(evt models.ValidationEvent) bool {
		return evt.TicketID == ticket.ID && evt.IsValid && evt.ScanNumber == 1
	})).Return(errors.New("broker down")).Once()

	result, err := h.svc.ValidateScan(context.Background(), h.payload(t, ticket), h.manager(), models.ScanContext{})
	require.NoError(t, err)
	pub.AssertExpectations(t)

	require.Len(t, feed.events, 1)
	assert.Equal(t, result.ValidationID, feed.events[0].ValidationID)
	assert.Equal(t, models.TicketStatusUsed, feed.events[0].Status)
}

func TestRejectedScanPublishesNothing(t *testing.T) {
	pub := new(MockEventPublisher)
	h := newHarness(t, false, 0, tickets.WithPublisher(pub))
	ticket := h.fixture.AddTicket(t, h.bun, 0)
	dbtest.SetTicketStatus(t, h.bun, ticket.ID, models.TicketStatusCancelled)

	_, err := h.svc.ValidateScan(context.Background(), h.payload(t, ticket), h.manager(), models.ScanContext{})
	assert.Error(t, err)
	pub.AssertNotCalled(t, "PublishValidation", mock.Anything, mock.Anything)
}

func TestAdvisorSignalIsInformational(t *testing.T) {
	flagged := &models.ScanSignal{Flagged: true, Reason: "4 scans in 30s", RecentScans: 4}
	h := newHarness(t, true, 5, tickets.WithAdvisor(stubAdvisor{signal: flagged}))
	ticket := h.fixture.AddTicket(t, h.bun, 0)

	result, err := h.svc.ValidateScan(context.Background(), h.payload(t, ticket), h.manager(), models.ScanContext{})
	require.NoError(t, err)
	require.NotNil(t, result.Advisory)
	assert.Equal(t, int64(4), result.Advisory.RecentScans)

	broken := newHarness(t, false, 0, tickets.WithAdvisor(stubAdvisor{err: errors.New("redis down")}))
	other := broken.fixture.AddTicket(t, broken.bun, 0)
	result, err = broken.svc.ValidateScan(context.Background(), broken.payload(t, other), broken.manager(), models.ScanContext{})
	require.NoError(t, err)
	assert.Nil(t, result.Advisory)
}

func TestValidateManual(t *testing.T) {
	h := newHarness(t, false, 0)
	ticket := h.fixture.AddTicket(t, h.bun, 0)
	ctx := context.Background()

	result, err := h.svc.ValidateManual(ctx, ticket.TicketNumber, h.manager(), models.ScanContext{DeviceID: "desk"})
	require.NoError(t, err)
	assert.Equal(t, models.MethodManual, result.Method)

	_, err = h.svc.ValidateManual(ctx, "TKT-UNKNOWN", h.manager(), models.ScanContext{})
	assert.True(t, errors.Is(err, apperrors.ErrTicketNotFound))

	_, err = h.svc.ValidateManual(ctx, "", h.manager(), models.ScanContext{})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRequest))
}

type contendedStore struct {
	*db.DB
}

func (contendedStore) LockTicketForScan(context.Context, string) (*models.TicketScanTarget, error) {
	return nil, apperrors.Wrap(apperrors.ErrLockTimeout, errors.New("canceling statement due to lock timeout"))
}

func TestLockTimeoutIsTransient(t *testing.T) {
	h := newHarness(t, false, 0)
	ticket := h.fixture.AddTicket(t, h.bun, 0)
	svc := tickets.NewValidationService(contendedStore{h.store}, h.codec, authz.NewResolver(), nil)

	_, err := svc.ValidateScan(context.Background(), h.payload(t, ticket), h.manager(), models.ScanContext{})
	assert.True(t, errors.Is(err, apperrors.ErrLockTimeout))
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, 0, dbtest.Ticket(t, h.bun, ticket.ID).ScanCount)
}

func TestValidationHistory(t *testing.T) {
	h := newHarness(t, true, 2)
	ticket := h.fixture.AddTicket(t, h.bun, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.svc.ValidateScan(ctx, h.payload(t, ticket), h.manager(), models.ScanContext{})
		require.NoError(t, err)
	}

	rows, err := h.svc.ValidationHistory(ctx, ticket.ID, h.manager())
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = h.svc.ValidationHistory(ctx, ticket.ID, models.Validator{UserID: "stranger"})
	assert.True(t, errors.Is(err, apperrors.ErrNotCampaignOwner))
}

func TestAuthorizeCampaign(t *testing.T) {
	h := newHarness(t, false, 0)
	ctx := context.Background()

	require.NoError(t, h.svc.AuthorizeCampaign(ctx, h.fixture.Campaign.ID, h.manager()))
	require.NoError(t, h.svc.AuthorizeCampaign(ctx, h.fixture.Campaign.ID, models.Validator{UserID: h.fixture.SellerID}))

	err := h.svc.AuthorizeCampaign(ctx, h.fixture.Campaign.ID, models.Validator{UserID: "stranger"})
	assert.True(t, errors.Is(err, apperrors.ErrNotCampaignOwner))

	err = h.svc.AuthorizeCampaign(ctx, "no-such-campaign", h.manager())
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRequest))
}
