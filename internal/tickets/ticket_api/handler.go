package ticket_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"ms-validation/internal/apperrors"
	"ms-validation/internal/auth"
	"ms-validation/internal/logger"
	"ms-validation/internal/models"
	"ms-validation/internal/utils"
)

type ValidationAPI interface {
	ValidateScan(ctx context.Context, payload string, v models.Validator, scan models.ScanContext) (*models.ValidationResult, error)
	ValidateManual(ctx context.Context, ticketNumber string, v models.Validator, scan models.ScanContext) (*models.ValidationResult, error)
	ReconcileOfflineBatch(ctx context.Context, records []models.OfflineScanRecord, managerID string) (*models.ReconciliationSummary, error)
	ValidationHistory(ctx context.Context, ticketID string, v models.Validator) ([]models.TicketValidation, error)
	AuthorizeCampaign(ctx context.Context, campaignID string, v models.Validator) error
}

type Subscriber interface {
	SubscribeToCampaign(ctx context.Context, campaignID string) <-chan models.ValidationEvent
}

type Handler struct {
	Service  ValidationAPI
	Feed     Subscriber
	Validate *validator.Validate
	Logger   *logger.Logger
}

func NewHandler(service ValidationAPI, feed Subscriber, log *logger.Logger) *Handler {
	return &Handler{
		Service:  service,
		Feed:     feed,
		Validate: validator.New(),
		Logger:   log,
	}
}

type ScanRequest struct {
	QRPayload string         `json:"qr_payload" validate:"required,max=4096"`
	DeviceID  string         `json:"device_id,omitempty" validate:"max=128"`
	Location  string         `json:"location,omitempty" validate:"max=256"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type ManualRequest struct {
	TicketNumber string         `json:"ticket_number" validate:"required,max=64"`
	DeviceID     string         `json:"device_id,omitempty" validate:"max=128"`
	Location     string         `json:"location,omitempty" validate:"max=256"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RegisterRoutes mounts the validation endpoints; callers wrap r with auth.Middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/validation", func(r chi.Router) {
		r.Post("/scan", h.ScanTicket)
		r.Post("/manual", h.ManualValidate)
		r.Post("/offline-sync", h.OfflineSync)
		r.Get("/tickets/{ticketId}/history", h.TicketHistory)
		r.Get("/campaigns/{campaignId}/stream", h.CampaignStream)
	})
}

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.WithMessage(apperrors.ErrInvalidRequest, "invalid request body: %v", err)
	}
	if err := h.Validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperrors.WithMessage(apperrors.ErrInvalidRequest, "field %s failed %s", verrs[0].Field(), verrs[0].Tag())
		}
		return apperrors.Wrap(apperrors.ErrInvalidRequest, err)
	}
	return nil
}

// ScanTicket handles POST /api/validation/scan
// Expected body: {"qr_payload": "...", "device_id": "...", "location": "..."}
func (h *Handler) ScanTicket(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := h.decode(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	scan := models.ScanContext{DeviceID: req.DeviceID, Location: req.Location, Metadata: req.Metadata}
	result, err := h.Service.ValidateScan(r.Context(), req.QRPayload, auth.ValidatorFrom(r.Context()), scan)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket validated", result))
}

// ManualValidate handles POST /api/validation/manual
func (h *Handler) ManualValidate(w http.ResponseWriter, r *http.Request) {
	var req ManualRequest
	if err := h.decode(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	scan := models.ScanContext{DeviceID: req.DeviceID, Location: req.Location, Metadata: req.Metadata}
	result, err := h.Service.ValidateManual(r.Context(), req.TicketNumber, auth.ValidatorFrom(r.Context()), scan)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket validated", result))
}

// OfflineSync handles POST /api/validation/offline-sync. Only managers upload
// offline batches; the manager is taken from the token.
func (h *Handler) OfflineSync(w http.ResponseWriter, r *http.Request) {
	v := auth.ValidatorFrom(r.Context())
	if !v.IsManager() {
		utils.WriteError(w, apperrors.WithMessage(apperrors.ErrMissingValidator, "offline sync requires a manager identity"))
		return
	}

	var batch models.OfflineBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		utils.WriteError(w, apperrors.WithMessage(apperrors.ErrInvalidRequest, "invalid request body: %v", err))
		return
	}
	if batch.ManagerID != "" && batch.ManagerID != v.ManagerID {
		utils.WriteError(w, apperrors.WithMessage(apperrors.ErrInvalidRequest, "manager_id does not match the authenticated manager"))
		return
	}
	batch.ManagerID = v.ManagerID
	if err := h.Validate.Struct(batch); err != nil {
		utils.WriteError(w, apperrors.Wrap(apperrors.ErrInvalidRequest, err))
		return
	}
	for i := range batch.Records {
		if batch.Records[i].DeviceID == "" {
			batch.Records[i].DeviceID = batch.DeviceID
		}
	}

	summary, err := h.Service.ReconcileOfflineBatch(r.Context(), batch.Records, batch.ManagerID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(
		fmt.Sprintf("Reconciled %d records", len(batch.Records)), summary))
}

// TicketHistory handles GET /api/validation/tickets/{ticketId}/history
func (h *Handler) TicketHistory(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	rows, err := h.Service.ValidationHistory(r.Context(), ticketID, auth.ValidatorFrom(r.Context()))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Validation history", rows))
}
