package ticket_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-validation/internal/auth"
	"ms-validation/internal/utils"
)

// CampaignStream streams committed validations of a campaign as Server-Sent Events.
func (h *Handler) CampaignStream(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignId")
	if err := h.Service.AuthorizeCampaign(r.Context(), campaignID, auth.ValidatorFrom(r.Context())); err != nil {
		h.Logger.Warn("SSE", fmt.Sprintf("campaign access denied for %s: %v", campaignID, err))
		utils.WriteError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	events := h.Feed.SubscribeToCampaign(ctx, campaignID)

	connected, _ := json.Marshal(map[string]string{"status": "connected", "campaignId": campaignID})
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("client connected to validation stream for campaign %s", campaignID))

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("failed to serialize validation event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: validation\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("client disconnected from campaign %s", campaignID))
			return
		}
	}
}
