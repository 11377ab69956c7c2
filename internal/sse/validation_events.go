package sse

import (
	"context"
	"sync"

	"ms-validation/internal/models"
)

const clientBuffer = 16

// ValidationEventEmitter fans committed validation events out to SSE clients
// watching a campaign's gates.
type ValidationEventEmitter struct {
	// key: campaignID, value: client channels
	campaignClients map[string][]chan models.ValidationEvent
	mu              sync.RWMutex
}

func NewValidationEventEmitter() *ValidationEventEmitter {
	return &ValidationEventEmitter{
		campaignClients: make(map[string][]chan models.ValidationEvent),
	}
}

// SubscribeToCampaign registers a client until ctx is done. The returned
// channel is closed on unsubscribe.
func (e *ValidationEventEmitter) SubscribeToCampaign(ctx context.Context, campaignID string) <-chan models.ValidationEvent {
	clientChan := make(chan models.ValidationEvent, clientBuffer)

	e.mu.Lock()
	e.campaignClients[campaignID] = append(e.campaignClients[campaignID], clientChan)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.removeCampaignClient(campaignID, clientChan)
	}()

	return clientChan
}

// EmitValidationEvent broadcasts evt to every client of its campaign.
func (e *ValidationEventEmitter) EmitValidationEvent(evt models.ValidationEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, clientChan := range e.campaignClients[evt.CampaignID] {
		// slow clients miss events rather than stall the scan path
		select {
		case clientChan <- evt:
		default:
		}
	}
}

func (e *ValidationEventEmitter) removeCampaignClient(campaignID string, clientChan chan models.ValidationEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.campaignClients[campaignID]
	for i, ch := range clients {
		if ch == clientChan {
			e.campaignClients[campaignID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.campaignClients[campaignID]) == 0 {
		delete(e.campaignClients, campaignID)
	}
}

// ClientCount returns the number of clients currently watching a campaign.
func (e *ValidationEventEmitter) ClientCount(campaignID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.campaignClients[campaignID])
}
