package qr

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"

	"ms-validation/internal/apperrors"
)

// Claim is the authenticated content of a ticket QR code.
type Claim struct {
	TicketID     string `json:"tid"`
	TicketNumber string `json:"tn"`
	CampaignID   string `json:"cid"`
	SecurityHash string `json:"h"`
}

// Codec signs and verifies QR payloads with HMAC-SHA256. It holds no mutable
// state and is safe for concurrent use.
type Codec struct {
	secret []byte
}

func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("qr codec: secret key is required")
	}
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Codec{secret: hashed[:]}, nil
}

// hash MACs the claim fields as a JSON array so field boundaries are part of
// the signed bytes.
func (c *Codec) hash(ticketID, ticketNumber, campaignID string) string {
	fields, _ := json.Marshal([]string{ticketID, ticketNumber, campaignID})
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(fields)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign fills in the security hash and returns the payload printed on the ticket.
func (c *Codec) Sign(claim Claim) (string, error) {
	if claim.TicketID == "" || claim.TicketNumber == "" || claim.CampaignID == "" {
		return "", errors.New("qr codec: ticket id, number and campaign id are required")
	}
	claim.SecurityHash = c.hash(claim.TicketID, claim.TicketNumber, claim.CampaignID)

	data, err := json.Marshal(claim)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses and authenticates a scanned payload. Both the base64url form
// produced by Sign and the raw JSON form are accepted.
func (c *Codec) Decode(payload string) (*Claim, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, apperrors.WithMessage(apperrors.ErrMalformedPayload, "QR payload is empty")
	}

	var raw []byte
	if strings.HasPrefix(payload, "{") {
		raw = []byte(payload)
	} else {
		decoded, err := decodeBase64(payload)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, err)
		}
		raw = decoded
	}

	var claim Claim
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&claim); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, err)
	}

	if claim.TicketID == "" || claim.TicketNumber == "" || claim.CampaignID == "" || claim.SecurityHash == "" {
		return nil, apperrors.WithMessage(apperrors.ErrMalformedPayload, "QR payload is missing required fields")
	}

	expected := c.hash(claim.TicketID, claim.TicketNumber, claim.CampaignID)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(claim.SecurityHash))) {
		return nil, apperrors.ErrInvalidSignature
	}

	return &claim, nil
}

// RenderPNG encodes the signed payload for claim as a QR image.
func (c *Codec) RenderPNG(claim Claim, size int) ([]byte, error) {
	payload, err := c.Sign(claim)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR: %w", err)
	}
	return png, nil
}

func decodeBase64(s string) ([]byte, error) {
	if data, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
