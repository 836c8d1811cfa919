package paylink

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// qrPayload is the JSON document embedded in the QR image so a scanning app
// can render the request without resolving the URL first.
type qrPayload struct {
	LinkCode    string    `json:"link_code"`
	URL         string    `json:"url"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description,omitempty"`
	Recipient   string    `json:"recipient,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// qrImage renders the link payload as a base64-encoded PNG QR code.
func qrImage(link PaymentLink, url string) (string, error) {
	payload, err := json.Marshal(qrPayload{
		LinkCode:    link.LinkCode,
		URL:         url,
		Amount:      link.Amount,
		Currency:    link.Currency,
		Description: link.Description,
		Recipient:   link.RecipientLabel,
		ExpiresAt:   link.ExpiresAt,
	})
	if err != nil {
		return "", fmt.Errorf("encode qr payload: %w", err)
	}

	png, err := qrcode.Encode(string(payload), qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
