package paylink

import (
	"bytes"
	"encoding/base64"
	"testing"
	"time"
)

func TestQRImageIsBase64PNG(t *testing.T) {
	link := PaymentLink{
		LinkCode:  "abc123",
		Amount:    2_500,
		Currency:  "GNF",
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	}

	encoded, err := qrImage(link, "https://pay.nimba.test/pay/abc123")
	if err != nil {
		t.Fatalf("render qr: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatal("payload is not a PNG image")
	}
}
