package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
)

// StatusFinished is the gateway status code for a fully confirmed payment.
const StatusFinished = 100

// Notification is the subset of a gateway callback the kiosk acts on.
// Custom carries the order id the invoice was created with.
type Notification struct {
	InvoiceID string `json:"invoice_id"`
	Custom    string `json:"custom"`
	Status    int    `json:"status"`
}

func ParseNotification(raw []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	if n.Custom == "" {
		return nil, errors.New("notification missing custom field")
	}
	return &n, nil
}

// Sign computes the hex HMAC-SHA256 of raw under secret.
func Sign(raw []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a notification signature against the exact bytes
// received on the wire. Verifying a re-serialized body is wrong: field order
// and whitespace are not preserved by JSON round-trips. An empty secret
// never verifies.
func VerifySignature(raw []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(raw, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
