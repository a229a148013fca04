package hyperliquid

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Signer produces the authentication headers for signed REST requests.
// The signature covers timestamp + method + path + body with the API key
// as the HMAC-SHA256 secret.
type Signer struct {
	account string
	apiKey  string

	now func() time.Time
}

// NewSigner creates a signer for the given account address.
func NewSigner(account, apiKey string) *Signer {
	return &Signer{account: account, apiKey: apiKey, now: time.Now}
}

// GenerateHeaders returns the headers for one request. A new timestamp is
// drawn per call, so signatures are single-use.
func (s *Signer) GenerateHeaders(method, path, body string) map[string]string {
	timestamp := fmt.Sprintf("%d", s.now().UnixMilli())
	payload := timestamp + method + path + body

	return map[string]string{
		"X-Account":    s.account,
		"X-Timestamp":  timestamp,
		"X-Signature":  computeHmacSha256(payload, s.apiKey),
		"Content-Type": "application/json",
	}
}

func computeHmacSha256(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
