package trading

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Sign computes the request signature the exchange verifies: hex-encoded
// HMAC-SHA256 over "{timestamp}|{METHOD}|{path}|{body}". The method is
// uppercased so callers cannot produce two signatures for one request.
func Sign(secret, timestamp, method, path, body string) string {
	payload := fmt.Sprintf("%s|%s|%s|%s", timestamp, strings.ToUpper(method), path, body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
