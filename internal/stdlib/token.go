package stdlib

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// TokenLib decodes JWT-shaped tokens without verifying signatures.
// Decoding is a structural operation only; callers must never treat a
// decoded payload as authenticated.
type TokenLib struct{}

// Decode splits a three-part dot-delimited token and base64url-decodes and
// JSON-parses the header and payload sections. Any structural failure
// returns nil rather than an error: malformed tokens are an expected input.
func (t *TokenLib) Decode(token string) any {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}
	header := decodeSegment(parts[0])
	if header == nil {
		return nil
	}
	payload := decodeSegment(parts[1])
	if payload == nil {
		return nil
	}
	return map[string]any{
		"header":  header,
		"payload": payload,
	}
}

// IsExpired compares the numeric `exp` claim (seconds since epoch) against
// the current time. Tokens without an exp claim never expire. Undecodable
// tokens are reported as expired.
func (t *TokenLib) IsExpired(token string) bool {
	decoded, ok := t.Decode(token).(map[string]any)
	if !ok {
		return true
	}
	payload, ok := decoded["payload"].(map[string]any)
	if !ok {
		return true
	}
	exp, ok := payload["exp"]
	if !ok {
		return false
	}
	var expSec float64
	switch n := exp.(type) {
	case float64:
		expSec = n
	case int64:
		expSec = float64(n)
	default:
		return true
	}
	return float64(time.Now().Unix()) >= expSec
}

func decodeSegment(seg string) map[string]any {
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		// Tolerate padded variants.
		raw, err = base64.URLEncoding.DecodeString(seg)
		if err != nil {
			return nil
		}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
