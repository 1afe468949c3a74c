package stdlib

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

func newUUID() string {
	return uuid.NewString()
}

// EncodingLib provides base64 text and byte encoding.
// Go strings are byte sequences, so Encode/Decode are lossless for any
// input, including non-ASCII text (the UTF-8 bytes are what gets encoded).
type EncodingLib struct{}

// Encode base64-encodes the UTF-8 bytes of s.
func (e *EncodingLib) Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// Decode reverses Encode. Fails if the input is not valid base64.
func (e *EncodingLib) Decode(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid base64 input: %w", err)
	}
	return string(b), nil
}

// EncodeBytes base64-encodes an arbitrary byte array. Values must be
// integers in [0, 255]; the engine hands JS arrays over as []any.
func (e *EncodingLib) EncodeBytes(values []any) (string, error) {
	buf := make([]byte, len(values))
	for i, v := range values {
		n, ok := toInt(v)
		if !ok || n < 0 || n > 255 {
			return "", fmt.Errorf("byte at index %d is not an integer in [0, 255]", i)
		}
		buf[i] = byte(n)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// DecodeBytes reverses EncodeBytes, returning the raw byte values.
func (e *EncodingLib) DecodeBytes(s string) ([]int64, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 input: %w", err)
	}
	out := make([]int64, len(b))
	for i, v := range b {
		out[i] = int64(v)
	}
	return out, nil
}

// toInt normalizes the numeric types the engine may export.
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}
