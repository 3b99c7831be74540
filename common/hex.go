package common

import (
	"encoding/base64"
	"strings"
)

// EncodeToString returns the base64 (standard encoding) representation of
// data, with any embedded newlines stripped, as required for a Hash on the
// wire.
func EncodeToString(data []byte) string {
	return strings.ReplaceAll(base64.StdEncoding.EncodeToString(data), "\n", "")
}

// DecodeFromString reverses EncodeToString.
func DecodeFromString(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
