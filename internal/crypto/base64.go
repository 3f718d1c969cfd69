package crypto

import (
	"encoding/base64"
	"fmt"
)

// encodeBase64 encodes salt/iv/ciphertext segments for the ENC:v1 token format.
func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// decodeBase64 reverses encodeBase64 when parsing a token's segments.
func decodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 segment: %w", err)
	}
	return data, nil
}
