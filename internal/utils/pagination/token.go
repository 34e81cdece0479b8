package pagination

import (
	"encoding/base64"
	"fmt"

	"cloud.google.com/go/civil"
)

// EncodeDateToken creates an opaque token pointing at the day a listing resumes from.
func EncodeDateToken(date civil.Date) string {
	return base64.RawURLEncoding.EncodeToString([]byte(date.String()))
}

// DecodeDateToken parses a token created by EncodeDateToken.
func DecodeDateToken(token string) (civil.Date, error) {
	decodedBytes, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid pagination token format (base64 decode): %w", err)
	}

	date, err := civil.ParseDate(string(decodedBytes))
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid pagination token format (date parse): %w", err)
	}
	return date, nil
}
