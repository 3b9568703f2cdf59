package repository

import (
	"encoding/base64"
	"encoding/json"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Page is one slice of a partition scan. NextToken is opaque to
// callers and empty on the last page.
type Page[T any] struct {
	Items     []T
	NextToken string
}

func normalizeLimit(limit int) int {
	if limit < 1 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

type pageToken struct {
	SK string `json:"sk"`
}

func encodeToken(sk string) string {
	if sk == "" {
		return ""
	}
	raw, _ := json.Marshal(pageToken{SK: sk})
	return base64.StdEncoding.EncodeToString(raw)
}

// decodeToken recovers the exclusive-start sort key. A token that does
// not decode restarts the scan from the beginning rather than failing
// the request.
func decodeToken(token string) string {
	if token == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return ""
	}
	var t pageToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return ""
	}
	return t.SK
}
