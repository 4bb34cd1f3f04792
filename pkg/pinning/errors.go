package pinning

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound          = errors.New("pinning: not found")
	ErrInvalidCID        = errors.New("pinning: invalid cid")
	ErrMissingCredential = errors.New("pinning: missing API credential")
	ErrTooLarge          = errors.New("pinning: content exceeds size limit")
)

// HTTPError represents a non-2xx response from the pinning service
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPError) Error() string {
	if len(e.Body) > 0 {
		// Pinata reports {"error":{"reason":..,"details":..}} or {"error":".."}
		var nested struct {
			Error struct {
				Reason  string `json:"reason"`
				Details string `json:"details"`
			} `json:"error"`
		}
		if err := json.Unmarshal(e.Body, &nested); err == nil && nested.Error.Reason != "" {
			if nested.Error.Details != "" {
				return fmt.Sprintf("HTTP %d: %s - %s", e.StatusCode, nested.Error.Reason, nested.Error.Details)
			}
			return fmt.Sprintf("HTTP %d: %s", e.StatusCode, nested.Error.Reason)
		}
		var flat struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if err := json.Unmarshal(e.Body, &flat); err == nil && flat.Error != "" {
			if flat.Details != "" {
				return fmt.Sprintf("HTTP %d: %s - %s", e.StatusCode, flat.Error, flat.Details)
			}
			return fmt.Sprintf("HTTP %d: %s", e.StatusCode, flat.Error)
		}
		return fmt.Sprintf("HTTP %d: %s - %s", e.StatusCode, e.Status, string(e.Body))
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// IsUnauthorized returns true if the credential was refused
func (e *HTTPError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
