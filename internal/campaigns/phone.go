package campaigns

import (
	"fmt"
	"strings"

	"github.com/bulkwave/bulkwave/internal/config"
)

// ValidatePhone normalizes and validates a recipient phone number. Non-digit
// characters are stripped; the result must have exactly the configured digit
// count and begin with the configured country prefix. Returns the normalized
// phone and an empty reason for valid input, or the reason it was rejected.
func ValidatePhone(raw string, cfg *config.PhoneConfig) (string, string) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	phone := digits.String()

	if phone == "" {
		return "", "phone number is empty"
	}
	if len(phone) < cfg.TotalDigits {
		return "", fmt.Sprintf("phone number too short: expected %d digits, got %d", cfg.TotalDigits, len(phone))
	}
	if len(phone) > cfg.TotalDigits {
		return "", fmt.Sprintf("phone number too long: expected %d digits, got %d", cfg.TotalDigits, len(phone))
	}
	if !strings.HasPrefix(phone, cfg.CountryPrefix) {
		return "", fmt.Sprintf("phone number must start with country prefix %s", cfg.CountryPrefix)
	}
	return phone, ""
}
