package campaigns

import (
	"testing"

	"github.com/bulkwave/bulkwave/internal/config"
	"github.com/stretchr/testify/assert"
)

func phoneConfig() *config.PhoneConfig {
	return &config.PhoneConfig{CountryPrefix: "91", TotalDigits: 12}
}

func TestValidatePhone_Valid(t *testing.T) {
	phone, reason := ValidatePhone("919876543210", phoneConfig())
	assert.Empty(t, reason)
	assert.Equal(t, "919876543210", phone)
}

func TestValidatePhone_StripsNonDigits(t *testing.T) {
	phone, reason := ValidatePhone("+91 98765-43210", phoneConfig())
	assert.Empty(t, reason)
	assert.Equal(t, "919876543210", phone)
}

func TestValidatePhone_InvalidRows(t *testing.T) {
	cases := []string{
		"9198765",        // too short
		"12345678901234", // too long
		"19876543210",    // wrong length, wrong prefix
		"129876543210",   // right length, wrong prefix
		"",
	}

	reasons := make(map[string]bool)
	for _, raw := range cases {
		_, reason := ValidatePhone(raw, phoneConfig())
		assert.NotEmpty(t, reason, "expected %q to be invalid", raw)
		reasons[reason] = true
	}

	// Each failure mode yields a distinct reason string
	assert.GreaterOrEqual(t, len(reasons), 4)
}

func TestValidatePhone_WrongPrefix(t *testing.T) {
	_, reason := ValidatePhone("129876543210", phoneConfig())
	assert.Contains(t, reason, "country prefix 91")
}
