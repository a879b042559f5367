package ride

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIssuer_IssueProducesValidCodes(t *testing.T) {
	i := NewIssuer()

	seen := make(map[string]bool)
	for n := 0; n < 100; n++ {
		code := i.Issue("ride-1")
		assert.True(t, strings.HasPrefix(code, "UMA-RIDE-"))
		assert.True(t, i.Validate(code))
		assert.False(t, seen[code], "codes must not repeat")
		seen[code] = true
	}
}

func TestIssuer_ValidateRejectsForeignPayloads(t *testing.T) {
	i := NewIssuer()

	for _, code := range []string{
		"",
		"UMA-RIDE-",
		"UMA-RIDE-not-a-uuid",
		"OTHER-8f14e45f-ceea-4e5b-8d2f-0c6fbf4b1a3e",
		"https://example.com/qr",
	} {
		assert.False(t, i.Validate(code), "should reject %q", code)
	}
}
