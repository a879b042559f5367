/*
code.go - One-time redemption codes

PURPOSE:
  Issues the code a rider presents as a QR and validates scanned input.
  A code must be unguessable from the ride id alone, so it carries its
  own random component (a v4 UUID) rather than deriving from the id.

FORMAT:
  UMA-RIDE-<uuid>, e.g. UMA-RIDE-8f14e45f-ceea-4e5b-8d2f-0c6fbf4b1a3e

  The prefix lets the merchant app reject foreign QR payloads before
  hitting the backend. Rendering the code as an actual QR image is the
  presentation layer's job.
*/
package ride

import (
	"strings"

	"github.com/google/uuid"
)

const codePrefix = "UMA-RIDE-"

// Issuer generates and sanity-checks one-time codes. Uniqueness among
// stored rides is enforced by the store's unique index on code; the
// random component makes collisions vanishingly unlikely to begin with.
type Issuer struct{}

func NewIssuer() *Issuer { return &Issuer{} }

// Issue produces a fresh code. The ride id is not embedded: the binding
// is recorded on the ride row, and the code itself stays unpredictable.
func (i *Issuer) Issue(_ ID) string {
	return codePrefix + uuid.NewString()
}

// Validate checks the code's shape. It does NOT prove the code exists;
// that is LookupByCode's job. Returns false for foreign payloads.
func (i *Issuer) Validate(code string) bool {
	if !strings.HasPrefix(code, codePrefix) {
		return false
	}
	_, err := uuid.Parse(strings.TrimPrefix(code, codePrefix))
	return err == nil
}
