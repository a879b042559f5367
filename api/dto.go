/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts cross the wire as decimal strings ("170.00"), never floats.
  Handlers parse and validate them before touching domain types.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/uma/settlement-engine/ledger"
	"github.com/uma/settlement-engine/ride"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AccountDTO represents a wallet account in API responses.
type AccountDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Balance     string `json:"balance"`
	Currency    string `json:"currency"`
	StrikeCount int    `json:"strike_count"`
	Banned      bool   `json:"banned"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// CreateAccountRequest is the request to create an account.
type CreateAccountRequest struct {
	ID   string `json:"id,omitempty"`
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// TopUpRequest credits a wallet.
type TopUpRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

// BalanceDTO is the wallet balance response.
type BalanceDTO struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
	Currency  string `json:"currency"`
	AsOf      string `json:"as_of"`
}

// EntryDTO represents one ledger entry in the audit trail.
type EntryDTO struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	AccountID     string `json:"account_id"`
	Amount        string `json:"amount"`
	BalanceBefore string `json:"balance_before"`
	BalanceAfter  string `json:"balance_after"`
	RideID        string `json:"ride_id,omitempty"`
	Description   string `json:"description,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// OfferDTO represents a merchant offer.
type OfferDTO struct {
	ID              string `json:"id"`
	MerchantID      string `json:"merchant_id"`
	Title           string `json:"title"`
	DiscountPercent int    `json:"discount_percent"`
	Reimbursement   string `json:"reimbursement"`
	VisitFee        string `json:"visit_fee"`
	BonusEnabled    bool   `json:"bonus_enabled"`
	Bonus           string `json:"bonus,omitempty"`
	Active          bool   `json:"active"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// CreateOfferRequest is the request to create an offer.
type CreateOfferRequest struct {
	MerchantID      string `json:"merchant_id"`
	Title           string `json:"title"`
	DiscountPercent int    `json:"discount_percent"`
	Reimbursement   string `json:"reimbursement"`
	VisitFee        string `json:"visit_fee,omitempty"`
	BonusEnabled    bool   `json:"bonus_enabled,omitempty"`
	Bonus           string `json:"bonus,omitempty"`
}

// UpdateOfferRequest toggles or edits an offer. Nil fields are left as-is.
type UpdateOfferRequest struct {
	Active *bool `json:"active,omitempty"`
}

// BookRideRequest is the request to book a ride against an offer.
type BookRideRequest struct {
	RiderID string `json:"rider_id"`
	OfferID string `json:"offer_id"`
}

// RideDTO represents one redemption attempt.
type RideDTO struct {
	ID              string  `json:"id"`
	RiderID         string  `json:"rider_id"`
	MerchantID      string  `json:"merchant_id"`
	OfferID         string  `json:"offer_id"`
	Code            string  `json:"code"`
	Status          string  `json:"status"`
	DiscountPercent int     `json:"discount_percent"`
	Reimbursement   string  `json:"reimbursement"`
	CreatedAt       string  `json:"created_at"`
	CompletedAt     *string `json:"completed_at,omitempty"`
}

// HandshakeRequest carries one scanned code.
type HandshakeRequest struct {
	Code string `json:"code"`
}

// HandshakeResponse tells the merchant terminal what to do.
type HandshakeResponse struct {
	Success         bool   `json:"success"`
	ApplyDiscount   int    `json:"apply_discount"`
	Message         string `json:"message"`
	CashbackAmount  string `json:"cashback_amount,omitempty"`
	NewCustomer     bool   `json:"new_customer,omitempty"`
	RideID          string `json:"ride_id,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAccountDTO(a *ledger.Account) AccountDTO {
	return AccountDTO{
		ID:          string(a.ID),
		Kind:        string(a.Kind),
		Name:        a.Name,
		Balance:     a.Balance.String(),
		Currency:    a.Balance.Currency,
		StrikeCount: a.StrikeCount,
		Banned:      a.StrikeCount >= ledger.MaxStrikes,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTO(e ledger.LedgerEntry) EntryDTO {
	return EntryDTO{
		ID:            string(e.ID),
		Type:          string(e.Type),
		AccountID:     string(e.AccountID),
		Amount:        e.Amount.String(),
		BalanceBefore: e.BalanceBefore.String(),
		BalanceAfter:  e.BalanceAfter.String(),
		RideID:        e.RideID,
		Description:   e.Description,
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []ledger.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toOfferDTO(o *ride.Offer) OfferDTO {
	return OfferDTO{
		ID:              string(o.ID),
		MerchantID:      string(o.MerchantID),
		Title:           o.Title,
		DiscountPercent: o.DiscountPercent,
		Reimbursement:   o.Reimbursement.String(),
		VisitFee:        o.VisitFee.String(),
		BonusEnabled:    o.BonusEnabled,
		Bonus:           o.Bonus.String(),
		Active:          o.Active,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
	}
}

func toRideDTO(r *ride.Ride) RideDTO {
	dto := RideDTO{
		ID:              string(r.ID),
		RiderID:         string(r.RiderID),
		MerchantID:      string(r.MerchantID),
		OfferID:         string(r.Offer.OfferID),
		Code:            r.Code,
		Status:          string(r.State),
		DiscountPercent: r.Offer.DiscountPercent,
		Reimbursement:   r.Offer.Reimbursement.String(),
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		s := r.CompletedAt.Format(time.RFC3339)
		dto.CompletedAt = &s
	}
	return dto
}
