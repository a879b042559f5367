/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the settlement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                     Create wallet account
    GET    /api/accounts/{id}                Get account details
    GET    /api/accounts/{id}/balance        Get wallet balance
    GET    /api/accounts/{id}/transactions   Ledger entry history
    POST   /api/accounts/{id}/topup          Credit a wallet

  Offers:
    GET    /api/offers                       List offers (?merchant_id=)
    POST   /api/offers                       Create offer
    GET    /api/offers/{id}                  Get offer
    PATCH  /api/offers/{id}                  Activate/deactivate offer

  Rides:
    POST   /api/rides/book                   Book a ride, get a code
    GET    /api/rides/{id}                   Get ride status

  Handshake:
    POST   /api/handshake/execute            Settle one scanned code

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (ledger, ride manager, processor)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 402: Insufficient merchant funds at settlement
  - 403: Rider banned (strike threshold reached)
  - 404: Resource not found, unknown/used code
  - 409: Conflict (offer inactive, ride already resolved)
  - 410: Code past its validity window
  - 423: Ride lock contended past the wait bound
  - 503: Store unavailable

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uma/settlement-engine/handshake"
	"github.com/uma/settlement-engine/ledger"
	"github.com/uma/settlement-engine/ride"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Storage is everything the handlers need from persistence.
type Storage interface {
	ledger.Store
	ride.Store
	handshake.TxRunner
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Storage
	Processor *handshake.Processor
	Currency  string

	rides  *ride.Manager
	ledger *ledger.Ledger
}

// NewHandler creates a new handler with the given store and processor.
func NewHandler(store Storage, proc *handshake.Processor, currency string) *Handler {
	if currency == "" {
		currency = ledger.DefaultCurrency
	}
	return &Handler{
		Store:     store,
		Processor: proc,
		Currency:  currency,
		rides:     ride.NewManager(store, store),
		ledger:    ledger.New(store),
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount creates a wallet account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	kind := ledger.AccountKind(req.Kind)
	if kind != ledger.KindRider && kind != ledger.KindMerchant {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid kind %q (want rider or merchant)", req.Kind), nil)
		return
	}

	id := ledger.AccountID(req.ID)
	if id == "" {
		id = ledger.AccountID("acct-" + uuid.NewString())
	}

	acct := ledger.Account{
		ID:      id,
		Kind:    kind,
		Name:    req.Name,
		Balance: ledger.ZeroMoney(h.Currency),
	}
	if err := h.Store.SaveAccount(r.Context(), acct); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create account", err)
		return
	}

	created, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(created))
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	acct, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "Account not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// GetBalance returns the wallet balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	balance, err := h.ledger.Balance(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "Account not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID: string(id),
		Balance:   balance.String(),
		Currency:  balance.Currency,
		AsOf:      time.Now().UTC().Format(time.RFC3339),
	})
}

// GetTransactions returns the account's ledger entries, oldest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetAccount(r.Context(), id); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "Account not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get account", err)
		return
	}

	entries, err := h.ledger.History(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// TopUp credits a wallet. The only way money enters the system.
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := h.parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	if !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Amount must be positive", nil)
		return
	}

	desc := req.Description
	if desc == "" {
		desc = "Wallet top-up"
	}

	entry, err := h.ledger.Adjust(r.Context(), id, amount, desc)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "Account not found", nil)
			return
		}
		writeError(w, ledgerStatus(err), "Failed to top up", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// =============================================================================
// OFFER HANDLERS
// =============================================================================

// defaultVisitFee applies when an offer omits the per-visit fee.
var defaultVisitFee = decimal.NewFromInt(20)

// CreateOffer creates a merchant offer.
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req CreateOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.DiscountPercent < 0 || req.DiscountPercent > 100 {
		writeError(w, http.StatusBadRequest, "discount_percent must be 0-100", nil)
		return
	}

	merchant, err := h.Store.GetAccount(r.Context(), ledger.AccountID(req.MerchantID))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "Merchant not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get merchant", err)
		return
	}
	if merchant.Kind != ledger.KindMerchant {
		writeError(w, http.StatusBadRequest, "Account is not a merchant", nil)
		return
	}

	reimbursement, err := h.parseAmount(req.Reimbursement)
	if err != nil || reimbursement.IsNegative() {
		writeError(w, http.StatusBadRequest, "reimbursement must be a non-negative amount", err)
		return
	}

	visitFee := ledger.Money{Value: defaultVisitFee, Currency: h.Currency}
	if req.VisitFee != "" {
		visitFee, err = h.parseAmount(req.VisitFee)
		if err != nil || visitFee.IsNegative() {
			writeError(w, http.StatusBadRequest, "visit_fee must be a non-negative amount", err)
			return
		}
	}

	bonus := ledger.ZeroMoney(h.Currency)
	if req.Bonus != "" {
		bonus, err = h.parseAmount(req.Bonus)
		if err != nil || bonus.IsNegative() {
			writeError(w, http.StatusBadRequest, "bonus must be a non-negative amount", err)
			return
		}
	}

	offer := ride.Offer{
		ID:              ride.OfferID("offer-" + uuid.NewString()),
		MerchantID:      merchant.ID,
		Title:           req.Title,
		DiscountPercent: req.DiscountPercent,
		Reimbursement:   reimbursement,
		VisitFee:        visitFee,
		BonusEnabled:    req.BonusEnabled,
		Bonus:           bonus,
		Active:          true,
	}
	if err := h.Store.SaveOffer(r.Context(), offer); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create offer", err)
		return
	}

	created, err := h.Store.GetOffer(r.Context(), offer.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load offer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOfferDTO(created))
}

// ListOffers returns offers, optionally filtered by merchant.
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchant_id")

	offers, err := h.Store.ListOffers(r.Context(), merchantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list offers", err)
		return
	}

	dtos := make([]OfferDTO, len(offers))
	for i := range offers {
		dtos[i] = toOfferDTO(&offers[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetOffer returns a single offer.
func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id := ride.OfferID(chi.URLParam(r, "id"))

	offer, err := h.Store.GetOffer(r.Context(), id)
	if err != nil {
		if errors.Is(err, ride.ErrOfferNotFound) {
			writeError(w, http.StatusNotFound, "Offer not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get offer", err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferDTO(offer))
}

// UpdateOffer activates or deactivates an offer.
func (h *Handler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	id := ride.OfferID(chi.URLParam(r, "id"))

	var req UpdateOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, "Nothing to update", nil)
		return
	}

	if err := h.Store.SetOfferActive(r.Context(), id, *req.Active); err != nil {
		if errors.Is(err, ride.ErrOfferNotFound) {
			writeError(w, http.StatusNotFound, "Offer not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update offer", err)
		return
	}

	offer, err := h.Store.GetOffer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load offer", err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferDTO(offer))
}

// =============================================================================
// RIDE HANDLERS
// =============================================================================

// BookRide creates a pending ride and returns its one-time code.
func (h *Handler) BookRide(w http.ResponseWriter, r *http.Request) {
	var req BookRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.RiderID == "" || req.OfferID == "" {
		writeError(w, http.StatusBadRequest, "rider_id and offer_id are required", nil)
		return
	}

	offer, err := h.Store.GetOffer(r.Context(), ride.OfferID(req.OfferID))
	if err != nil {
		if errors.Is(err, ride.ErrOfferNotFound) {
			writeError(w, http.StatusNotFound, "Offer not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get offer", err)
		return
	}

	booked, err := h.rides.CreatePendingRide(r.Context(), ledger.AccountID(req.RiderID), *offer)
	if err != nil {
		switch {
		case errors.Is(err, ride.ErrOfferInactive):
			writeError(w, http.StatusConflict, "Offer is not active", nil)
		case errors.Is(err, ride.ErrRiderBanned):
			writeError(w, http.StatusForbidden, "Rider is banned", nil)
		case errors.Is(err, ledger.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "Rider not found", nil)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to book ride", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, toRideDTO(booked))
}

// GetRide returns a single ride.
func (h *Handler) GetRide(w http.ResponseWriter, r *http.Request) {
	id := ride.ID(chi.URLParam(r, "id"))

	booked, err := h.Store.GetRide(r.Context(), id)
	if err != nil {
		if errors.Is(err, ride.ErrRideNotFound) {
			writeError(w, http.StatusNotFound, "Ride not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get ride", err)
		return
	}
	writeJSON(w, http.StatusOK, toRideDTO(booked))
}

// =============================================================================
// HANDSHAKE HANDLER
// =============================================================================

// ExecuteHandshake settles one scanned code.
func (h *Handler) ExecuteHandshake(w http.ResponseWriter, r *http.Request) {
	var req HandshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Processor.Execute(r.Context(), req.Code)
	if err != nil {
		status, message := handshakeFailure(err)
		writeJSON(w, status, HandshakeResponse{Success: false, Message: message})
		return
	}

	writeJSON(w, http.StatusOK, HandshakeResponse{
		Success:        true,
		ApplyDiscount:  res.DiscountPercent,
		Message:        fmt.Sprintf("Apply %d%% discount", res.DiscountPercent),
		CashbackAmount: res.Reimbursement.String(),
		NewCustomer:    res.NewCustomer,
		RideID:         string(res.RideID),
	})
}

// handshakeFailure maps a settlement error to an HTTP status and a
// merchant-facing message.
func handshakeFailure(err error) (int, string) {
	switch {
	case errors.Is(err, handshake.ErrInvalidCode):
		return http.StatusNotFound, "Invalid code or code already used"
	case errors.Is(err, ride.ErrCodeExpired):
		return http.StatusGone, "Code has expired"
	case errors.Is(err, handshake.ErrInsufficientMerchantFunds):
		return http.StatusPaymentRequired, "Merchant wallet has insufficient funds"
	case errors.Is(err, handshake.ErrBusy):
		return http.StatusLocked, "Code is being processed, try again"
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "Settlement store unavailable"
	default:
		return http.StatusInternalServerError, "Settlement failed"
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// ledgerStatus classifies a ledger error for routes without a bespoke
// mapping: caller mistakes are 400, transient store trouble is 503.
func ledgerStatus(err error) int {
	switch {
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	case ledger.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) parseAmount(s string) (ledger.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ledger.Money{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return ledger.Money{Value: d, Currency: h.Currency}, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
