package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/zibana/backend/internal/payout"
	"github.com/zibana/backend/internal/services"
)

// LedgerHandler exposes the escrow engine and settlement coordinator to the
// internal services that drive trip, dispute and withdrawal lifecycles.
type LedgerHandler struct {
	escrow     *services.EscrowService
	settlement *services.SettlementService
	audit      *services.AuditService
	wallets    *services.WalletStore
	validator  *services.ValidationHelper
}

func NewLedgerHandler(escrow *services.EscrowService, settlement *services.SettlementService, audit *services.AuditService) *LedgerHandler {
	return &LedgerHandler{
		escrow:     escrow,
		settlement: settlement,
		audit:      audit,
		wallets:    escrow.Wallets(),
		validator:  services.NewValidationHelper(),
	}
}

// LockFunds creates a locked escrow for a ride
// @Summary Lock escrow funds
// @Tags escrow
// @Accept json
// @Produce json
// @Router /escrows/lock [post]
func (h *LedgerHandler) LockFunds(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RideID   string          `json:"rideId" validate:"required"`
		RiderID  string          `json:"riderId" validate:"required"`
		Amount   decimal.Decimal `json:"amount" validate:"required"`
		Currency string          `json:"currency" validate:"omitempty,len=3"`
	}

	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	escrowID, err := h.escrow.LockFunds(r.Context(), req.RideID, req.RiderID, req.Amount, req.Currency)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"escrowId": escrowID,
	})
}

// ReleaseFunds settles an escrow to driver and platform wallets
// @Summary Release escrow funds
// @Tags escrow
// @Accept json
// @Produce json
// @Router /escrows/{escrowId}/release [post]
func (h *LedgerHandler) ReleaseFunds(w http.ResponseWriter, r *http.Request) {
	escrowID := chi.URLParam(r, "escrowId")

	var req struct {
		DriverID           string          `json:"driverId" validate:"required"`
		FinalFare          decimal.Decimal `json:"finalFare" validate:"required"`
		PlatformCommission decimal.Decimal `json:"platformCommission"`
	}

	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.escrow.ReleaseFunds(r.Context(), escrowID, req.DriverID, req.FinalFare, req.PlatformCommission); err != nil {
		services.SendLedgerError(w, err)
		return
	}

	writeSuccess(w)
}

// HoldForDispute moves an escrow to held pending dispute resolution
// @Summary Hold escrow for dispute
// @Tags escrow
// @Accept json
// @Produce json
// @Router /escrows/{escrowId}/hold [post]
func (h *LedgerHandler) HoldForDispute(w http.ResponseWriter, r *http.Request) {
	escrowID := chi.URLParam(r, "escrowId")

	var req struct {
		DisputeID string `json:"disputeId" validate:"required"`
	}

	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.escrow.HoldForDispute(r.Context(), escrowID, req.DisputeID); err != nil {
		services.SendLedgerError(w, err)
		return
	}

	writeSuccess(w)
}

// RefundToRider refunds a locked or held escrow to the rider
// @Summary Refund escrow to rider
// @Tags escrow
// @Produce json
// @Router /escrows/{escrowId}/refund [post]
func (h *LedgerHandler) RefundToRider(w http.ResponseWriter, r *http.Request) {
	escrowID := chi.URLParam(r, "escrowId")

	if err := h.escrow.RefundToRider(r.Context(), escrowID); err != nil {
		services.SendLedgerError(w, err)
		return
	}

	writeSuccess(w)
}

// GetEscrowByRide looks up the escrow for a ride
// @Summary Get escrow by ride id
// @Tags escrow
// @Produce json
// @Router /escrows/ride/{rideId} [get]
func (h *LedgerHandler) GetEscrowByRide(w http.ResponseWriter, r *http.Request) {
	rideID := chi.URLParam(r, "rideId")

	escrow, err := h.escrow.GetEscrowByRideID(r.Context(), rideID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	if escrow == nil {
		services.SendErrorResponse(w, "Escrow not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(escrow)
}

// GetRiderWallet returns a rider's wallet balances
// @Summary Get rider wallet
// @Tags wallets
// @Produce json
// @Router /riders/{riderId}/wallet [get]
func (h *LedgerHandler) GetRiderWallet(w http.ResponseWriter, r *http.Request) {
	riderID := chi.URLParam(r, "riderId")

	wallet, err := h.wallets.GetRiderWallet(r.Context(), riderID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wallet)
}

// MoveToWithdrawable moves a driver's pending balance to withdrawable
// @Summary Move pending earnings to withdrawable
// @Tags wallets
// @Produce json
// @Router /drivers/{driverId}/withdrawable [post]
func (h *LedgerHandler) MoveToWithdrawable(w http.ResponseWriter, r *http.Request) {
	driverID := chi.URLParam(r, "driverId")

	amount, err := h.escrow.MoveToWithdrawable(r.Context(), driverID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"amount":  amount,
	})
}

// RequestWithdrawal initiates a bank payout of a driver's earnings
// @Summary Request driver withdrawal
// @Tags payouts
// @Accept json
// @Produce json
// @Router /withdrawals [post]
func (h *LedgerHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req services.WithdrawalRequest

	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	transfer, err := h.settlement.RequestWithdrawal(r.Context(), req)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"transfer": transfer,
	})
}

// GetTransfer returns a payout attempt's stored record
// @Summary Get transfer by reference
// @Tags payouts
// @Produce json
// @Router /withdrawals/{reference} [get]
func (h *LedgerHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	transfer, err := h.settlement.GetTransfer(r.Context(), reference)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transfer)
}

// GetRideAudit returns the audit trail for one ride
// @Summary Get ride audit trail
// @Tags audit
// @Produce json
// @Router /audit/rides/{rideId} [get]
func (h *LedgerHandler) GetRideAudit(w http.ResponseWriter, r *http.Request) {
	rideID := chi.URLParam(r, "rideId")

	entries, err := h.audit.RideEvents(r.Context(), rideID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetBanks returns the supported payout bank catalog
// @Summary List supported banks
// @Tags payouts
// @Produce json
// @Router /banks [get]
func (h *LedgerHandler) GetBanks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	json.NewEncoder(w).Encode(payout.Banks())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func writeSuccess(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}
