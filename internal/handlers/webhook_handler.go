package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/zibana/backend/internal/models"
	"github.com/zibana/backend/internal/payout"
	"github.com/zibana/backend/internal/services"
)

// WebhookHandler receives asynchronous transfer-status notifications from the
// payout providers. Every payload is authenticated before it can touch a
// transfer record; an invalid signature is rejected outright.
type WebhookHandler struct {
	settlement *services.SettlementService
	cfg        payout.Config
}

func NewWebhookHandler(settlement *services.SettlementService, cfg payout.Config) *WebhookHandler {
	return &WebhookHandler{settlement: settlement, cfg: cfg}
}

// Paystack handles transfer.* events signed with HMAC-SHA512 over the raw
// payload bytes (x-paystack-signature header).
func (h *WebhookHandler) Paystack(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1_048_576))
	if err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("x-paystack-signature")
	if !payout.ValidatePaystackSignature(payload, signature, h.cfg.PaystackSecretKey) {
		log.Printf("[WEBHOOK] Rejected paystack webhook: bad signature from %s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event struct {
		Event string `json:"event"`
		Data  struct {
			Reference    string `json:"reference"`
			TransferCode string `json:"transfer_code"`
			Status       string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if !strings.HasPrefix(event.Event, "transfer.") || event.Data.Reference == "" {
		// Not a transfer event; acknowledge and ignore.
		w.WriteHeader(http.StatusOK)
		return
	}

	status := paystackEventStatus(event.Event, event.Data.Status)
	if err := h.settlement.ApplyProviderStatus(r.Context(), event.Data.Reference, status, event.Data.TransferCode); err != nil {
		log.Printf("[WEBHOOK] Failed to apply paystack status for %s: %v", event.Data.Reference, err)
		http.Error(w, "Failed to process webhook", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Flutterwave handles transfer events authenticated by the verif-hash shared
// secret header.
func (h *WebhookHandler) Flutterwave(w http.ResponseWriter, r *http.Request) {
	if !payout.ValidateFlutterwaveSecret(r.Header.Get("verif-hash"), h.cfg.FlutterwaveSecretHash) {
		log.Printf("[WEBHOOK] Rejected flutterwave webhook: bad secret from %s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event struct {
		Event string `json:"event"`
		Data  struct {
			ID        int64  `json:"id"`
			Reference string `json:"reference"`
			Status    string `json:"status"`
		} `json:"data"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if event.Data.Reference == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	status := flutterwaveEventStatus(event.Data.Status)
	if err := h.settlement.ApplyProviderStatus(r.Context(), event.Data.Reference, status, ""); err != nil {
		log.Printf("[WEBHOOK] Failed to apply flutterwave status for %s: %v", event.Data.Reference, err)
		http.Error(w, "Failed to process webhook", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func paystackEventStatus(event, status string) models.TransferStatus {
	switch event {
	case "transfer.success":
		return models.TransferSuccess
	case "transfer.failed":
		return models.TransferFailed
	case "transfer.reversed":
		return models.TransferReversed
	}
	switch strings.ToLower(status) {
	case "success":
		return models.TransferSuccess
	case "failed":
		return models.TransferFailed
	case "reversed":
		return models.TransferReversed
	default:
		return models.TransferPending
	}
}

func flutterwaveEventStatus(status string) models.TransferStatus {
	switch strings.ToUpper(status) {
	case "SUCCESSFUL":
		return models.TransferSuccess
	case "FAILED":
		return models.TransferFailed
	case "REVERSED":
		return models.TransferReversed
	default:
		return models.TransferPending
	}
}
