package payout

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zibana/backend/internal/models"
)

// ManualProvider performs no network calls. Transfers are recorded as pending
// for an operator to execute out-of-band; it is the terminal fallback when no
// provider credentials are configured.
type ManualProvider struct{}

func (m *ManualProvider) Name() string { return "manual" }

func (m *ManualProvider) VerifyBankAccount(ctx context.Context, bankCode, accountNumber string) (*Verification, error) {
	log.Printf("[MANUAL] Bank verification request: %s / %s", bankCode, accountNumber)
	return &Verification{
		AccountName:   "MANUAL VERIFICATION REQUIRED",
		AccountNumber: accountNumber,
		BankCode:      bankCode,
	}, nil
}

func (m *ManualProvider) InitiateTransfer(ctx context.Context, params TransferParams) (*TransferResult, error) {
	log.Printf("[MANUAL] Transfer logged for manual processing: %s to %s", params.Amount, params.AccountNumber)
	return &TransferResult{
		Reference:         params.Reference,
		ProviderReference: fmt.Sprintf("MANUAL_%d", time.Now().UnixMilli()),
		Status:            models.TransferPending,
	}, nil
}

func (m *ManualProvider) GetTransferStatus(ctx context.Context, reference string) (*StatusResult, error) {
	log.Printf("[MANUAL] Status check: %s", reference)
	return &StatusResult{
		Reference: reference,
		Status:    models.TransferPending,
		Currency:  "NGN",
	}, nil
}
