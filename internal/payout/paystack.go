package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zibana/backend/internal/models"
)

// PaystackProvider is the primary Nigerian payout backend. Transfers are a
// two-step flow: create a transfer recipient, then submit the transfer against
// the recipient code. Paystack deduplicates transfers on the reference field.
type PaystackProvider struct {
	cfg    Config
	client *http.Client
}

func (p *PaystackProvider) Name() string { return "paystack" }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *PaystackProvider) VerifyBankAccount(ctx context.Context, bankCode, accountNumber string) (*Verification, error) {
	if p.cfg.PaystackSecretKey == "" {
		return nil, fmt.Errorf("paystack: %w", ErrNotConfigured)
	}

	endpoint := fmt.Sprintf("%s/bank/resolve?account_number=%s&bank_code=%s",
		p.cfg.PaystackBaseURL, url.QueryEscape(accountNumber), url.QueryEscape(bankCode))

	env, err := p.call(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if !env.Status {
		log.Printf("[PAYSTACK] Bank verification failed: %s", env.Message)
		return nil, fmt.Errorf("paystack: %s: %w", env.Message, ErrRejected)
	}

	var data struct {
		AccountName   string `json:"account_name"`
		AccountNumber string `json:"account_number"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("paystack: decode verification: %w", err)
	}

	log.Printf("[PAYSTACK] Bank account verified: %s", data.AccountName)
	return &Verification{
		AccountName:   data.AccountName,
		AccountNumber: data.AccountNumber,
		BankCode:      bankCode,
	}, nil
}

func (p *PaystackProvider) InitiateTransfer(ctx context.Context, params TransferParams) (*TransferResult, error) {
	if p.cfg.PaystackSecretKey == "" {
		return nil, fmt.Errorf("paystack: %w", ErrNotConfigured)
	}

	recipientCode, err := p.createRecipient(ctx, params)
	if err != nil {
		return nil, err
	}

	narration := params.Narration
	if narration == "" {
		narration = "Driver payout " + params.Reference
	}

	body := map[string]any{
		"source":    "balance",
		"amount":    params.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), // kobo
		"recipient": recipientCode,
		"reason":    narration,
		"reference": params.Reference,
	}

	env, err := p.call(ctx, http.MethodPost, p.cfg.PaystackBaseURL+"/transfer", body)
	if err != nil {
		return nil, err
	}
	if !env.Status {
		log.Printf("[PAYSTACK] Transfer failed: %s", env.Message)
		return nil, fmt.Errorf("paystack: %s: %w", env.Message, ErrRejected)
	}

	var data struct {
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("paystack: decode transfer: %w", err)
	}

	status := mapPaystackStatus(data.Status)
	log.Printf("[PAYSTACK] Transfer initiated: %s, status: %s", params.Reference, status)
	return &TransferResult{
		Reference:         params.Reference,
		ProviderReference: data.TransferCode,
		Status:            status,
	}, nil
}

func (p *PaystackProvider) GetTransferStatus(ctx context.Context, reference string) (*StatusResult, error) {
	if p.cfg.PaystackSecretKey == "" {
		return nil, fmt.Errorf("paystack: %w", ErrNotConfigured)
	}

	endpoint := p.cfg.PaystackBaseURL + "/transfer/verify/" + url.PathEscape(reference)
	env, err := p.call(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, fmt.Errorf("paystack: %s: %w", env.Message, ErrRejected)
	}

	var data struct {
		Status string `json:"status"`
		Amount int64  `json:"amount"` // kobo
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("paystack: decode status: %w", err)
	}

	return &StatusResult{
		Reference: reference,
		Status:    mapPaystackStatus(data.Status),
		Amount:    decimal.NewFromInt(data.Amount).Div(decimal.NewFromInt(100)),
		Currency:  "NGN",
	}, nil
}

func (p *PaystackProvider) createRecipient(ctx context.Context, params TransferParams) (string, error) {
	body := map[string]any{
		"type":           "nuban",
		"name":           params.AccountName,
		"account_number": params.AccountNumber,
		"bank_code":      params.BankCode,
		"currency":       "NGN",
	}

	env, err := p.call(ctx, http.MethodPost, p.cfg.PaystackBaseURL+"/transferrecipient", body)
	if err != nil {
		return "", err
	}
	if !env.Status {
		log.Printf("[PAYSTACK] Recipient creation failed: %s", env.Message)
		return "", fmt.Errorf("paystack: %s: %w", env.Message, ErrRejected)
	}

	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.RecipientCode == "" {
		return "", fmt.Errorf("paystack: no recipient code in response: %w", ErrRejected)
	}
	return data.RecipientCode, nil
}

func (p *PaystackProvider) call(ctx context.Context, method, endpoint string, body any) (*paystackEnvelope, error) {
	var payload *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("paystack: encode request: %w", err)
		}
		payload = bytes.NewBuffer(data)
	} else {
		payload = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("paystack: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.PaystackSecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		log.Printf("[PAYSTACK] Request error: %v", err)
		return nil, fmt.Errorf("paystack: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	var env paystackEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("paystack: decode response: %w", ErrUnavailable)
	}
	return &env, nil
}

func mapPaystackStatus(status string) models.TransferStatus {
	switch strings.ToLower(status) {
	case "success":
		return models.TransferSuccess
	case "failed":
		return models.TransferFailed
	case "reversed":
		return models.TransferReversed
	default:
		// pending, otp and anything new from the API stays pending.
		return models.TransferPending
	}
}
