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

// FlutterwaveProvider is the fallback Nigerian payout backend. Unlike
// Paystack it takes bank details inline on the transfer call, no recipient
// step.
type FlutterwaveProvider struct {
	cfg    Config
	client *http.Client
}

func (f *FlutterwaveProvider) Name() string { return "flutterwave" }

type flutterwaveEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (f *FlutterwaveProvider) VerifyBankAccount(ctx context.Context, bankCode, accountNumber string) (*Verification, error) {
	if f.cfg.FlutterwaveSecretKey == "" {
		return nil, fmt.Errorf("flutterwave: %w", ErrNotConfigured)
	}

	body := map[string]any{
		"account_number": accountNumber,
		"account_bank":   bankCode,
	}
	env, err := f.call(ctx, http.MethodPost, f.cfg.FlutterwaveBaseURL+"/accounts/resolve", body)
	if err != nil {
		return nil, err
	}
	if env.Status != "success" {
		log.Printf("[FLUTTERWAVE] Bank verification failed: %s", env.Message)
		return nil, fmt.Errorf("flutterwave: %s: %w", env.Message, ErrRejected)
	}

	var data struct {
		AccountName string `json:"account_name"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("flutterwave: decode verification: %w", err)
	}

	log.Printf("[FLUTTERWAVE] Bank account verified: %s", data.AccountName)
	return &Verification{
		AccountName:   data.AccountName,
		AccountNumber: accountNumber,
		BankCode:      bankCode,
	}, nil
}

func (f *FlutterwaveProvider) InitiateTransfer(ctx context.Context, params TransferParams) (*TransferResult, error) {
	if f.cfg.FlutterwaveSecretKey == "" {
		return nil, fmt.Errorf("flutterwave: %w", ErrNotConfigured)
	}

	narration := params.Narration
	if narration == "" {
		narration = "Driver payout " + params.Reference
	}

	body := map[string]any{
		"account_bank":     params.BankCode,
		"account_number":   params.AccountNumber,
		"amount":           params.Amount,
		"narration":        narration,
		"currency":         "NGN",
		"reference":        params.Reference,
		"beneficiary_name": params.AccountName,
	}

	env, err := f.call(ctx, http.MethodPost, f.cfg.FlutterwaveBaseURL+"/transfers", body)
	if err != nil {
		return nil, err
	}
	if env.Status != "success" {
		log.Printf("[FLUTTERWAVE] Transfer failed: %s", env.Message)
		return nil, fmt.Errorf("flutterwave: %s: %w", env.Message, ErrRejected)
	}

	var data struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("flutterwave: decode transfer: %w", err)
	}

	status := mapFlutterwaveStatus(data.Status)
	log.Printf("[FLUTTERWAVE] Transfer initiated: %s, status: %s", params.Reference, status)
	return &TransferResult{
		Reference:         params.Reference,
		ProviderReference: fmt.Sprintf("%d", data.ID),
		Status:            status,
	}, nil
}

func (f *FlutterwaveProvider) GetTransferStatus(ctx context.Context, reference string) (*StatusResult, error) {
	if f.cfg.FlutterwaveSecretKey == "" {
		return nil, fmt.Errorf("flutterwave: %w", ErrNotConfigured)
	}

	endpoint := f.cfg.FlutterwaveBaseURL + "/transfers?reference=" + url.QueryEscape(reference)
	env, err := f.call(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if env.Status != "success" {
		return nil, fmt.Errorf("flutterwave: %s: %w", env.Message, ErrRejected)
	}

	var data []struct {
		Status string          `json:"status"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("flutterwave: decode status: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("flutterwave: transfer %s not found: %w", reference, ErrRejected)
	}

	return &StatusResult{
		Reference: reference,
		Status:    mapFlutterwaveStatus(data[0].Status),
		Amount:    data[0].Amount,
		Currency:  "NGN",
	}, nil
}

func (f *FlutterwaveProvider) call(ctx context.Context, method, endpoint string, body any) (*flutterwaveEnvelope, error) {
	var payload *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("flutterwave: encode request: %w", err)
		}
		payload = bytes.NewBuffer(data)
	} else {
		payload = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("flutterwave: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.cfg.FlutterwaveSecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		log.Printf("[FLUTTERWAVE] Request error: %v", err)
		return nil, fmt.Errorf("flutterwave: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	var env flutterwaveEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("flutterwave: decode response: %w", ErrUnavailable)
	}
	return &env, nil
}

func mapFlutterwaveStatus(status string) models.TransferStatus {
	switch strings.ToLower(status) {
	case "successful":
		return models.TransferSuccess
	case "failed":
		return models.TransferFailed
	case "reversed":
		return models.TransferReversed
	default:
		// pending, new and anything unrecognised stays pending.
		return models.TransferPending
	}
}
