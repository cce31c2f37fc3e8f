package payout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zibana/backend/internal/models"
)

// Provider failure taxonomy. Callers distinguish "configure a provider" from
// "try again later" from "fix the request" by matching with errors.Is.
var (
	ErrNotConfigured = errors.New("payout provider not configured")
	ErrUnavailable   = errors.New("payout provider unavailable")
	ErrRejected      = errors.New("payout provider rejected request")
)

// Verification is the result of a bank account name resolution.
type Verification struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
}

// TransferParams describes one outbound bank transfer. Reference must be
// unique per payout attempt; a provider is never asked to execute the same
// reference twice with different parameters.
type TransferParams struct {
	Amount        decimal.Decimal
	BankCode      string
	AccountNumber string
	AccountName   string
	Reference     string
	Narration     string
}

// TransferResult is the provider's answer to a transfer initiation.
type TransferResult struct {
	Reference         string                `json:"reference"`
	ProviderReference string                `json:"provider_reference"`
	Status            models.TransferStatus `json:"status"`
}

// StatusResult is the provider's answer to a status poll.
type StatusResult struct {
	Reference string                `json:"reference"`
	Status    models.TransferStatus `json:"status"`
	Amount    decimal.Decimal       `json:"amount"`
	Currency  string                `json:"currency"`
}

// Provider is the uniform contract over external bank-transfer services.
// Implementations map their own status vocabulary into models.TransferStatus
// and translate failures into the package error taxonomy.
type Provider interface {
	Name() string
	VerifyBankAccount(ctx context.Context, bankCode, accountNumber string) (*Verification, error)
	InitiateTransfer(ctx context.Context, params TransferParams) (*TransferResult, error)
	GetTransferStatus(ctx context.Context, reference string) (*StatusResult, error)
}

// Config carries provider credentials and endpoints. It is passed in at
// construction so provider selection is deterministic and testable without
// touching the process environment.
type Config struct {
	PaystackSecretKey     string
	PaystackBaseURL       string
	FlutterwaveSecretKey  string
	FlutterwaveSecretHash string
	FlutterwaveBaseURL    string
	RequestTimeout        time.Duration
}

const (
	defaultPaystackBaseURL    = "https://api.paystack.co"
	defaultFlutterwaveBaseURL = "https://api.flutterwave.com/v3"
	defaultRequestTimeout     = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.PaystackBaseURL == "" {
		c.PaystackBaseURL = defaultPaystackBaseURL
	}
	if c.FlutterwaveBaseURL == "" {
		c.FlutterwaveBaseURL = defaultFlutterwaveBaseURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}

// Selector picks a payout provider for a recipient country. The fallback
// chain is evaluated on every call because credential availability can change
// between environments: Paystack first, then Flutterwave, then manual mode.
type Selector struct {
	cfg         Config
	paystack    *PaystackProvider
	flutterwave *FlutterwaveProvider
	manual      *ManualProvider
}

// NewSelector builds a selector and its providers from an explicit config.
func NewSelector(cfg Config) *Selector {
	cfg = cfg.withDefaults()
	client := &http.Client{Timeout: cfg.RequestTimeout}
	return &Selector{
		cfg:         cfg,
		paystack:    &PaystackProvider{cfg: cfg, client: client},
		flutterwave: &FlutterwaveProvider{cfg: cfg, client: client},
		manual:      &ManualProvider{},
	}
}

// ForCountry returns the provider to use for a recipient country code.
// Nigeria prefers Paystack, falls back to Flutterwave, then manual. Every
// other country is manual-only.
func (s *Selector) ForCountry(countryCode string) Provider {
	if strings.EqualFold(countryCode, "NG") {
		if s.cfg.PaystackSecretKey != "" {
			log.Printf("[PAYOUT] Country %s: using paystack", countryCode)
			return s.paystack
		}
		if s.cfg.FlutterwaveSecretKey != "" {
			log.Printf("[PAYOUT] Country %s: using flutterwave (fallback)", countryCode)
			return s.flutterwave
		}
	}
	log.Printf("[PAYOUT] Country %s: using manual", countryCode)
	return s.manual
}

// ByName returns a named provider, or the manual provider for unknown names.
// Used when reconciling a stored transfer record against the provider that
// originally accepted it.
func (s *Selector) ByName(name string) Provider {
	switch name {
	case "paystack":
		return s.paystack
	case "flutterwave":
		return s.flutterwave
	default:
		return s.manual
	}
}

// GenerateReference returns a fresh payout idempotency reference.
func GenerateReference() string {
	id := uuid.New()
	return fmt.Sprintf("PAYOUT_%d_%s", time.Now().UnixMilli(), strings.ToUpper(id.String()[:8]))
}
