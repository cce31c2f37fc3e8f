package payout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/zibana/backend/internal/models"
)

func newPaystack(serverURL string) *PaystackProvider {
	return &PaystackProvider{
		cfg:    Config{PaystackSecretKey: "sk_test", PaystackBaseURL: serverURL},
		client: http.DefaultClient,
	}
}

func newFlutterwave(serverURL string) *FlutterwaveProvider {
	return &FlutterwaveProvider{
		cfg:    Config{FlutterwaveSecretKey: "flw_test", FlutterwaveBaseURL: serverURL},
		client: http.DefaultClient,
	}
}

func TestPaystackProvider_VerifyBankAccount(t *testing.T) {
	t.Run("resolves account name", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
			assert.Equal(t, "/bank/resolve", r.URL.Path)
			assert.Equal(t, "0123456789", r.URL.Query().Get("account_number"))
			assert.Equal(t, "058", r.URL.Query().Get("bank_code"))
			w.Write([]byte(`{"status":true,"data":{"account_name":"ADE DRIVER","account_number":"0123456789"}}`))
		}))
		defer server.Close()

		verification, err := newPaystack(server.URL).VerifyBankAccount(context.Background(), "058", "0123456789")

		assert.NoError(t, err)
		assert.Equal(t, "ADE DRIVER", verification.AccountName)
		assert.Equal(t, "058", verification.BankCode)
	})

	t.Run("rejected account", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":false,"message":"Could not resolve account name"}`))
		}))
		defer server.Close()

		_, err := newPaystack(server.URL).VerifyBankAccount(context.Background(), "058", "0000000000")

		assert.ErrorIs(t, err, ErrRejected)
	})

	t.Run("missing credentials", func(t *testing.T) {
		provider := &PaystackProvider{cfg: Config{}, client: http.DefaultClient}

		_, err := provider.VerifyBankAccount(context.Background(), "058", "0123456789")

		assert.ErrorIs(t, err, ErrNotConfigured)
	})

	t.Run("network failure", func(t *testing.T) {
		server := httptest.NewServer(nil)
		server.Close()

		_, err := newPaystack(server.URL).VerifyBankAccount(context.Background(), "058", "0123456789")

		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestPaystackProvider_InitiateTransfer(t *testing.T) {
	params := TransferParams{
		Amount:        decimal.NewFromInt(500),
		BankCode:      "058",
		AccountNumber: "0123456789",
		AccountName:   "ADE DRIVER",
		Reference:     "PAYOUT_1_ABC",
	}

	t.Run("creates recipient then submits transfer in kobo", func(t *testing.T) {
		var recipientBody, transferBody map[string]interface{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/transferrecipient":
				json.NewDecoder(r.Body).Decode(&recipientBody)
				w.Write([]byte(`{"status":true,"data":{"recipient_code":"RCP_1"}}`))
			case "/transfer":
				json.NewDecoder(r.Body).Decode(&transferBody)
				w.Write([]byte(`{"status":true,"data":{"transfer_code":"TRF_1","status":"pending"}}`))
			default:
				t.Errorf("unexpected call: %s", r.URL.Path)
			}
		}))
		defer server.Close()

		result, err := newPaystack(server.URL).InitiateTransfer(context.Background(), params)

		assert.NoError(t, err)
		assert.Equal(t, models.TransferPending, result.Status)
		assert.Equal(t, "TRF_1", result.ProviderReference)
		assert.Equal(t, "PAYOUT_1_ABC", result.Reference)

		assert.Equal(t, "nuban", recipientBody["type"])
		assert.Equal(t, "0123456789", recipientBody["account_number"])
		assert.Equal(t, float64(50000), transferBody["amount"])
		assert.Equal(t, "RCP_1", transferBody["recipient"])
		assert.Equal(t, "PAYOUT_1_ABC", transferBody["reference"])
	})

	t.Run("recipient rejection aborts the transfer", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/transferrecipient", r.URL.Path)
			w.Write([]byte(`{"status":false,"message":"Invalid bank code"}`))
		}))
		defer server.Close()

		_, err := newPaystack(server.URL).InitiateTransfer(context.Background(), params)

		assert.ErrorIs(t, err, ErrRejected)
	})
}

func TestPaystackProvider_GetTransferStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transfer/verify/PAYOUT_1_ABC", r.URL.Path)
		w.Write([]byte(`{"status":true,"data":{"status":"reversed","amount":50000}}`))
	}))
	defer server.Close()

	status, err := newPaystack(server.URL).GetTransferStatus(context.Background(), "PAYOUT_1_ABC")

	assert.NoError(t, err)
	assert.Equal(t, models.TransferReversed, status.Status)
	assert.True(t, status.Amount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, "NGN", status.Currency)
}

func TestFlutterwaveProvider(t *testing.T) {
	t.Run("verify account", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/accounts/resolve", r.URL.Path)
			assert.Equal(t, "Bearer flw_test", r.Header.Get("Authorization"))
			w.Write([]byte(`{"status":"success","data":{"account_name":"ADE DRIVER"}}`))
		}))
		defer server.Close()

		verification, err := newFlutterwave(server.URL).VerifyBankAccount(context.Background(), "058", "0123456789")

		assert.NoError(t, err)
		assert.Equal(t, "ADE DRIVER", verification.AccountName)
	})

	t.Run("transfer statuses map to the canonical set", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/transfers", r.URL.Path)
			w.Write([]byte(`{"status":"success","data":{"id":4490,"status":"NEW"}}`))
		}))
		defer server.Close()

		result, err := newFlutterwave(server.URL).InitiateTransfer(context.Background(), TransferParams{
			Amount:        decimal.NewFromInt(500),
			BankCode:      "058",
			AccountNumber: "0123456789",
			AccountName:   "ADE DRIVER",
			Reference:     "PAYOUT_1_ABC",
		})

		assert.NoError(t, err)
		assert.Equal(t, models.TransferPending, result.Status)
		assert.Equal(t, "4490", result.ProviderReference)
	})

	t.Run("status poll", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "PAYOUT_1_ABC", r.URL.Query().Get("reference"))
			w.Write([]byte(`{"status":"success","data":[{"status":"SUCCESSFUL","amount":500}]}`))
		}))
		defer server.Close()

		status, err := newFlutterwave(server.URL).GetTransferStatus(context.Background(), "PAYOUT_1_ABC")

		assert.NoError(t, err)
		assert.Equal(t, models.TransferSuccess, status.Status)
		assert.True(t, status.Amount.Equal(decimal.NewFromInt(500)))
	})
}

func TestManualProvider(t *testing.T) {
	provider := &ManualProvider{}

	verification, err := provider.VerifyBankAccount(context.Background(), "058", "0123456789")
	assert.NoError(t, err)
	assert.Equal(t, "MANUAL VERIFICATION REQUIRED", verification.AccountName)

	result, err := provider.InitiateTransfer(context.Background(), TransferParams{
		Amount:    decimal.NewFromInt(500),
		Reference: "PAYOUT_1_ABC",
	})
	assert.NoError(t, err)
	assert.Equal(t, models.TransferPending, result.Status)
	assert.True(t, strings.HasPrefix(result.ProviderReference, "MANUAL_"))

	status, err := provider.GetTransferStatus(context.Background(), "PAYOUT_1_ABC")
	assert.NoError(t, err)
	assert.Equal(t, models.TransferPending, status.Status)
}

func TestSelector_ForCountry(t *testing.T) {
	t.Run("nigeria prefers paystack", func(t *testing.T) {
		s := NewSelector(Config{PaystackSecretKey: "sk", FlutterwaveSecretKey: "flw"})
		assert.Equal(t, "paystack", s.ForCountry("NG").Name())
	})

	t.Run("falls back to flutterwave", func(t *testing.T) {
		s := NewSelector(Config{FlutterwaveSecretKey: "flw"})
		assert.Equal(t, "flutterwave", s.ForCountry("NG").Name())
	})

	t.Run("manual when nothing configured", func(t *testing.T) {
		s := NewSelector(Config{})
		assert.Equal(t, "manual", s.ForCountry("NG").Name())
	})

	t.Run("other countries are manual only", func(t *testing.T) {
		s := NewSelector(Config{PaystackSecretKey: "sk"})
		assert.Equal(t, "manual", s.ForCountry("GH").Name())
	})

	t.Run("country code is case insensitive", func(t *testing.T) {
		s := NewSelector(Config{PaystackSecretKey: "sk"})
		assert.Equal(t, "paystack", s.ForCountry("ng").Name())
	})
}

func TestSelector_ByName(t *testing.T) {
	s := NewSelector(Config{PaystackSecretKey: "sk", FlutterwaveSecretKey: "flw"})

	assert.Equal(t, "paystack", s.ByName("paystack").Name())
	assert.Equal(t, "flutterwave", s.ByName("flutterwave").Name())
	assert.Equal(t, "manual", s.ByName("something-else").Name())
}

func TestGenerateReference(t *testing.T) {
	ref := GenerateReference()

	assert.True(t, strings.HasPrefix(ref, "PAYOUT_"))
	parts := strings.Split(ref, "_")
	assert.Len(t, parts, 3)
	assert.Len(t, parts[2], 8)
	assert.Equal(t, strings.ToUpper(parts[2]), parts[2])

	assert.NotEqual(t, ref, GenerateReference())
}
