package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/zibana/backend/internal/models"
	"github.com/zibana/backend/internal/payout"
)

const transferQuery = `SELECT reference, driver_id, provider, bank_code, account_number, account_name,`

func transferRows(reference, driverID, provider, amount, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"reference", "driver_id", "provider", "bank_code", "account_number",
		"account_name", "amount", "currency", "status", "provider_reference", "narration",
		"created_at", "updated_at"}).
		AddRow(reference, driverID, provider, "058", "0123456789", "ADE DRIVER", amount, "NGN",
			status, "", "", time.Now(), time.Now())
}

func withdrawalRequest() WithdrawalRequest {
	return WithdrawalRequest{
		DriverID:      "driver-1",
		CountryCode:   "NG",
		BankCode:      "058",
		AccountNumber: "0123456789",
	}
}

// expectBookWithdrawal mocks the booking transaction that opens every
// withdrawal: lock the wallet, sweep pending earnings into withdrawable,
// debit the full withdrawable balance and record the pending transfer.
func expectBookWithdrawal(mock sqlmock.Sqlmock, driverID, pending, withdrawable string) {
	pendingAmt := decimal.RequireFromString(pending)
	amount := pendingAmt.Add(decimal.RequireFromString(withdrawable))
	mock.ExpectBegin()
	mock.ExpectQuery(driverWalletQuery).WithArgs(driverID).
		WillReturnRows(driverWalletRows(driverID, pending, withdrawable, withdrawable))
	if pendingAmt.IsPositive() {
		mock.ExpectExec(`UPDATE driver_wallets SET pending_balance = 0`).
			WithArgs(pendingAmt, driverID).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec(`UPDATE driver_wallets SET withdrawable_balance = withdrawable_balance - `).
		WithArgs(amount, driverID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO transfers`).
		WithArgs(sqlmock.AnyArg(), driverID, "paystack", "058", "0123456789", "ADE DRIVER",
			amount, "NGN", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func TestSettlementService_RequestWithdrawal(t *testing.T) {
	t.Run("successful withdrawal via paystack", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		var gotKobo int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.HasPrefix(r.URL.Path, "/bank/resolve"):
				w.Write([]byte(`{"status":true,"data":{"account_name":"ADE DRIVER","account_number":"0123456789"}}`))
			case r.URL.Path == "/transferrecipient":
				w.Write([]byte(`{"status":true,"data":{"recipient_code":"RCP_1"}}`))
			case r.URL.Path == "/transfer":
				var body map[string]interface{}
				json.NewDecoder(r.Body).Decode(&body)
				gotKobo = int64(body["amount"].(float64))
				w.Write([]byte(`{"status":true,"data":{"transfer_code":"TRF_1","status":"success"}}`))
			default:
				t.Errorf("unexpected paystack call: %s", r.URL.Path)
			}
		}))
		defer server.Close()

		selector := payout.NewSelector(payout.Config{
			PaystackSecretKey: "sk_test",
			PaystackBaseURL:   server.URL,
		})
		service := NewSettlementService(db, nil, NewEscrowService(db), selector)

		expectBookWithdrawal(mock, "driver-1", "500", "0")
		mock.ExpectBegin()
		mock.ExpectQuery(transferQuery).WithArgs(sqlmock.AnyArg()).
			WillReturnRows(transferRows("PAYOUT_1_ABC", "driver-1", "paystack", "500", "pending"))
		mock.ExpectExec(`UPDATE transfers`).
			WithArgs(sqlmock.AnyArg(), models.TransferSuccess, "TRF_1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO financial_audit_logs`).
			WithArgs("", "driver-1", models.ActorSystem, models.EventTransfer,
				decimal.NewFromInt(500), "NGN", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		transfer, err := service.RequestWithdrawal(context.Background(), withdrawalRequest())

		assert.NoError(t, err)
		assert.Equal(t, models.TransferSuccess, transfer.Status)
		assert.Equal(t, "paystack", transfer.Provider)
		assert.Equal(t, "TRF_1", transfer.ProviderReference)
		assert.True(t, strings.HasPrefix(transfer.Reference, "PAYOUT_"))
		assert.Equal(t, int64(50000), gotKobo)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pays out funds already made withdrawable", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.HasPrefix(r.URL.Path, "/bank/resolve"):
				w.Write([]byte(`{"status":true,"data":{"account_name":"ADE DRIVER","account_number":"0123456789"}}`))
			case r.URL.Path == "/transferrecipient":
				w.Write([]byte(`{"status":true,"data":{"recipient_code":"RCP_1"}}`))
			case r.URL.Path == "/transfer":
				w.Write([]byte(`{"status":true,"data":{"transfer_code":"TRF_2","status":"success"}}`))
			default:
				t.Errorf("unexpected paystack call: %s", r.URL.Path)
			}
		}))
		defer server.Close()

		selector := payout.NewSelector(payout.Config{
			PaystackSecretKey: "sk_test",
			PaystackBaseURL:   server.URL,
		})
		service := NewSettlementService(db, nil, NewEscrowService(db), selector)

		// Nothing pending: the balance sits in withdrawable from an earlier
		// sweep, for example after a failed transfer returned it.
		expectBookWithdrawal(mock, "driver-1", "0", "500")
		mock.ExpectBegin()
		mock.ExpectQuery(transferQuery).WithArgs(sqlmock.AnyArg()).
			WillReturnRows(transferRows("PAYOUT_2_DEF", "driver-1", "paystack", "500", "pending"))
		mock.ExpectExec(`UPDATE transfers`).
			WithArgs(sqlmock.AnyArg(), models.TransferSuccess, "TRF_2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO financial_audit_logs`).
			WithArgs("", "driver-1", models.ActorSystem, models.EventTransfer,
				decimal.NewFromInt(500), "NGN", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		transfer, err := service.RequestWithdrawal(context.Background(), withdrawalRequest())

		assert.NoError(t, err)
		assert.Equal(t, models.TransferSuccess, transfer.Status)
		assert.True(t, decimal.NewFromInt(500).Equal(transfer.Amount))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("provider outage keeps transfer pending", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/bank/resolve") {
				w.Write([]byte(`{"status":true,"data":{"account_name":"ADE DRIVER","account_number":"0123456789"}}`))
				return
			}
			// Simulate the provider dropping the connection mid-transfer.
			conn, _, err := w.(http.Hijacker).Hijack()
			assert.NoError(t, err)
			conn.Close()
		}))
		defer server.Close()

		selector := payout.NewSelector(payout.Config{
			PaystackSecretKey: "sk_test",
			PaystackBaseURL:   server.URL,
		})
		service := NewSettlementService(db, nil, NewEscrowService(db), selector)

		expectBookWithdrawal(mock, "driver-1", "500", "0")

		transfer, err := service.RequestWithdrawal(context.Background(), withdrawalRequest())

		assert.ErrorIs(t, err, payout.ErrUnavailable)
		assert.NotNil(t, transfer)
		assert.Equal(t, models.TransferPending, transfer.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("provider rejection marks transfer failed", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/bank/resolve") {
				w.Write([]byte(`{"status":true,"data":{"account_name":"ADE DRIVER","account_number":"0123456789"}}`))
				return
			}
			w.Write([]byte(`{"status":false,"message":"invalid account"}`))
		}))
		defer server.Close()

		selector := payout.NewSelector(payout.Config{
			PaystackSecretKey: "sk_test",
			PaystackBaseURL:   server.URL,
		})
		service := NewSettlementService(db, nil, NewEscrowService(db), selector)

		expectBookWithdrawal(mock, "driver-1", "500", "0")
		mock.ExpectBegin()
		mock.ExpectQuery(transferQuery).WithArgs(sqlmock.AnyArg()).
			WillReturnRows(transferRows("PAYOUT_1_ABC", "driver-1", "paystack", "500", "pending"))
		mock.ExpectExec(`UPDATE transfers`).
			WithArgs(sqlmock.AnyArg(), models.TransferFailed, "").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE driver_wallets SET withdrawable_balance = withdrawable_balance \+ `).
			WithArgs(decimal.NewFromInt(500), "driver-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO financial_audit_logs`).
			WithArgs("", "driver-1", models.ActorSystem, models.EventTransfer,
				decimal.NewFromInt(500), "NGN", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		transfer, err := service.RequestWithdrawal(context.Background(), withdrawalRequest())

		assert.ErrorIs(t, err, payout.ErrRejected)
		assert.Equal(t, models.TransferFailed, transfer.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown bank code", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewSettlementService(db, nil, NewEscrowService(db), payout.NewSelector(payout.Config{}))

		req := withdrawalRequest()
		req.BankCode = "000"
		_, err = service.RequestWithdrawal(context.Background(), req)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown bank code")
	})

	t.Run("empty wallet has nothing to withdraw", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewSettlementService(db, nil, NewEscrowService(db), payout.NewSelector(payout.Config{}))

		mock.ExpectBegin()
		mock.ExpectQuery(driverWalletQuery).WithArgs("driver-1").
			WillReturnRows(driverWalletRows("driver-1", "0", "0", "0"))
		mock.ExpectRollback()

		_, err = service.RequestWithdrawal(context.Background(), withdrawalRequest())

		assert.ErrorIs(t, err, ErrNothingPending)
	})
}

func TestSettlementService_ApplyProviderStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSettlementService(db, nil, NewEscrowService(db), payout.NewSelector(payout.Config{}))

	t.Run("pending to success", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(transferQuery).WithArgs("PAYOUT_1_ABC").
			WillReturnRows(transferRows("PAYOUT_1_ABC", "driver-1", "paystack", "500", "pending"))
		mock.ExpectExec(`UPDATE transfers`).
			WithArgs("PAYOUT_1_ABC", models.TransferSuccess, "TRF_1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO financial_audit_logs`).
			WithArgs("", "driver-1", models.ActorSystem, models.EventTransfer,
				decimal.NewFromInt(500), "NGN", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := service.ApplyProviderStatus(context.Background(), "PAYOUT_1_ABC", models.TransferSuccess, "TRF_1")

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed transfer returns the booked funds", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(transferQuery).WithArgs("PAYOUT_1_ABC").
			WillReturnRows(transferRows("PAYOUT_1_ABC", "driver-1", "paystack", "500", "pending"))
		mock.ExpectExec(`UPDATE transfers`).
			WithArgs("PAYOUT_1_ABC", models.TransferFailed, "").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE driver_wallets SET withdrawable_balance = withdrawable_balance \+ `).
			WithArgs(decimal.NewFromInt(500), "driver-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO financial_audit_logs`).
			WithArgs("", "driver-1", models.ActorSystem, models.EventTransfer,
				decimal.NewFromInt(500), "NGN", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := service.ApplyProviderStatus(context.Background(), "PAYOUT_1_ABC", models.TransferFailed, "")

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reversal after settlement returns the funds", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(transferQuery).WithArgs("PAYOUT_1_ABC").
			WillReturnRows(transferRows("PAYOUT_1_ABC", "driver-1", "paystack", "500", "success"))
		mock.ExpectExec(`UPDATE transfers`).
			WithArgs("PAYOUT_1_ABC", models.TransferReversed, "").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE driver_wallets SET withdrawable_balance = withdrawable_balance \+ `).
			WithArgs(decimal.NewFromInt(500), "driver-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO financial_audit_logs`).
			WithArgs("", "driver-1", models.ActorSystem, models.EventTransfer,
				decimal.NewFromInt(500), "NGN", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := service.ApplyProviderStatus(context.Background(), "PAYOUT_1_ABC", models.TransferReversed, "")

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("settled transfer only moves to reversed", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(transferQuery).WithArgs("PAYOUT_1_ABC").
			WillReturnRows(transferRows("PAYOUT_1_ABC", "driver-1", "paystack", "500", "success"))
		mock.ExpectRollback()

		err := service.ApplyProviderStatus(context.Background(), "PAYOUT_1_ABC", models.TransferPending, "")

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal status never regresses", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(transferQuery).WithArgs("PAYOUT_1_ABC").
			WillReturnRows(transferRows("PAYOUT_1_ABC", "driver-1", "paystack", "500", "reversed"))
		mock.ExpectRollback()

		err := service.ApplyProviderStatus(context.Background(), "PAYOUT_1_ABC", models.TransferSuccess, "")

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeated status is a no-op", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(transferQuery).WithArgs("PAYOUT_1_ABC").
			WillReturnRows(transferRows("PAYOUT_1_ABC", "driver-1", "paystack", "500", "pending"))
		mock.ExpectRollback()

		err := service.ApplyProviderStatus(context.Background(), "PAYOUT_1_ABC", models.TransferPending, "")

		assert.NoError(t, err)
	})
}

func TestSettlementService_ProcessReconcileQueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/transfer/verify/"))
		w.Write([]byte(`{"status":true,"data":{"status":"success","amount":50000}}`))
	}))
	defer server.Close()

	redisClient, redisMock := redismock.NewClientMock()
	selector := payout.NewSelector(payout.Config{
		PaystackSecretKey: "sk_test",
		PaystackBaseURL:   server.URL,
	})
	service := NewSettlementService(db, redisClient, NewEscrowService(db), selector)

	redisMock.ExpectLPop("payout_reconcile_queue").SetVal("PAYOUT_1_ABC")
	redisMock.ExpectLPop("payout_reconcile_queue").RedisNil()

	mock.ExpectQuery(transferQuery).WithArgs("PAYOUT_1_ABC").
		WillReturnRows(transferRows("PAYOUT_1_ABC", "driver-1", "paystack", "500", "pending"))
	mock.ExpectBegin()
	mock.ExpectQuery(transferQuery).WithArgs("PAYOUT_1_ABC").
		WillReturnRows(transferRows("PAYOUT_1_ABC", "driver-1", "paystack", "500", "pending"))
	mock.ExpectExec(`UPDATE transfers`).
		WithArgs("PAYOUT_1_ABC", models.TransferSuccess, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO financial_audit_logs`).
		WithArgs("", "driver-1", models.ActorSystem, models.EventTransfer,
			decimal.NewFromInt(500), "NGN", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	processed := service.ProcessReconcileQueue(context.Background())

	assert.Equal(t, 1, processed)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestSettlementService_OnTripCompleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSettlementService(db, nil, NewEscrowService(db), payout.NewSelector(payout.Config{}))

	t.Run("no escrow for the ride", func(t *testing.T) {
		mock.ExpectQuery(escrowQuery).WithArgs("ride-x").
			WillReturnError(sql.ErrNoRows)

		err := service.OnTripCompleted(context.Background(), "ride-x", "driver-1",
			decimal.NewFromInt(1000), decimal.NewFromInt(150))

		assert.ErrorIs(t, err, ErrInvalidEscrowState)
	})
}
