package services

import "errors"

// Ledger error taxonomy. These survive to the HTTP boundary so callers can
// distinguish "add funds" from "try again later" from "already settled".
var (
	// ErrInsufficientFunds: the rider's available balance cannot cover the
	// requested escrow lock.
	ErrInsufficientFunds = errors.New("insufficient funds in wallet")

	// ErrInvalidEscrowState: the escrow is missing, already terminal, or not
	// in the state the operation requires. Retrying will not help.
	ErrInvalidEscrowState = errors.New("escrow not found or not in required state")

	// ErrWalletNotFound: the wallet does not exist and the operation does not
	// lazily create it.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrNothingPending: the driver has no pending balance to move.
	ErrNothingPending = errors.New("no pending balance to move")
)
