package services

import "errors"

// User-input class: returned synchronously by the state machine, never retried.
var (
	ErrSessionAlreadyActive = errors.New("a study session is already in progress")
	ErrNoActiveSession      = errors.New("no study session in progress")
	ErrInvalidDuration      = errors.New("unsupported session duration")
)

// Operational class: raised inside the settlement pipeline and resolved there.
var (
	ErrInsufficientOperatingFunds = errors.New("operating account balance is below the safety floor")
	ErrRegistrationUnrecoverable  = errors.New("ledger registration could not be repaired")
	ErrSettlementFailed           = errors.New("reward transfer failed")
)

// ErrBadgeIssuanceFailed is informational: it never reverts a completed session.
var ErrBadgeIssuanceFailed = errors.New("badge issuance failed")

// SettlementError pairs an operational error kind with the ledger error behind it.
type SettlementError struct {
	Kind error
	Err  error
}

func (e *SettlementError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *SettlementError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func settlementErr(kind, err error) *SettlementError {
	return &SettlementError{Kind: kind, Err: err}
}
