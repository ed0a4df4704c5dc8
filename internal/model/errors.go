package model

import "github.com/cockroachdb/errors"

var (
	ErrInsufficientData    = errors.New("insufficient data")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidNature       = errors.New("invalid payment nature")
	ErrInvalidType         = errors.New("invalid payment type")
	ErrMissingMandate      = errors.New("customer has no sepa mandate")
	ErrNotDirectDebit      = errors.New("payment is not a direct debit")
	ErrRefundDirectDebit   = errors.New("refund cannot be collected by direct debit")
	ErrAmountPrecision     = errors.New("amount has more than two decimals")
	ErrSequenceContention  = errors.New("payment number sequence contention")
	ErrPartialBatchFailure = errors.New("some payments of the batch were not saved")
	ErrBalanceAggregation  = errors.New("balance aggregation failed")
)
