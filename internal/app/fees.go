package app

import (
	"github.com/shopspring/decimal"
	"github.com/stokvel/wallet-service/internal/domain"
)

var (
	depositFeeRate    = decimal.RequireFromString("0.015")
	withdrawalFeeRate = decimal.RequireFromString("0.02")
	minimumDepositFee = int64(200) // R2.00
)

// percentOf returns rate*amount in cents, rounded half-up to the nearest cent.
func percentOf(amount int64, rate decimal.Decimal) int64 {
	return domain.AmountDecimal(amount).Mul(rate).Round(domain.MinorUnits).Shift(domain.MinorUnits).IntPart()
}

// DepositFee is max(2.00, 1.5% of amount).
func DepositFee(amount int64) int64 {
	fee := percentOf(amount, depositFeeRate)
	if fee < minimumDepositFee {
		return minimumDepositFee
	}
	return fee
}

// WithdrawalFee is 2% of amount.
func WithdrawalFee(amount int64) int64 {
	return percentOf(amount, withdrawalFeeRate)
}

// TransferFee is always zero; transfers between wallets are free.
func TransferFee(amount int64) int64 {
	return 0
}

// FeeFor returns the fee for an operation type. Contribution fees are set by the
// group, so they are never computed here.
func FeeFor(txType domain.TransactionType, amount int64) int64 {
	switch txType {
	case domain.TransactionTypeDeposit:
		return DepositFee(amount)
	case domain.TransactionTypeWithdrawal:
		return WithdrawalFee(amount)
	case domain.TransactionTypeTransferOut, domain.TransactionTypeTransferIn:
		return TransferFee(amount)
	default:
		return 0
	}
}
