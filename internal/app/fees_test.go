package app

import (
	"testing"

	"github.com/stokvel/wallet-service/internal/domain"
)

func TestDepositFee(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		want   int64
	}{
		{name: "minimum applies to small deposits", amount: 100, want: 200},
		{name: "thousand", amount: 100000, want: 1500},
		{name: "five hundred", amount: 50000, want: 750},
		{name: "threshold", amount: 13334, want: 200},
		{name: "rounds half up", amount: 13500, want: 203},
		{name: "just above minimum", amount: 13400, want: 201},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DepositFee(tt.amount); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestWithdrawalFee(t *testing.T) {
	tests := []struct {
		amount int64
		want   int64
	}{
		{amount: 10000, want: 200},
		{amount: 5000, want: 100},
		{amount: 20000, want: 400},
		{amount: 1025, want: 21}, // 0.205 rounds half up
		{amount: 1000, want: 20},
	}

	for _, tt := range tests {
		if got := WithdrawalFee(tt.amount); got != tt.want {
			t.Fatalf("amount %d: expected %d, got %d", tt.amount, tt.want, got)
		}
	}
}

func TestFeeForIsDeterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		if FeeFor(domain.TransactionTypeDeposit, 100000) != 1500 {
			t.Fatal("expected deposit fee to be stable")
		}
	}
	if FeeFor(domain.TransactionTypeTransferOut, 123456) != 0 {
		t.Fatal("expected transfers to be fee-free")
	}
	if FeeFor(domain.TransactionTypeContribution, 123456) != 0 {
		t.Fatal("expected contribution fee to come from the group, not the calculator")
	}
}
