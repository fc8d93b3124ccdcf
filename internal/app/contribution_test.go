package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
	"github.com/stokvel/wallet-service/pkg/groupclient"
)

func TestContributeDebitsAndRecords(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, "user_1", 100000)
	env.groups.membership.MinimumContributionCents = 50000
	env.groups.membership.ContributionFeeCents = 500
	ctx := context.Background()

	input := ContributeInput{AccountID: account.ID, OwnerID: "user_1", GroupID: "grp-1", Amount: 50000, Reference: "c-1"}
	result, err := env.svc.Contributions.Contribute(ctx, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NewBalance != 49500 || result.Contribution.Amount != 50000 || result.Contribution.Fee != 500 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(env.groups.notices) != 1 || env.groups.notices[0].ContributionID != result.Contribution.ID.String() {
		t.Fatalf("expected the group to be notified, got %+v", env.groups.notices)
	}
	if env.publisher.count(RoutingKeyContributionConfirmed) != 1 {
		t.Fatalf("expected a contribution event, got %v", env.publisher.keys)
	}

	tx, err := env.svc.Ledger.Lookup(ctx, account.ID, "c-1")
	if err != nil || tx.Type != domain.TransactionTypeContribution || tx.GroupID == nil || *tx.GroupID != "grp-1" {
		t.Fatalf("expected contribution entry linked to the group, got %+v, %v", tx, err)
	}
	env.assertAudit(t, account.ID)

	replay, err := env.svc.Contributions.Contribute(ctx, input)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Contribution.ID != result.Contribution.ID || replay.NewBalance != 49500 {
		t.Fatalf("expected replay to return the original record, got %+v", replay)
	}
	if len(env.groups.notices) != 1 {
		t.Fatalf("expected replay not to notify again, got %d notices", len(env.groups.notices))
	}

	list, err := env.svc.Contributions.Contributions(ctx, account.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one contribution, got %d, %v", len(list), err)
	}
}

func TestContributeFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(g *groupsStub)
		amount  int64
		wantErr error
	}{
		{name: "not a member", setup: func(g *groupsStub) { g.membership.IsMember = false }, amount: 1000, wantErr: ErrNotGroupMember},
		{name: "unknown group", setup: func(g *groupsStub) { g.err = groupclient.ErrGroupNotFound }, amount: 1000, wantErr: store.ErrNotFound},
		{name: "below group minimum", setup: func(g *groupsStub) { g.membership.MinimumContributionCents = 5000 }, amount: 1000, wantErr: ErrValidation},
		{name: "insufficient funds", setup: func(g *groupsStub) {}, amount: 20000, wantErr: ErrInsufficientFunds},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			account := env.openAccount(t, "user_1", 10000)
			tc.setup(env.groups)

			_, err := env.svc.Contributions.Contribute(context.Background(), ContributeInput{
				AccountID: account.ID,
				OwnerID:   "user_1",
				GroupID:   "grp-1",
				Amount:    tc.amount,
				Reference: "c-1",
			})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if got := env.balance(t, account.ID).Balance; got != 10000 {
				t.Fatalf("expected balance unchanged, got %d", got)
			}
			list, _ := env.svc.Contributions.Contributions(context.Background(), account.ID)
			if len(list) != 0 {
				t.Fatalf("expected no contribution records, got %d", len(list))
			}
		})
	}
}

func TestContributeSurvivesNotificationFailure(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, "user_1", 10000)
	env.groups.confirmErr = errors.New("group service down")

	result, err := env.svc.Contributions.Contribute(context.Background(), ContributeInput{AccountID: account.ID, OwnerID: "user_1", GroupID: "grp-1", Amount: 1000, Reference: "c-1"})
	if err != nil {
		t.Fatalf("expected notification failure to be swallowed, got %v", err)
	}
	if result.NewBalance != 9000 {
		t.Fatalf("expected debit to stand, got balance %d", result.NewBalance)
	}
}
