package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
	"github.com/stokvel/wallet-service/pkg/groupclient"
	"github.com/stokvel/wallet-service/pkg/processor"
)

type gatewayStub struct {
	mu sync.Mutex

	chargeResult *processor.Result
	chargeErr    error
	payoutResult *processor.Result
	payoutErr    error
	statuses     map[string]*processor.Result
	statusErr    error

	charges []processor.ChargeRequest
	payouts []processor.PayoutRequest
}

func newGatewayStub() *gatewayStub {
	return &gatewayStub{
		chargeResult: &processor.Result{Status: processor.StatusSucceeded},
		payoutResult: &processor.Result{Status: processor.StatusSucceeded},
		statuses:     make(map[string]*processor.Result),
	}
}

func (g *gatewayStub) Charge(ctx context.Context, req processor.ChargeRequest) (*processor.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, req)
	return g.chargeResult, g.chargeErr
}

func (g *gatewayStub) Payout(ctx context.Context, req processor.PayoutRequest) (*processor.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payouts = append(g.payouts, req)
	return g.payoutResult, g.payoutErr
}

func (g *gatewayStub) Status(ctx context.Context, kind processor.Kind, reference string) (*processor.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	result, ok := g.statuses[reference]
	if !ok {
		return nil, &processor.ErrorResponse{StatusCode: 404}
	}
	return result, nil
}

type groupsStub struct {
	membership *domain.GroupMembership
	err        error
	confirmErr error
	notices    []groupclient.ContributionNotice
}

func (g *groupsStub) Membership(ctx context.Context, groupID, ownerID string) (*domain.GroupMembership, error) {
	if g.err != nil {
		return nil, g.err
	}
	m := *g.membership
	m.GroupID, m.OwnerID = groupID, ownerID
	return &m, nil
}

func (g *groupsStub) ConfirmContribution(ctx context.Context, groupID string, notice groupclient.ContributionNotice) error {
	g.notices = append(g.notices, notice)
	return g.confirmErr
}

type publisherStub struct {
	mu   sync.Mutex
	keys []string
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *publisherStub) Close() {}

func (p *publisherStub) count(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, key := range p.keys {
		if key == routingKey {
			n++
		}
	}
	return n
}

type testEnv struct {
	svc       *Service
	repo      *store.MemoryRepository
	gateway   *gatewayStub
	groups    *groupsStub
	publisher *publisherStub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := store.NewMemoryRepository()
	gateway := newGatewayStub()
	groups := &groupsStub{membership: &domain.GroupMembership{IsMember: true, GroupActive: true}}
	publisher := &publisherStub{}
	svc := NewService(repo, gateway, groups, NewEventPublisher(publisher, "stokvel.events"), Options{
		Currency: "ZAR",
		Deposit:  AmountLimits{Min: 100, Max: 5000000, Daily: 1000000},
		Withdraw: AmountLimits{Min: 1000, Max: 5000000},
		Transfer: AmountLimits{Min: 100, Max: 5000000},
	})
	return &testEnv{svc: svc, repo: repo, gateway: gateway, groups: groups, publisher: publisher}
}

// openAccount creates an account funded with a completed deposit so the
// journal always explains the balance.
func (e *testEnv) openAccount(t *testing.T, owner string, balance int64) *domain.Account {
	t.Helper()
	account, _, err := e.svc.OpenAccount(context.Background(), owner, "")
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	if balance > 0 {
		_, err := e.svc.Ledger.Credit(context.Background(), LedgerEntry{
			AccountID: account.ID,
			Type:      domain.TransactionTypeDeposit,
			Amount:    balance,
			Reference: "seed-" + uuid.NewString(),
		})
		if err != nil {
			t.Fatalf("fund account: %v", err)
		}
	}
	return account
}

func (e *testEnv) addCard(t *testing.T, accountID uuid.UUID) *domain.Card {
	t.Helper()
	expiry := time.Now().UTC().AddDate(2, 0, 0).Format("01/06")
	card, err := e.svc.Cards.Add(context.Background(), accountID, AddCardInput{
		Holder: "Thandi Mokoena",
		Number: "4111 1111 1111 1111",
		Expiry: expiry,
		CVV:    "123",
	})
	if err != nil {
		t.Fatalf("add card: %v", err)
	}
	return card
}

func (e *testEnv) balance(t *testing.T, accountID uuid.UUID) *domain.AccountBalance {
	t.Helper()
	balance, err := e.svc.Ledger.Balance(context.Background(), accountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func (e *testEnv) assertAudit(t *testing.T, accountID uuid.UUID) {
	t.Helper()
	audit, err := e.svc.Ledger.Audit(context.Background(), accountID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !audit.OK {
		t.Fatalf("expected balance to match journal, got %+v", audit)
	}
}
