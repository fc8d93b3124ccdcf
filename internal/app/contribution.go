package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
	"github.com/stokvel/wallet-service/pkg/groupclient"
)

const groupNotifyTimeout = 10 * time.Second

// ErrGroupNotFound is returned when the group service does not know the group.
var ErrGroupNotFound = fmt.Errorf("group %w", store.ErrNotFound)

// GroupDirectory is the part of the group service contributions depend on.
type GroupDirectory interface {
	Membership(ctx context.Context, groupID, ownerID string) (*domain.GroupMembership, error)
	ConfirmContribution(ctx context.Context, groupID string, notice groupclient.ContributionNotice) error
}

type ContributeInput struct {
	AccountID   uuid.UUID
	OwnerID     string
	GroupID     string
	Amount      int64
	Description string
	Reference   string
}

type ContributionResult struct {
	Message      string                     `json:"message"`
	NewBalance   int64                      `json:"new_balance"`
	Contribution *domain.ContributionRecord `json:"contribution"`
}

// ContributionBridge debits a wallet into a savings-group pool.
type ContributionBridge struct {
	repo   store.Repository
	ledger *Ledger
	groups GroupDirectory
}

func NewContributionBridge(repo store.Repository, ledger *Ledger, groups GroupDirectory) *ContributionBridge {
	return &ContributionBridge{repo: repo, ledger: ledger, groups: groups}
}

// Contribute checks membership, debits the wallet and records the contribution
// in the same unit of work. The group is told afterwards; a failed
// notification never undoes the debit.
func (b *ContributionBridge) Contribute(ctx context.Context, in ContributeInput) (*ContributionResult, error) {
	groupID := strings.TrimSpace(in.GroupID)
	if groupID == "" {
		return nil, invalid("group_id", "is required")
	}
	if in.Amount <= 0 {
		return nil, invalid("amount", "must be greater than zero")
	}
	if err := validateReference(in.Reference); err != nil {
		return nil, err
	}

	if existing, err := b.repo.FindTransactionByReference(ctx, in.AccountID, in.Reference); err == nil {
		return b.replay(ctx, existing, in)
	} else if !errors.Is(err, store.ErrTransactionNotFound) {
		return nil, err
	}

	membership, err := b.groups.Membership(ctx, groupID, in.OwnerID)
	if err != nil {
		if errors.Is(err, groupclient.ErrGroupNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("check group membership: %w", err)
	}
	if !membership.IsMember || !membership.GroupActive {
		return nil, ErrNotGroupMember
	}
	if membership.MinimumContributionCents > 0 && in.Amount < membership.MinimumContributionCents {
		return nil, invalid("amount", "must be at least the group contribution of R%s", domain.FormatAmount(membership.MinimumContributionCents))
	}

	entry := LedgerEntry{
		AccountID:   in.AccountID,
		Type:        domain.TransactionTypeContribution,
		Amount:      in.Amount,
		Fee:         membership.ContributionFeeCents,
		Reference:   in.Reference,
		Description: in.Description,
		GroupID:     &groupID,
	}
	if entry.Description == "" {
		entry.Description = "Contribution to group " + groupID
	}
	if err := validateEntry(entry, false); err != nil {
		return nil, err
	}

	var (
		tx       *domain.Transaction
		record   *domain.ContributionRecord
		replayed bool
	)
	now := b.ledger.now()
	err = b.repo.WithinAccounts(ctx, []uuid.UUID{in.AccountID}, func(ltx store.LedgerTx) error {
		var err error
		tx, replayed, err = b.ledger.debitLocked(ctx, ltx, entry, false, now)
		if err != nil || replayed {
			return err
		}
		record = &domain.ContributionRecord{
			ID:            uuid.New(),
			TransactionID: tx.ID,
			AccountID:     in.AccountID,
			GroupID:       groupID,
			Amount:        tx.Amount,
			Fee:           tx.Fee,
			CreatedAt:     now,
		}
		return ltx.InsertContribution(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		return b.replay(ctx, tx, in)
	}

	log.Printf("level=info component=contribution msg=\"contribution recorded\" contribution_id=%s account_id=%s group_id=%s amount=%d",
		record.ID, in.AccountID, groupID, record.Amount)
	b.ledger.events.TransactionFinalized(tx)
	b.notify(ctx, record, in.OwnerID)
	b.ledger.events.ContributionConfirmed(record, in.OwnerID)

	return b.result(ctx, record)
}

func (b *ContributionBridge) notify(ctx context.Context, record *domain.ContributionRecord, ownerID string) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), groupNotifyTimeout)
	defer cancel()
	err := b.groups.ConfirmContribution(notifyCtx, record.GroupID, groupclient.ContributionNotice{
		ContributionID: record.ID.String(),
		TransactionID:  record.TransactionID.String(),
		UserID:         ownerID,
		AmountCents:    record.Amount,
		ContributedAt:  record.CreatedAt,
	})
	if err != nil {
		log.Printf("level=warn component=contribution msg=\"group notification failed\" contribution_id=%s group_id=%s err=%v", record.ID, record.GroupID, err)
	}
}

func (b *ContributionBridge) replay(ctx context.Context, existing *domain.Transaction, in ContributeInput) (*ContributionResult, error) {
	entry := LedgerEntry{Type: domain.TransactionTypeContribution, Amount: in.Amount, Reference: in.Reference}
	if _, err := replayOf(existing, entry); err != nil {
		return nil, err
	}
	if existing.GroupID == nil || *existing.GroupID != strings.TrimSpace(in.GroupID) {
		return nil, fmt.Errorf("%w: reference %q already used for a different group", store.ErrDuplicateReference, in.Reference)
	}
	record, err := b.repo.FindContributionByTransactionID(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	return b.result(ctx, record)
}

func (b *ContributionBridge) result(ctx context.Context, record *domain.ContributionRecord) (*ContributionResult, error) {
	balance, err := b.ledger.Balance(ctx, record.AccountID)
	if err != nil {
		return nil, err
	}
	return &ContributionResult{Message: "Contribution successful!", NewBalance: balance.Balance, Contribution: record}, nil
}

// Contributions lists the account's contributions, newest first.
func (b *ContributionBridge) Contributions(ctx context.Context, accountID uuid.UUID) ([]domain.ContributionRecord, error) {
	return b.repo.ListContributions(ctx, accountID)
}
