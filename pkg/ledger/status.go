package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/events"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// Reconcile recomputes the loan's balances and statuses and saves them.
// Calling it on an already reconciled loan changes nothing but UpdatedAt.
func (l *Ledger) Reconcile(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	return l.mutate(ctx, loanID, "reconcile", func(*models.Loan, *effects) error { return nil })
}

// Close closes a fully repaid loan. Reconciliation closes such loans on its
// own; Close is the explicit form and fails while anything is owed.
func (l *Ledger) Close(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	return l.mutate(ctx, loanID, "close", func(loan *models.Loan, _ *effects) error {
		if loan.Status == models.LoanClosed {
			return apperrors.Validation("status", "loan is already closed")
		}
		if loan.Status == models.LoanPendingDisbursement || loan.Status == models.LoanWrittenOff {
			return apperrors.Validation("status", "a %s loan cannot be closed", loan.Status)
		}
		if loan.RemainingBalance.Sign() > 0 {
			return apperrors.Validation("remaining_balance", "loan still owes %s", loan.RemainingBalance.StringFixed(2))
		}
		now := l.clock.Now()
		loan.Status = models.LoanClosed
		loan.ClosedAt = &now
		return nil
	})
}

// MarkDefaulted moves an active or overdue loan to DEFAULTED. Balances keep
// being tracked and payments can still be reversed, but no new postings are
// taken.
func (l *Ledger) MarkDefaulted(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	return l.mutate(ctx, loanID, "mark_defaulted", func(loan *models.Loan, _ *effects) error {
		if loan.Status != models.LoanActive && loan.Status != models.LoanOverdue {
			return apperrors.Validation("status", "cannot default a %s loan", loan.Status)
		}
		loan.Status = models.LoanDefaulted
		return nil
	})
}

// WriteOff recognises the remaining balance of a loan as a loss and posts a
// WRITE_OFF entry for it.
func (l *Ledger) WriteOff(ctx context.Context, loanID uuid.UUID, actor, reason string) (*models.Transaction, error) {
	var entry *models.Transaction
	_, err := l.mutate(ctx, loanID, "write_off", func(loan *models.Loan, fx *effects) error {
		switch loan.Status {
		case models.LoanActive, models.LoanOverdue, models.LoanDefaulted:
		default:
			return apperrors.Validation("status", "cannot write off a %s loan", loan.Status)
		}
		now := l.clock.Now()
		fees := decimal.Zero
		for _, inst := range loan.Schedule {
			fees = fees.Add(inst.OutstandingFee())
		}

		entry = newTransaction(loan, models.TransactionTypeWriteOff, loan.RemainingBalance, l.today(), now, actor)
		entry.FeeAmount = fees
		entry.Notes = reason
		loan.Transactions = append(loan.Transactions, entry)
		loan.Status = models.LoanWrittenOff
		loan.ClosedAt = &now

		fx.events.Record(events.New(events.LoanWrittenOff, loan.ID, loan.LoanNumber, now, map[string]any{
			"amount": loan.RemainingBalance.StringFixed(2),
			"fees":   fees.StringFixed(2),
			"reason": reason,
		}))
		fx.notice(fmt.Sprintf("Loan %s written off", loan.LoanNumber), fmt.Sprintf(
			"Loan %s has been written off with %s outstanding.", loan.LoanNumber, loan.RemainingBalance.StringFixed(2)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}
