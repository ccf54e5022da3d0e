package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/events"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/sirupsen/logrus"
)

// ReverseTransaction flags a posted payment or penalty as reversed and backs
// its amount out of the installment it was applied to. The entry itself is
// kept. Reversing a penalty leaves the installment's late-fee flag set, so
// the fee is waived rather than charged again. A late fee payment on a
// closed loan is only reversible once the loan has been reopened.
func (l *Ledger) ReverseTransaction(ctx context.Context, loanID, txnID uuid.UUID, actor, reason string) (*models.Transaction, error) {
	if reason == "" {
		return nil, apperrors.Validation("reason", "is required")
	}

	var reversed *models.Transaction
	_, err := l.mutate(ctx, loanID, "reverse_transaction", func(loan *models.Loan, fx *effects) error {
		txn := loan.Transaction(txnID)
		if txn == nil {
			return fmt.Errorf("transaction %s on loan %s: %w", txnID, loanID, apperrors.ErrNotFound)
		}
		if !txn.Type.Reversible() {
			return apperrors.Validation("type", "%s transactions cannot be reversed", txn.Type)
		}
		if txn.Reversed {
			return apperrors.Validation("transaction_id", "transaction %s is already reversed", txn.ID)
		}
		// A closed loan takes no payments, so a fee put back on it could never
		// be settled. Reopening it through a principal or interest reversal
		// comes first.
		if txn.Type == models.TransactionTypeLateFeePayment && loan.Status == models.LoanClosed {
			return apperrors.Validation("transaction_id",
				"late fee payments on a CLOSED loan can only be reversed after the loan is reopened")
		}

		if txn.InstallmentID != nil {
			inst := loan.Installment(*txn.InstallmentID)
			if inst == nil {
				return apperrors.Consistency("installment_link", "transaction %s points at missing installment %s",
					txn.ID, *txn.InstallmentID)
			}
			switch txn.Type {
			case models.TransactionTypePrincipalPayment:
				inst.PaidPrincipal = inst.PaidPrincipal.Sub(txn.Amount)
			case models.TransactionTypeInterestPayment:
				inst.PaidInterest = inst.PaidInterest.Sub(txn.Amount)
			case models.TransactionTypeLateFeePayment:
				inst.PaidLateFee = inst.PaidLateFee.Sub(txn.Amount)
			case models.TransactionTypePenaltyCharge:
				if inst.LateFeeAmount.Sub(txn.Amount).LessThan(inst.PaidLateFee) {
					return apperrors.Validation("transaction_id",
						"late fee payments on installment %d must be reversed before the charge", inst.Number)
				}
				inst.LateFeeAmount = inst.LateFeeAmount.Sub(txn.Amount)
			}
			inst.SyncTotalPaid()
		}

		now := l.clock.Now()
		txn.Reversed = true
		txn.ReversalReason = reason
		txn.ReversedAt = &now
		txn.ReversedBy = actor
		reversed = txn

		fx.events.Record(events.New(events.TransactionReversed, loan.ID, loan.LoanNumber, now, map[string]any{
			"transaction_id": txn.ID,
			"type":           txn.Type,
			"amount":         txn.Amount.StringFixed(2),
			"reason":         reason,
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{
		"loan_id":        loanID,
		"transaction_id": txnID,
		"actor":          actor,
	}).Info("transaction reversed")
	return reversed, nil
}
