package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/events"
	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// lateFee returns the fee an installment would attract as of asOf, or zero if
// it is not yet past its grace period.
func lateFee(inst *models.Installment, percent decimal.Decimal, asOf time.Time) decimal.Decimal {
	if inst.Outstanding().Sign() <= 0 {
		return decimal.Zero
	}
	if !inst.DueDate.Before(asOf) {
		return decimal.Zero
	}
	if !asOf.After(inst.DueDate.AddDate(0, 0, inst.GracePeriodDays)) {
		return decimal.Zero
	}
	return interest.Round(inst.Outstanding().Mul(percent).Div(decimal.NewFromInt(100)))
}

// CalculateLateFees returns the late fees the loan's overdue installments
// attract as of asOf, whether or not they were already charged. It changes
// nothing.
func (l *Ledger) CalculateLateFees(ctx context.Context, loanID uuid.UUID, asOf time.Time) (decimal.Decimal, error) {
	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return decimal.Zero, err
	}
	if asOf.IsZero() {
		asOf = l.today()
	}
	asOf = models.Date(asOf)

	total := decimal.Zero
	for _, inst := range loan.Schedule {
		total = total.Add(lateFee(inst, loan.Terms.LateFeePercent, asOf))
	}
	return total, nil
}

// ApplyLateFees charges a late fee on every installment past its grace period
// that has not been charged yet, and derives the loan's status as of asOf.
// Running it again for the same date charges nothing new.
func (l *Ledger) ApplyLateFees(ctx context.Context, loanID uuid.UUID, asOf time.Time) ([]*models.Transaction, error) {
	if asOf.IsZero() {
		asOf = l.today()
	}
	asOf = models.Date(asOf)

	var charged []*models.Transaction
	total := decimal.Zero
	loan, err := l.mutateAsOf(ctx, loanID, "apply_late_fees", asOf, func(loan *models.Loan, fx *effects) error {
		if loan.Status != models.LoanActive && loan.Status != models.LoanOverdue {
			return apperrors.Validation("status", "late fees apply to active or overdue loans, loan is %s", loan.Status)
		}
		now := l.clock.Now()
		for _, inst := range loan.Schedule {
			if inst.LateFeeApplied {
				continue
			}
			fee := lateFee(inst, loan.Terms.LateFeePercent, asOf)
			if fee.Sign() <= 0 {
				continue
			}
			txn := newTransaction(loan, models.TransactionTypePenaltyCharge, fee, asOf, now, systemActor)
			id := inst.ID
			txn.InstallmentID = &id
			txn.FeeAmount = fee
			txn.Notes = fmt.Sprintf("late fee on installment %d", inst.Number)
			loan.Transactions = append(loan.Transactions, txn)

			inst.LateFeeAmount = inst.LateFeeAmount.Add(fee)
			inst.LateFeeApplied = true
			charged = append(charged, txn)
			total = total.Add(fee)
		}
		if len(charged) == 0 {
			return nil
		}

		fx.events.Record(events.New(events.LateFeesApplied, loan.ID, loan.LoanNumber, now, map[string]any{
			"as_of":        asOf.Format(time.DateOnly),
			"total":        total.StringFixed(2),
			"installments": len(charged),
		}))
		fx.notice(fmt.Sprintf("Late fee charged on loan %s", loan.LoanNumber), fmt.Sprintf(
			"A late fee of %s has been charged on loan %s for %d overdue installment(s) as of %s.",
			total.StringFixed(2), loan.LoanNumber, len(charged), asOf.Format(time.DateOnly)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(charged) > 0 {
		l.metrics.LateFeeCharged(total)
		l.logger.WithFields(logrus.Fields{
			"loan_id":      loan.ID,
			"total":        total.StringFixed(2),
			"installments": len(charged),
		}).Info("late fees applied")
	}
	return charged, nil
}
