package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/schedule"
	"github.com/shopspring/decimal"
)

// EarlyRepaymentQuote estimates what an early principal repayment saves.
type EarlyRepaymentQuote struct {
	Amount                decimal.Decimal       `json:"amount"`
	AccruedInterest       decimal.Decimal       `json:"accrued_interest"`
	InterestSavings       decimal.Decimal       `json:"interest_savings"`
	Penalty               decimal.Decimal       `json:"penalty"`
	NetSavings            decimal.Decimal       `json:"net_savings"`
	RemainingInstallments int                   `json:"remaining_installments"`
	NewSchedule           []*models.Installment `json:"new_schedule,omitempty"`
}

// QuoteEarlyRepayment compares the interest still owed on the unsettled
// installments against a reducing-balance schedule over the principal left
// after paying amount on date. AccruedInterest is the reducing-balance
// interest earned from disbursement to date given the principal repaid so
// far. It records nothing.
func (l *Ledger) QuoteEarlyRepayment(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal, date time.Time) (*EarlyRepaymentQuote, error) {
	if err := validateAmount("amount", amount); err != nil {
		return nil, err
	}
	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanActive && loan.Status != models.LoanOverdue {
		return nil, apperrors.Validation("status", "cannot quote early repayment on a %s loan", loan.Status)
	}
	if date.IsZero() {
		date = l.today()
	}
	date = models.Date(date)

	q := &EarlyRepaymentQuote{Amount: amount}
	oldInterest, principal := decimal.Zero, decimal.Zero
	for _, inst := range loan.Schedule {
		if inst.Settled() {
			continue
		}
		q.RemainingInstallments++
		oldInterest = oldInterest.Add(inst.OutstandingInterest())
		principal = principal.Add(inst.OutstandingPrincipal())
	}
	if amount.GreaterThan(principal) {
		return nil, apperrors.Validation("amount", "%s exceeds the outstanding principal %s",
			amount.StringFixed(2), principal.StringFixed(2))
	}

	left := principal.Sub(amount)
	if left.Sign() <= 0 {
		q.InterestSavings = oldInterest
	} else {
		built, err := schedule.Build(schedule.Params{
			LoanID:          loan.ID,
			Principal:       left,
			AnnualRate:      loan.InterestRate,
			TermDays:        q.RemainingInstallments * 30,
			InterestType:    models.InterestReducingBalance,
			DayCount:        loan.Terms.DayCount,
			Start:           date,
			GracePeriodDays: loan.Terms.GracePeriodDays,
		})
		if err != nil {
			return nil, err
		}
		q.NewSchedule = built.Installments
		q.InterestSavings = decimal.Max(oldInterest.Sub(built.TotalInterest), decimal.Zero)
	}
	accrued, err := accruedInterest(loan, date)
	if err != nil {
		return nil, err
	}
	q.AccruedInterest = accrued
	q.Penalty = interest.Round(amount.Mul(loan.Terms.EarlyRepaymentPenaltyPercent).Div(decimal.NewFromInt(100)))
	q.NetSavings = q.InterestSavings.Sub(q.Penalty)
	return q, nil
}

func accruedInterest(loan *models.Loan, date time.Time) (decimal.Decimal, error) {
	if loan.DisbursementDate == nil {
		return decimal.Zero, nil
	}
	var repaid []interest.Repayment
	for _, txn := range loan.Transactions {
		if txn.Reversed || txn.Type != models.TransactionTypePrincipalPayment || txn.ValueDate.After(date) {
			continue
		}
		repaid = append(repaid, interest.Repayment{Date: txn.ValueDate, Amount: txn.Amount})
	}
	return interest.ReducingBalanceInterest(loan.Principal, loan.InterestRate, *loan.DisbursementDate, date,
		repaid, loan.Terms.DayCount)
}
