package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// reconcile derives every balance and status field of the loan from its
// schedule and transactions. It is the only writer of those fields and gives
// the same result when run twice on the same input.
func reconcile(loan *models.Loan, today, now time.Time) {
	sort.SliceStable(loan.Schedule, func(i, j int) bool {
		return loan.Schedule[i].Number < loan.Schedule[j].Number
	})

	paid := decimal.Zero
	for _, txn := range loan.Transactions {
		if txn.Reversed {
			continue
		}
		if txn.Type == models.TransactionTypePrincipalPayment || txn.Type == models.TransactionTypeInterestPayment {
			paid = paid.Add(txn.Amount)
		}
	}
	loan.TotalPaidAmount = paid
	loan.RemainingBalance = decimal.Max(loan.TotalRepaymentAmount.Sub(paid), decimal.Zero)

	overdue := decimal.Zero
	var next *time.Time
	for _, inst := range loan.Schedule {
		refreshInstallment(inst, today)
		if inst.Status == models.InstallmentPaid {
			continue
		}
		if inst.DueDate.Before(today) {
			overdue = overdue.Add(inst.Outstanding())
		}
		if next == nil || inst.DueDate.Before(*next) {
			due := inst.DueDate
			next = &due
		}
	}
	loan.OverdueAmount = overdue
	loan.NextPaymentDate = next

	switch loan.Status {
	case models.LoanPendingDisbursement, models.LoanDefaulted, models.LoanWrittenOff:
	default:
		if loan.RemainingBalance.Sign() <= 0 {
			loan.Status = models.LoanClosed
			if loan.ClosedAt == nil {
				loan.ClosedAt = &now
			}
			break
		}
		if loan.Status == models.LoanClosed {
			// Only a reversal can reopen a closed loan.
			loan.Status = models.LoanActive
			loan.ClosedAt = nil
		}
		if loan.Status == models.LoanActive && overdue.Sign() > 0 {
			loan.Status = models.LoanOverdue
		} else if loan.Status == models.LoanOverdue && overdue.Sign() <= 0 {
			loan.Status = models.LoanActive
		}
	}

	loan.DaysOverdue = 0
	if loan.Status == models.LoanOverdue && next != nil {
		loan.DaysOverdue = interest.DaysBetween(*next, today, models.Actual365)
	}
}

// refreshInstallment derives an installment's status from what is paid and
// when it falls due.
func refreshInstallment(inst *models.Installment, today time.Time) {
	inst.SyncTotalPaid()
	switch {
	case inst.Settled():
		inst.Status = models.InstallmentPaid
		return
	case inst.DueDate.Before(today):
		inst.Status = models.InstallmentOverdue
	case inst.DueDate.Equal(today):
		inst.Status = models.InstallmentDue
	case inst.TotalPaid.Sign() > 0:
		inst.Status = models.InstallmentPartiallyPaid
	default:
		inst.Status = models.InstallmentPending
	}
	inst.PaymentDate = nil
}

// verify checks the ledger invariants after reconciliation.
func verify(loan *models.Loan) error {
	type sums struct{ principal, interest, feePaid, feeCharged decimal.Decimal }
	linked := make(map[uuid.UUID]*sums)
	for _, txn := range loan.Transactions {
		if txn.Reversed || txn.InstallmentID == nil {
			continue
		}
		s, ok := linked[*txn.InstallmentID]
		if !ok {
			s = &sums{decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero}
			linked[*txn.InstallmentID] = s
		}
		switch txn.Type {
		case models.TransactionTypePrincipalPayment:
			s.principal = s.principal.Add(txn.Amount)
		case models.TransactionTypeInterestPayment:
			s.interest = s.interest.Add(txn.Amount)
		case models.TransactionTypeLateFeePayment:
			s.feePaid = s.feePaid.Add(txn.Amount)
		case models.TransactionTypePenaltyCharge:
			s.feeCharged = s.feeCharged.Add(txn.Amount)
		}
	}

	scheduleTotal := decimal.Zero
	seen := make(map[int]bool, len(loan.Schedule))
	for _, inst := range loan.Schedule {
		if seen[inst.Number] {
			return apperrors.Consistency("installment_number", "installment %d appears twice", inst.Number)
		}
		seen[inst.Number] = true
		scheduleTotal = scheduleTotal.Add(inst.TotalAmount)

		if !inst.TotalAmount.Equal(inst.PrincipalAmount.Add(inst.InterestAmount)) {
			return apperrors.Consistency("installment_total", "installment %d total %s != principal %s + interest %s",
				inst.Number, inst.TotalAmount, inst.PrincipalAmount, inst.InterestAmount)
		}
		if !inst.TotalPaid.Equal(inst.PaidPrincipal.Add(inst.PaidInterest).Add(inst.PaidLateFee)) {
			return apperrors.Consistency("installment_paid", "installment %d total paid %s does not match its parts", inst.Number, inst.TotalPaid)
		}
		if inst.TotalPaid.GreaterThan(inst.TotalAmount.Add(inst.LateFeeAmount)) {
			return apperrors.Consistency("installment_overpaid", "installment %d paid %s exceeds %s + fee %s",
				inst.Number, inst.TotalPaid, inst.TotalAmount, inst.LateFeeAmount)
		}
		if inst.OutstandingPrincipal().Sign() < 0 || inst.OutstandingInterest().Sign() < 0 || inst.OutstandingFee().Sign() < 0 {
			return apperrors.Consistency("installment_bucket", "installment %d has a negative outstanding bucket", inst.Number)
		}

		s := linked[inst.ID]
		if s == nil {
			s = &sums{decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero}
		}
		if !s.principal.Equal(inst.PaidPrincipal) || !s.interest.Equal(inst.PaidInterest) ||
			!s.feePaid.Equal(inst.PaidLateFee) || !s.feeCharged.Equal(inst.LateFeeAmount) {
			return apperrors.Consistency("ledger_sum", "installment %d paid fields disagree with its transactions", inst.Number)
		}
	}

	if len(loan.Schedule) > 0 && !scheduleTotal.Equal(loan.TotalRepaymentAmount) {
		return apperrors.Consistency("schedule_sum", "installment totals %s != total repayment %s", scheduleTotal, loan.TotalRepaymentAmount)
	}
	want := decimal.Max(loan.TotalRepaymentAmount.Sub(loan.TotalPaidAmount), decimal.Zero)
	if !loan.RemainingBalance.Equal(want) {
		return apperrors.Consistency("remaining_balance", "remaining %s != repayment %s - paid %s",
			loan.RemainingBalance, loan.TotalRepaymentAmount, loan.TotalPaidAmount)
	}
	return nil
}
