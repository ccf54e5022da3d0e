package ledger

import (
	"sort"
	"time"

	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

var cent = decimal.New(1, -2)

// payment is one incoming amount to be spread over a loan.
type payment struct {
	amount   decimal.Decimal
	date     time.Time
	method   string
	actor    string
	notes    string
	strategy models.AllocationStrategy
	now      time.Time

	// general posts whatever the schedule cannot absorb as an unlinked
	// principal reduction instead of returning it unallocated.
	general bool
}

// allocate splits p over the loan's schedule, updates the installments'
// paid fields and appends the resulting transactions to the loan.
//
// Order: outstanding late fees first, then installments by ascending due date
// (overdue ones therefore before current and future ones), then any leftover
// as a principal reduction. Ties on due date fall back to installment number.
func allocate(loan *models.Loan, p payment) *models.Allocation {
	alloc := &models.Allocation{
		Principal:       decimal.Zero,
		Interest:        decimal.Zero,
		LateFees:        decimal.Zero,
		RemainingAmount: decimal.Zero,
	}
	remaining := p.amount
	record := func(inst *models.Installment, typ models.TransactionType, amount decimal.Decimal) {
		txn := newTransaction(loan, typ, amount, p.date, p.now, p.actor)
		txn.PaymentMethod = p.method
		txn.Notes = p.notes
		if inst != nil {
			id := inst.ID
			txn.InstallmentID = &id
		}
		switch typ {
		case models.TransactionTypePrincipalPayment:
			txn.PrincipalAmount = amount
		case models.TransactionTypeInterestPayment:
			txn.InterestAmount = amount
		case models.TransactionTypeLateFeePayment:
			txn.FeeAmount = amount
		}
		loan.Transactions = append(loan.Transactions, txn)
		alloc.Transactions = append(alloc.Transactions, txn)
	}

	ordered := byDueDate(loan.Schedule)

	for i, fee := range splitFees(ordered, remaining) {
		if fee.Sign() <= 0 {
			continue
		}
		inst := ordered[i]
		inst.PaidLateFee = inst.PaidLateFee.Add(fee)
		alloc.LateFees = alloc.LateFees.Add(fee)
		remaining = remaining.Sub(fee)
		record(inst, models.TransactionTypeLateFeePayment, fee)
	}

	for _, inst := range ordered {
		if remaining.Sign() <= 0 {
			break
		}
		owed := inst.Outstanding()
		if owed.Sign() <= 0 {
			continue
		}
		take := decimal.Min(remaining, owed)
		principal, intr := splitInstallment(inst, take, p.strategy)
		if principal.Sign() > 0 {
			inst.PaidPrincipal = inst.PaidPrincipal.Add(principal)
			alloc.Principal = alloc.Principal.Add(principal)
			record(inst, models.TransactionTypePrincipalPayment, principal)
		}
		if intr.Sign() > 0 {
			inst.PaidInterest = inst.PaidInterest.Add(intr)
			alloc.Interest = alloc.Interest.Add(intr)
			record(inst, models.TransactionTypeInterestPayment, intr)
		}
		remaining = remaining.Sub(take)
	}

	if remaining.Sign() > 0 && p.general {
		// Every installment is covered: the rest reduces principal directly.
		alloc.Principal = alloc.Principal.Add(remaining)
		record(nil, models.TransactionTypePrincipalPayment, remaining)
		remaining = decimal.Zero
	}
	alloc.RemainingAmount = remaining

	for _, inst := range ordered {
		inst.SyncTotalPaid()
		if inst.Settled() && inst.PaymentDate == nil {
			d := models.Date(p.date)
			inst.PaymentDate = &d
		}
	}
	return alloc
}

// splitFees returns how much of amount goes to each installment's
// outstanding late fee. When amount covers all fees every fee is paid in
// full. Otherwise each fee gets its pro-rata share rounded down to the cent,
// and the leftover cents go one at a time to installments in due-date order.
func splitFees(ordered []*models.Installment, amount decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(ordered))
	total := decimal.Zero
	for i, inst := range ordered {
		shares[i] = decimal.Zero
		if fee := inst.OutstandingFee(); fee.Sign() > 0 {
			total = total.Add(fee)
		}
	}
	if total.Sign() <= 0 || amount.Sign() <= 0 {
		return shares
	}
	if amount.GreaterThanOrEqual(total) {
		for i, inst := range ordered {
			if fee := inst.OutstandingFee(); fee.Sign() > 0 {
				shares[i] = fee
			}
		}
		return shares
	}

	given := decimal.Zero
	for i, inst := range ordered {
		fee := inst.OutstandingFee()
		if fee.Sign() <= 0 {
			continue
		}
		shares[i] = amount.Mul(fee).DivRound(total, 16).RoundDown(2)
		given = given.Add(shares[i])
	}
	leftover := amount.Sub(given)
	for leftover.Sign() > 0 {
		moved := false
		for i, inst := range ordered {
			if leftover.Sign() <= 0 {
				break
			}
			if inst.OutstandingFee().Sub(shares[i]).GreaterThanOrEqual(cent) {
				shares[i] = shares[i].Add(cent)
				leftover = leftover.Sub(cent)
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	return shares
}

// splitInstallment divides take between an installment's principal and
// interest buckets. AUTO follows the installment's own principal:interest
// ratio; the other strategies fill one bucket before the other. Neither
// bucket is ever paid past what it still owes.
func splitInstallment(inst *models.Installment, take decimal.Decimal, strategy models.AllocationStrategy) (principal, intr decimal.Decimal) {
	owedP, owedI := inst.OutstandingPrincipal(), inst.OutstandingInterest()
	switch strategy {
	case models.StrategyPrincipalFirst:
		principal = decimal.Min(take, owedP)
		return principal, take.Sub(principal)
	case models.StrategyInterestFirst:
		intr = decimal.Min(take, owedI)
		return take.Sub(intr), intr
	}

	if take.GreaterThanOrEqual(owedP.Add(owedI)) || inst.TotalAmount.Sign() <= 0 {
		return owedP, owedI
	}
	principal = interest.Round(take.Mul(inst.PrincipalAmount).DivRound(inst.TotalAmount, 16))
	if principal.GreaterThan(owedP) {
		principal = owedP
	}
	intr = take.Sub(principal)
	if intr.GreaterThan(owedI) {
		intr = owedI
		principal = take.Sub(intr)
	}
	return principal, intr
}

func byDueDate(schedule []*models.Installment) []*models.Installment {
	out := append([]*models.Installment(nil), schedule...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].Number < out[j].Number
	})
	return out
}
