// Package schedule builds repayment schedules for loans.
package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// Params describes the loan a schedule is built for.
type Params struct {
	LoanID          uuid.UUID
	Principal       decimal.Decimal
	AnnualRate      decimal.Decimal
	TermDays        int
	InterestType    models.InterestType
	DayCount        models.DayCountMethod
	Start           time.Time
	GracePeriodDays int
	// FirstNumber is the installment number of the first entry. Zero means 1.
	FirstNumber int
}

// Result is a built schedule with its totals.
type Result struct {
	Installments   []*models.Installment
	TotalInterest  decimal.Decimal
	TotalRepayment decimal.Decimal
}

type builderFunc func(p Params) ([]*models.Installment, error)

var builders = map[models.InterestType]builderFunc{
	models.InterestFlat:            buildFlat,
	models.InterestReducingBalance: buildReducingBalance,
}

// Build produces the schedule for p using the algorithm of its interest type.
func Build(p Params) (*Result, error) {
	build, ok := builders[p.InterestType]
	if !ok {
		return nil, apperrors.Validation("interest_type", "unsupported interest type %q", p.InterestType)
	}
	if p.TermDays <= 0 {
		return nil, apperrors.Validation("term_days", "must be positive, got %d", p.TermDays)
	}
	if p.Principal.Sign() <= 0 {
		return nil, apperrors.Validation("principal", "must be positive, got %s", p.Principal)
	}
	if p.AnnualRate.Sign() < 0 {
		return nil, apperrors.Validation("annual_rate", "must not be negative, got %s", p.AnnualRate)
	}
	if p.FirstNumber == 0 {
		p.FirstNumber = 1
	}
	p.Start = models.Date(p.Start)

	installments, err := build(p)
	if err != nil {
		return nil, err
	}
	res := &Result{Installments: installments, TotalInterest: decimal.Zero, TotalRepayment: decimal.Zero}
	principal := decimal.Zero
	for _, inst := range installments {
		principal = principal.Add(inst.PrincipalAmount)
		res.TotalInterest = res.TotalInterest.Add(inst.InterestAmount)
		res.TotalRepayment = res.TotalRepayment.Add(inst.TotalAmount)
	}
	if !principal.Equal(p.Principal) {
		return nil, apperrors.Consistency("schedule_principal", "installment principal %s != loan principal %s", principal, p.Principal)
	}
	if !res.TotalRepayment.Equal(p.Principal.Add(res.TotalInterest)) {
		return nil, apperrors.Consistency("schedule_sum", "installment totals %s != principal + interest %s",
			res.TotalRepayment, p.Principal.Add(res.TotalInterest))
	}
	return res, nil
}

// FlatPlan returns the installment count and spacing in days for a flat loan.
func FlatPlan(termDays int) (count, spacing int) {
	switch {
	case termDays <= 30:
		return 4, 7
	case termDays <= 90:
		return 12, termDays / 12
	default:
		return termDays / 30, 30
	}
}

// ReducingPeriods returns the number of monthly periods for a reducing-balance loan.
func ReducingPeriods(termDays int) int {
	return max(termDays/30, 1)
}

func buildFlat(p Params) ([]*models.Installment, error) {
	count, spacing := FlatPlan(p.TermDays)
	if count <= 0 {
		return nil, apperrors.Validation("term_days", "term of %d days yields no installments", p.TermDays)
	}
	totalInterest := interest.FlatInterest(p.Principal, p.AnnualRate, p.TermDays, p.DayCount)
	n := decimal.NewFromInt(int64(count))
	principalEach := interest.Round(p.Principal.DivRound(n, 16))
	interestEach := interest.Round(totalInterest.DivRound(n, 16))

	out := make([]*models.Installment, 0, count)
	principalSoFar, interestSoFar := decimal.Zero, decimal.Zero
	for i := 1; i <= count; i++ {
		principal, intr := principalEach, interestEach
		if i == count {
			principal = p.Principal.Sub(principalSoFar)
			intr = totalInterest.Sub(interestSoFar)
			if principal.Sign() < 0 || intr.Sign() < 0 {
				return nil, apperrors.Validation("principal", "%s is too small to split into %d installments", p.Principal, count)
			}
		}
		principalSoFar = principalSoFar.Add(principal)
		interestSoFar = interestSoFar.Add(intr)
		out = append(out, newInstallment(p, p.FirstNumber+i-1, p.Start.AddDate(0, 0, i*spacing), principal, intr))
	}
	return out, nil
}

func buildReducingBalance(p Params) ([]*models.Installment, error) {
	periods := ReducingPeriods(p.TermDays)
	payment, err := interest.AmortizedPayment(p.Principal, p.AnnualRate, periods)
	if err != nil {
		return nil, fmt.Errorf("failed to compute periodic payment: %w", err)
	}
	rate := interest.MonthlyRate(p.AnnualRate)

	out := make([]*models.Installment, 0, periods)
	outstanding := p.Principal
	for i := 1; i <= periods; i++ {
		intr := interest.Round(outstanding.Mul(rate))
		principal := decimal.Max(payment.Sub(intr), decimal.Zero)
		if i == periods || principal.GreaterThan(outstanding) {
			principal = outstanding
		}
		outstanding = outstanding.Sub(principal)
		out = append(out, newInstallment(p, p.FirstNumber+i-1, AddMonths(p.Start, i), principal, intr))
	}
	if !outstanding.IsZero() {
		return nil, apperrors.Consistency("terminal_balance", "schedule leaves %s outstanding", outstanding)
	}
	return out, nil
}

func newInstallment(p Params, number int, due time.Time, principal, intr decimal.Decimal) *models.Installment {
	return &models.Installment{
		ID:              uuid.New(),
		LoanID:          p.LoanID,
		Number:          number,
		DueDate:         due,
		PrincipalAmount: principal,
		InterestAmount:  intr,
		TotalAmount:     principal.Add(intr),
		PaidPrincipal:   decimal.Zero,
		PaidInterest:    decimal.Zero,
		PaidLateFee:     decimal.Zero,
		TotalPaid:       decimal.Zero,
		LateFeeAmount:   decimal.Zero,
		Status:          models.InstallmentPending,
		GracePeriodDays: p.GracePeriodDays,
	}
}

// AddMonths adds n calendar months to t, clamping to the last day of the
// target month instead of overflowing into the next one.
func AddMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	lastDay := first.AddDate(0, 1, -1).Day()
	return time.Date(first.Year(), first.Month(), min(t.Day(), lastDay), 0, 0, 0, 0, time.UTC)
}
