package interest

import (
	"sort"
	"time"

	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	// moneyPlaces is the number of decimal places every money cell is rounded to.
	moneyPlaces = 2
	// ratePlaces bounds intermediate precision for periodic rates and growth factors.
	ratePlaces = 30
)

var (
	hundred       = decimal.NewFromInt(100)
	monthsPerYear = decimal.NewFromInt(12)
)

// Round rounds a money amount half-up to cents. Amounts in the ledger are
// never negative when rounded, so rounding half away from zero is half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// FlatInterest is simple interest on the full principal for the given days:
// principal * rate/100 * days / daysInYear, rounded once at the end.
func FlatInterest(principal, annualRatePct decimal.Decimal, days int, method models.DayCountMethod) decimal.Decimal {
	if days <= 0 || principal.Sign() <= 0 {
		return decimal.Zero
	}
	numerator := principal.Mul(annualRatePct).Mul(decimal.NewFromInt(int64(days)))
	denominator := hundred.Mul(decimal.NewFromInt(int64(DaysInYear(method))))
	return Round(numerator.DivRound(denominator, ratePlaces))
}

// MonthlyRate converts an annual percentage into a monthly fraction.
func MonthlyRate(annualRatePct decimal.Decimal) decimal.Decimal {
	return annualRatePct.DivRound(hundred.Mul(monthsPerYear), ratePlaces)
}

// AmortizedPayment returns the level periodic payment that repays principal
// over the given number of monthly periods. With a zero rate it is an even split.
func AmortizedPayment(principal, annualRatePct decimal.Decimal, periods int) (decimal.Decimal, error) {
	if periods <= 0 {
		return decimal.Zero, apperrors.Validation("term_periods", "must be positive, got %d", periods)
	}
	n := decimal.NewFromInt(int64(periods))
	r := MonthlyRate(annualRatePct)
	if r.IsZero() {
		return Round(principal.DivRound(n, ratePlaces)), nil
	}
	factor := Compound(r, periods)
	payment := principal.Mul(r).Mul(factor).DivRound(factor.Sub(decimal.NewFromInt(1)), ratePlaces)
	return Round(payment), nil
}

// Compound returns (1+r)^n with bounded intermediate precision.
func Compound(r decimal.Decimal, n int) decimal.Decimal {
	base := decimal.NewFromInt(1).Add(r)
	out := decimal.NewFromInt(1)
	for i := 0; i < n; i++ {
		out = out.Mul(base).Round(ratePlaces)
	}
	return out
}

// Repayment is a dated principal repayment used by ReducingBalanceInterest.
type Repayment struct {
	Date   time.Time
	Amount decimal.Decimal
}

// ReducingBalanceInterest accrues daily interest on a declining principal.
// Each repayment dated after the previous accrual point reduces the principal
// after the interest for the elapsed days has been charged; the final stretch
// runs from the last repayment to end.
func ReducingBalanceInterest(principal, annualRatePct decimal.Decimal, start, end time.Time, repayments []Repayment, method models.DayCountMethod) (decimal.Decimal, error) {
	if principal.Sign() < 0 {
		return decimal.Zero, apperrors.Validation("principal", "must not be negative")
	}
	for _, r := range repayments {
		if r.Amount.Sign() < 0 {
			return decimal.Zero, apperrors.Validation("repayments", "amount must not be negative")
		}
	}
	dailyRate := annualRatePct.DivRound(hundred.Mul(decimal.NewFromInt(int64(DaysInYear(method)))), ratePlaces)

	sorted := append([]Repayment(nil), repayments...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	current := principal
	cursor := models.Date(start)
	total := decimal.Zero
	for _, r := range sorted {
		d := models.Date(r.Date)
		if !d.After(cursor) {
			continue
		}
		days := DaysBetween(cursor, d, method)
		total = total.Add(current.Mul(dailyRate).Mul(decimal.NewFromInt(int64(days))))
		current = decimal.Max(current.Sub(r.Amount), decimal.Zero)
		cursor = d
	}
	if days := DaysBetween(cursor, end, method); days > 0 {
		total = total.Add(current.Mul(dailyRate).Mul(decimal.NewFromInt(int64(days))))
	}
	return Round(total), nil
}
