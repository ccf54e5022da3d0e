// Package credit scores a client's capacity to take on a new loan.
package credit

import (
	"time"

	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// Rating buckets a score; A is the strongest.
type Rating string

const (
	RatingA Rating = "A"
	RatingB Rating = "B"
	RatingC Rating = "C"
	RatingD Rating = "D"
)

func (r Rating) rank() int {
	switch r {
	case RatingA:
		return 0
	case RatingB:
		return 1
	case RatingC:
		return 2
	}
	return 3
}

// Valid reports whether r is a known rating.
func (r Rating) Valid() bool {
	switch r {
	case RatingA, RatingB, RatingC, RatingD:
		return true
	}
	return false
}

// Standing, transaction history and collateral are not tracked here; every
// client gets the neutral credit for them (8 + 15 + 7).
const baseScore = 30

// Policy turns a score into a lending decision.
type Policy struct {
	// SavingsMultiplier caps a loan at this multiple of the savings balance.
	SavingsMultiplier decimal.Decimal
	// MinRating is the weakest rating still allowed to borrow.
	MinRating Rating
}

// DefaultPolicy lends up to three times savings to clients rated C or better.
func DefaultPolicy() Policy {
	return Policy{SavingsMultiplier: decimal.NewFromInt(3), MinRating: RatingC}
}

// Assessment is the outcome of scoring one loan application.
type Assessment struct {
	ClientRef     string          `json:"client_ref"`
	Amount        decimal.Decimal `json:"amount"`
	Score         decimal.Decimal `json:"score"`
	Rating        Rating          `json:"rating"`
	MaxLoanAmount decimal.Decimal `json:"max_loan_amount"`
	Approved      bool            `json:"approved"`
	Reason        string          `json:"reason"`
}

// Assess scores a request for amount by client, whose earlier loans are
// existing, and decides it under p.
func (p Policy) Assess(client *models.Client, amount decimal.Decimal, existing []*models.Loan, asOf time.Time) Assessment {
	score := Score(client, amount, existing, asOf)
	a := Assessment{
		ClientRef:     client.Ref,
		Amount:        amount,
		Score:         score,
		Rating:        RatingFor(score),
		MaxLoanAmount: p.MaxLoanAmount(client),
		Approved:      true,
		Reason:        "within credit limit",
	}
	switch {
	case a.Rating.rank() > p.MinRating.rank():
		a.Approved = false
		a.Reason = "credit rating " + string(a.Rating) + " is below the minimum " + string(p.MinRating)
	case amount.GreaterThan(a.MaxLoanAmount):
		a.Approved = false
		a.Reason = "requested amount exceeds the maximum of " + a.MaxLoanAmount.StringFixed(2)
	}
	return a
}

// MaxLoanAmount is the savings balance times the policy multiplier, in whole
// currency units.
func (p Policy) MaxLoanAmount(client *models.Client) decimal.Decimal {
	limit := client.Balance.Mul(p.SavingsMultiplier).Floor()
	return decimal.Max(limit, decimal.Zero)
}

// Score rates a client from 0 to 100 for a loan of amount.
func Score(client *models.Client, amount decimal.Decimal, existing []*models.Loan, asOf time.Time) decimal.Decimal {
	score := decimal.NewFromInt(baseScore)
	score = score.Add(relationshipScore(existing, asOf))
	score = score.Add(savingsScore(client.Balance, amount))
	if client.Balance.Sign() > 0 {
		score = score.Add(decimal.NewFromInt(7))
	} else {
		score = score.Add(decimal.NewFromInt(3))
	}
	score = score.Add(historyScore(client.Balance, amount, existing))

	score = decimal.Min(decimal.Max(score, decimal.Zero), decimal.NewFromInt(100))
	return score.Round(2)
}

// RatingFor maps a score onto its rating.
func RatingFor(score decimal.Decimal) Rating {
	switch {
	case score.GreaterThanOrEqual(decimal.NewFromInt(80)):
		return RatingA
	case score.GreaterThanOrEqual(decimal.NewFromInt(60)):
		return RatingB
	case score.GreaterThanOrEqual(decimal.NewFromInt(40)):
		return RatingC
	}
	return RatingD
}

// relationshipScore credits how long ago the client's first loan was opened.
func relationshipScore(existing []*models.Loan, asOf time.Time) decimal.Decimal {
	var first time.Time
	for _, loan := range existing {
		if first.IsZero() || loan.CreatedAt.Before(first) {
			first = loan.CreatedAt
		}
	}
	days := 0
	if !first.IsZero() {
		days = interest.DaysBetween(first, asOf, models.Actual365)
	}
	switch {
	case days >= 365:
		return decimal.NewFromInt(20)
	case days >= 180:
		return decimal.NewFromInt(16)
	case days >= 90:
		return decimal.NewFromInt(12)
	case days >= 30:
		return decimal.NewFromInt(8)
	}
	return decimal.NewFromInt(4)
}

func savingsScore(balance, amount decimal.Decimal) decimal.Decimal {
	steps := []struct{ share, points int64 }{{50, 10}, {30, 8}, {20, 6}, {10, 4}}
	for _, s := range steps {
		if balance.GreaterThanOrEqual(amount.Mul(decimal.New(s.share, -2))) {
			return decimal.NewFromInt(s.points)
		}
	}
	return decimal.NewFromInt(2)
}

// historyScore weighs open debt against savings and counts past defaults.
// A client with no loan history gets the full 25.
func historyScore(balance, amount decimal.Decimal, existing []*models.Loan) decimal.Decimal {
	if len(existing) == 0 {
		return decimal.NewFromInt(25)
	}
	debt := amount
	defaults := 0
	for _, loan := range existing {
		switch loan.Status {
		case models.LoanActive, models.LoanOverdue:
			debt = debt.Add(loan.RemainingBalance)
		case models.LoanDefaulted, models.LoanWrittenOff:
			defaults++
		}
	}

	points := decimal.Zero
	if debt.Sign() > 0 {
		coverage := balance.DivRound(debt, 4)
		steps := []struct {
			ratio  string
			points int64
		}{{"1", 15}, {"0.5", 10}, {"0.3", 6}, {"0.2", 3}}
		for _, s := range steps {
			if coverage.GreaterThanOrEqual(decimal.RequireFromString(s.ratio)) {
				points = decimal.NewFromInt(s.points)
				break
			}
		}
	}
	switch defaults {
	case 0:
		points = points.Add(decimal.NewFromInt(10))
	case 1:
		points = points.Add(decimal.NewFromInt(5))
	}
	return points
}
