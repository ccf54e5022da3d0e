package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/events"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/schedule"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RescheduleRequest changes the term, and optionally the rate, of the part of
// a loan that falls due after AsOf.
type RescheduleRequest struct {
	NewTermDays int              `json:"new_term_days"`
	NewRate     *decimal.Decimal `json:"new_rate,omitempty"`
	AsOf        time.Time        `json:"as_of"`
	Actor       string           `json:"actor"`
}

type RescheduleResult struct {
	OldSchedule          []*models.Installment `json:"old_schedule"`
	NewSchedule          []*models.Installment `json:"new_schedule"`
	OutstandingPrincipal decimal.Decimal       `json:"outstanding_principal"`
}

// Reschedule replaces the installments due after AsOf with a new schedule
// over the principal they still carried. Paid history and installments due
// on or before AsOf are left untouched. A future installment that already
// took money is cut down to what was paid on it.
func (l *Ledger) Reschedule(ctx context.Context, loanID uuid.UUID, req RescheduleRequest) (*RescheduleResult, error) {
	if req.NewTermDays <= 0 {
		return nil, apperrors.Validation("new_term_days", "must be positive, got %d", req.NewTermDays)
	}
	if req.NewRate != nil && req.NewRate.Sign() < 0 {
		return nil, apperrors.Validation("new_rate", "must not be negative, got %s", req.NewRate)
	}
	asOf := models.Date(req.AsOf)
	if req.AsOf.IsZero() {
		asOf = l.today()
	}

	res := &RescheduleResult{}
	loan, err := l.mutate(ctx, loanID, "reschedule", func(loan *models.Loan, fx *effects) error {
		if loan.Status != models.LoanActive && loan.Status != models.LoanOverdue {
			return apperrors.Validation("status", "only active or overdue loans can be rescheduled, loan is %s", loan.Status)
		}
		now := l.clock.Now()

		res.OldSchedule = make([]*models.Installment, len(loan.Schedule))
		outstanding := decimal.Zero
		for i, inst := range loan.Schedule {
			c := *inst
			res.OldSchedule[i] = &c
			outstanding = outstanding.Add(inst.OutstandingPrincipal())
		}
		res.OutstandingPrincipal = outstanding

		moved := decimal.Zero
		lastKept := 0
		kept := loan.Schedule[:0]
		for _, inst := range loan.Schedule {
			if !inst.DueDate.After(asOf) || inst.Settled() {
				kept = append(kept, inst)
				lastKept = max(lastKept, inst.Number)
				continue
			}
			moved = moved.Add(inst.OutstandingPrincipal())
			if inst.TotalPaid.Sign() == 0 && inst.LateFeeAmount.Sign() == 0 {
				continue
			}
			inst.PrincipalAmount = inst.PaidPrincipal
			inst.InterestAmount = inst.PaidInterest
			inst.TotalAmount = inst.PaidPrincipal.Add(inst.PaidInterest)
			if inst.Settled() {
				d := asOf
				inst.PaymentDate = &d
			}
			kept = append(kept, inst)
			lastKept = max(lastKept, inst.Number)
		}
		if moved.Sign() <= 0 {
			return apperrors.Validation("as_of", "no principal falls due after %s", asOf.Format(time.DateOnly))
		}

		rate := loan.InterestRate
		if req.NewRate != nil {
			rate = *req.NewRate
		}
		built, err := schedule.Build(schedule.Params{
			LoanID:          loan.ID,
			Principal:       moved,
			AnnualRate:      rate,
			TermDays:        req.NewTermDays,
			InterestType:    loan.Terms.InterestType,
			DayCount:        loan.Terms.DayCount,
			Start:           asOf,
			GracePeriodDays: loan.Terms.GracePeriodDays,
			FirstNumber:     lastKept + 1,
		})
		if err != nil {
			return fmt.Errorf("failed to build new schedule: %w", err)
		}
		loan.Schedule = append(kept, built.Installments...)
		res.NewSchedule = built.Installments

		loan.TermDays = req.NewTermDays
		loan.InterestRate = rate
		maturity := asOf.AddDate(0, 0, req.NewTermDays)
		loan.MaturityDate = &maturity
		loan.TotalInterestAmount = decimal.Zero
		loan.TotalRepaymentAmount = decimal.Zero
		for _, inst := range loan.Schedule {
			loan.TotalInterestAmount = loan.TotalInterestAmount.Add(inst.InterestAmount)
			loan.TotalRepaymentAmount = loan.TotalRepaymentAmount.Add(inst.TotalAmount)
		}

		adj := newTransaction(loan, models.TransactionTypeAdjustment, moved, asOf, now, req.Actor)
		adj.PrincipalAmount = moved
		adj.Notes = fmt.Sprintf("rescheduled over %d days at %s%%", req.NewTermDays, rate.String())
		loan.Transactions = append(loan.Transactions, adj)

		fx.events.Record(events.New(events.LoanRescheduled, loan.ID, loan.LoanNumber, now, map[string]any{
			"as_of":            asOf.Format(time.DateOnly),
			"new_term_days":    req.NewTermDays,
			"new_rate":         rate.String(),
			"moved_principal":  moved.StringFixed(2),
			"new_installments": len(built.Installments),
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{
		"loan_id":         loan.ID,
		"new_term_days":   req.NewTermDays,
		"total_repayment": loan.TotalRepaymentAmount.StringFixed(2),
	}).Info("loan rescheduled")
	return res, nil
}
