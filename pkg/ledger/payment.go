package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/events"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PaymentRequest is a repayment received from the borrower.
type PaymentRequest struct {
	Amount   decimal.Decimal           `json:"amount"`
	Date     time.Time                 `json:"date"`
	Method   string                    `json:"method"`
	Actor    string                    `json:"actor"`
	Notes    string                    `json:"notes"`
	Strategy models.AllocationStrategy `json:"strategy"`
}

// ProcessPayment allocates a repayment across the loan: outstanding late fees
// first, then installments oldest due date first. A payment larger than the
// remaining balance is rejected without side effects.
func (l *Ledger) ProcessPayment(ctx context.Context, loanID uuid.UUID, req PaymentRequest) (*models.Allocation, error) {
	if err := validateAmount("amount", req.Amount); err != nil {
		return nil, err
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = models.StrategyAuto
	}
	if !strategy.Valid() {
		return nil, apperrors.Validation("strategy", "unknown allocation strategy %q", req.Strategy)
	}

	var alloc *models.Allocation
	loan, err := l.mutate(ctx, loanID, "process_payment", func(loan *models.Loan, fx *effects) error {
		if loan.Status == models.LoanPendingDisbursement || loan.Status.Terminal() {
			return apperrors.Validation("status", "cannot take payments on a %s loan", loan.Status)
		}
		if req.Amount.GreaterThan(loan.RemainingBalance) {
			return apperrors.Validation("amount", "%s exceeds the remaining balance %s",
				req.Amount.StringFixed(2), loan.RemainingBalance.StringFixed(2))
		}
		now := l.clock.Now()
		date := req.Date
		if date.IsZero() {
			date = now
		}
		alloc = allocate(loan, payment{
			amount:   req.Amount,
			date:     date,
			method:   req.Method,
			actor:    req.Actor,
			notes:    req.Notes,
			strategy: strategy,
			now:      now,
			general:  true,
		})

		allocated := alloc.Principal.Add(alloc.Interest).Add(alloc.LateFees).Add(alloc.RemainingAmount)
		if !allocated.Equal(req.Amount) {
			return apperrors.Consistency("allocation", "allocated %s of a %s payment", allocated, req.Amount)
		}

		fx.events.Record(events.New(events.PaymentAllocated, loan.ID, loan.LoanNumber, now, map[string]any{
			"amount":    req.Amount.StringFixed(2),
			"principal": alloc.Principal.StringFixed(2),
			"interest":  alloc.Interest.StringFixed(2),
			"late_fees": alloc.LateFees.StringFixed(2),
			"strategy":  strategy,
		}))
		fx.notice(fmt.Sprintf("Payment received for loan %s", loan.LoanNumber), fmt.Sprintf(
			"We received your payment of %s on %s: principal %s, interest %s, late fees %s.",
			req.Amount.StringFixed(2), models.Date(date).Format(time.DateOnly),
			alloc.Principal.StringFixed(2), alloc.Interest.StringFixed(2), alloc.LateFees.StringFixed(2)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.metrics.Allocated("principal", alloc.Principal)
	l.metrics.Allocated("interest", alloc.Interest)
	l.metrics.Allocated("late_fee", alloc.LateFees)
	l.logger.WithFields(logrus.Fields{
		"loan_id":   loan.ID,
		"amount":    req.Amount.StringFixed(2),
		"remaining": loan.RemainingBalance.StringFixed(2),
		"status":    loan.Status,
	}).Info("payment processed")
	return alloc, nil
}
