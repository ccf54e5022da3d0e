package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SweepResult summarises one daily sweep.
type SweepResult struct {
	Processed   int             `json:"processed"`
	FeesCharged decimal.Decimal `json:"fees_charged"`
	Failed      int             `json:"failed"`
	Reminders   int             `json:"reminders"`
}

// RunDailySweep charges due late fees on, and reconciles, every active or
// overdue loan as of asOf, then sends payment reminders when they are
// enabled. A failing loan does not stop the others; all failures are
// returned together.
func (l *Ledger) RunDailySweep(ctx context.Context, asOf time.Time) (SweepResult, error) {
	res := SweepResult{FeesCharged: decimal.Zero}
	if asOf.IsZero() {
		asOf = l.today()
	}
	loans, err := l.storage.GetLoansByStatus(ctx, models.LoanActive, models.LoanOverdue)
	if err != nil {
		return res, fmt.Errorf("failed to list loans for sweep: %w", err)
	}

	var errs []error
	for _, loan := range loans {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		charged, err := l.ApplyLateFees(ctx, loan.ID, asOf)
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("loan %s: %w", loan.ID, err))
			l.logger.WithError(err).WithField("loan_id", loan.ID).Error("daily sweep failed for loan")
			continue
		}
		res.Processed++
		for _, txn := range charged {
			res.FeesCharged = res.FeesCharged.Add(txn.Amount)
		}
	}

	if l.remindDays > 0 && ctx.Err() == nil {
		reminders, err := l.SendPaymentReminders(ctx, asOf, l.remindDays)
		if err != nil {
			errs = append(errs, err)
		}
		res.Reminders = len(reminders)
	}

	l.logger.WithFields(logrus.Fields{
		"as_of":        models.Date(asOf).Format(time.DateOnly),
		"processed":    res.Processed,
		"failed":       res.Failed,
		"fees_charged": res.FeesCharged.StringFixed(2),
		"reminders":    res.Reminders,
	}).Info("daily sweep complete")
	return res, errors.Join(errs...)
}
