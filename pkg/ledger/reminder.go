package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/notify"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Reminder is a notice sent ahead of an installment's due date.
type Reminder struct {
	LoanID       uuid.UUID       `json:"loan_id"`
	LoanNumber   string          `json:"loan_number"`
	Installment  int             `json:"installment"`
	DueDate      time.Time       `json:"due_date"`
	Amount       decimal.Decimal `json:"amount"`
	DaysUntilDue int             `json:"days_until_due"`
}

// upcoming returns the earliest unsettled installment falling due between
// asOf and days after it, or nil.
func upcoming(loan *models.Loan, asOf time.Time, days int) *models.Installment {
	last := asOf.AddDate(0, 0, days)
	var next *models.Installment
	for _, inst := range loan.Schedule {
		if inst.Settled() || inst.DueDate.Before(asOf) || inst.DueDate.After(last) {
			continue
		}
		if next == nil || inst.DueDate.Before(next.DueDate) {
			next = inst
		}
	}
	return next
}

// SendPaymentReminders reminds the borrower of every active or overdue loan
// whose next unsettled installment falls due within days of asOf. Installments
// already past due are left to the overdue notice. It returns the reminders
// that were delivered.
func (l *Ledger) SendPaymentReminders(ctx context.Context, asOf time.Time, days int) ([]Reminder, error) {
	if asOf.IsZero() {
		asOf = l.today()
	}
	asOf = models.Date(asOf)
	if days < 0 {
		days = 0
	}
	loans, err := l.storage.GetLoansByStatus(ctx, models.LoanActive, models.LoanOverdue)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans for reminders: %w", err)
	}

	sent := []Reminder{}
	var errs []error
	for _, row := range loans {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		loan, err := l.storage.GetLoan(ctx, row.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("loan %s: %w", row.ID, err))
			continue
		}
		inst := upcoming(loan, asOf, days)
		if inst == nil {
			continue
		}
		r := Reminder{
			LoanID:       loan.ID,
			LoanNumber:   loan.LoanNumber,
			Installment:  inst.Number,
			DueDate:      inst.DueDate,
			Amount:       inst.Outstanding(),
			DaysUntilDue: interest.DaysBetween(asOf, inst.DueDate, models.Actual365),
		}
		msg := notify.Message{
			Subject: fmt.Sprintf("Payment reminder for loan %s", loan.LoanNumber),
			Body: fmt.Sprintf("Installment %d of loan %s for %s is due on %s, in %d day(s).\n\n"+
				"Please make sure payment is made on time to avoid late fees.",
				r.Installment, r.LoanNumber, r.Amount.StringFixed(2), r.DueDate.Format(time.DateOnly), r.DaysUntilDue),
		}
		if l.deliver(ctx, loan, []notify.Message{msg}) > 0 {
			sent = append(sent, r)
		}
	}

	l.logger.WithFields(logrus.Fields{
		"as_of":  asOf.Format(time.DateOnly),
		"window": days,
		"sent":   len(sent),
	}).Info("payment reminders sent")
	return sent, errors.Join(errs...)
}
