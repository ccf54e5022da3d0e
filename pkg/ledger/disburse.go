package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/events"
	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/schedule"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DisburseRequest carries the details of a disbursement.
type DisburseRequest struct {
	Date      time.Time `json:"date"`
	Actor     string    `json:"actor"`
	Method    string    `json:"method"`
	Reference string    `json:"reference"`
	Notes     string    `json:"notes"`
}

// Disburse activates a pending loan: it snapshots the product terms, builds
// the repayment schedule if there is none and posts the DISBURSEMENT entry.
func (l *Ledger) Disburse(ctx context.Context, loanID uuid.UUID, req DisburseRequest) (*models.Transaction, error) {
	var disbursement *models.Transaction
	loan, err := l.mutate(ctx, loanID, "disburse", func(loan *models.Loan, fx *effects) error {
		if loan.Status != models.LoanPendingDisbursement {
			return apperrors.Validation("status", "loan must be %s to disburse, it is %s",
				models.LoanPendingDisbursement, loan.Status)
		}
		product, err := l.storage.GetProduct(ctx, loan.ProductID)
		if err != nil {
			return fmt.Errorf("failed to load product: %w", err)
		}

		date := models.Date(req.Date)
		if req.Date.IsZero() {
			date = l.today()
		}
		now := l.clock.Now()

		loan.InterestRate = product.AnnualRate
		loan.Terms = models.TermsFromProduct(product)
		loan.Status = models.LoanActive
		loan.DisbursementDate = &date
		loan.DisbursedBy = req.Actor
		maturity := date.AddDate(0, 0, loan.TermDays)
		loan.MaturityDate = &maturity
		loan.ProcessingFee = interest.Round(loan.Principal.Mul(loan.Terms.ProcessingFeePercent).Div(decimal.NewFromInt(100)))
		if loan.LoanNumber == "" {
			loan.LoanNumber = l.numbers.Next(date)
		}
		if len(loan.Schedule) == 0 {
			if err := buildSchedule(loan); err != nil {
				return err
			}
		}

		disbursement = newTransaction(loan, models.TransactionTypeDisbursement, loan.Principal, date, now, req.Actor)
		disbursement.PrincipalAmount = loan.Principal
		disbursement.FeeAmount = loan.ProcessingFee
		disbursement.PaymentMethod = req.Method
		disbursement.Reference = req.Reference
		disbursement.Notes = req.Notes
		loan.Transactions = append(loan.Transactions, disbursement)

		fx.events.Record(events.New(events.LoanDisbursed, loan.ID, loan.LoanNumber, now, map[string]any{
			"principal":       loan.Principal.StringFixed(2),
			"processing_fee":  loan.ProcessingFee.StringFixed(2),
			"total_repayment": loan.TotalRepaymentAmount.StringFixed(2),
			"installments":    len(loan.Schedule),
		}))
		fx.notice(fmt.Sprintf("Loan %s disbursed", loan.LoanNumber), fmt.Sprintf(
			"Your loan %s of %s has been disbursed on %s. Total repayable: %s in %d installments, first due %s.",
			loan.LoanNumber, loan.Principal.StringFixed(2), date.Format(time.DateOnly),
			loan.TotalRepaymentAmount.StringFixed(2), len(loan.Schedule), loan.FirstPaymentDate.Format(time.DateOnly)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{
		"loan_id":     loan.ID,
		"loan_number": loan.LoanNumber,
		"principal":   loan.Principal.StringFixed(2),
	}).Info("loan disbursed")
	return disbursement, nil
}

// BuildSchedule builds the repayment schedule of a disbursed loan that has
// none. A loan's schedule is built exactly once.
func (l *Ledger) BuildSchedule(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	loan, err := l.mutate(ctx, loanID, "build_schedule", func(loan *models.Loan, _ *effects) error {
		if loan.DisbursementDate == nil || loan.Status == models.LoanPendingDisbursement {
			return apperrors.Validation("status", "loan must be disbursed before its schedule is built")
		}
		return buildSchedule(loan)
	})
	if err != nil {
		return nil, err
	}
	return loan.Schedule, nil
}

func buildSchedule(loan *models.Loan) error {
	if len(loan.Schedule) > 0 {
		return apperrors.Validation("schedule", "loan %s already has a repayment schedule", loan.ID)
	}
	res, err := schedule.Build(schedule.Params{
		LoanID:          loan.ID,
		Principal:       loan.Principal,
		AnnualRate:      loan.InterestRate,
		TermDays:        loan.TermDays,
		InterestType:    loan.Terms.InterestType,
		DayCount:        loan.Terms.DayCount,
		Start:           *loan.DisbursementDate,
		GracePeriodDays: loan.Terms.GracePeriodDays,
	})
	if err != nil {
		return fmt.Errorf("failed to build schedule: %w", err)
	}
	loan.Schedule = res.Installments
	loan.TotalInterestAmount = res.TotalInterest
	loan.TotalRepaymentAmount = res.TotalRepayment
	first := res.Installments[0].DueDate
	loan.FirstPaymentDate = &first
	return nil
}
