package ledger

import (
	"context"
	"fmt"

	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/credit"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SaveClient records or refreshes a borrower's account details.
func (l *Ledger) SaveClient(ctx context.Context, c *models.Client) (*models.Client, error) {
	if c.Ref == "" {
		return nil, apperrors.Validation("ref", "is required")
	}
	if c.Name == "" {
		return nil, apperrors.Validation("name", "is required")
	}
	if c.Balance.IsNegative() {
		return nil, apperrors.Validation("balance", "must not be negative")
	}
	if err := l.storage.SaveClient(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store client: %w", err)
	}
	return c, nil
}

// GetClient retrieves a borrower by reference.
func (l *Ledger) GetClient(ctx context.Context, ref string) (*models.Client, error) {
	return l.storage.GetClient(ctx, ref)
}

// AssessCredit scores a loan of amount for the client. The configured policy
// applies, or the default one when none is set.
func (l *Ledger) AssessCredit(ctx context.Context, clientRef string, amount decimal.Decimal) (*credit.Assessment, error) {
	if err := validateAmount("amount", amount); err != nil {
		return nil, err
	}
	client, err := l.storage.GetClient(ctx, clientRef)
	if err != nil {
		return nil, err
	}
	all, err := l.storage.GetAllLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load client loans: %w", err)
	}
	var existing []*models.Loan
	for _, loan := range all {
		if loan.ClientRef == clientRef && loan.Status != models.LoanPendingDisbursement {
			existing = append(existing, loan)
		}
	}

	policy := credit.DefaultPolicy()
	if l.credit != nil {
		policy = *l.credit
	}
	a := policy.Assess(client, amount, existing, l.today())
	l.logger.WithFields(logrus.Fields{
		"client_ref": clientRef,
		"amount":     amount.StringFixed(2),
		"score":      a.Score.StringFixed(2),
		"rating":     a.Rating,
		"approved":   a.Approved,
	}).Debug("credit assessed")
	return &a, nil
}
