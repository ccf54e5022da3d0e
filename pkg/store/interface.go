package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
)

// Storage defines the persistence operations the ledger needs for products,
// loans, their schedules and transactions.
//
// Lookups of missing records return an error wrapping apperrors.ErrNotFound.
type Storage interface {
	CreateProduct(ctx context.Context, product *models.LoanProduct) error
	GetProduct(ctx context.Context, id uuid.UUID) (*models.LoanProduct, error)
	UpdateProduct(ctx context.Context, product *models.LoanProduct) error
	GetAllProducts(ctx context.Context) ([]*models.LoanProduct, error)

	// CreateLoan inserts a new loan row and sets its version to 1.
	CreateLoan(ctx context.Context, loan *models.Loan) error
	// GetLoan returns the loan with its schedule and transactions.
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	// SaveLoan atomically writes the loan row, replaces its schedule and
	// upserts its transactions. Only reversal fields of existing transactions
	// change. The write succeeds only if the stored version equals
	// loan.Version; otherwise apperrors.ErrConcurrencyConflict is returned.
	// On success loan.Version is incremented.
	SaveLoan(ctx context.Context, loan *models.Loan) error
	DeleteLoan(ctx context.Context, id uuid.UUID) error
	// GetAllLoans and GetLoansByStatus return loan rows without schedule or transactions.
	GetAllLoans(ctx context.Context) ([]*models.Loan, error)
	GetLoansByStatus(ctx context.Context, statuses ...models.LoanStatus) ([]*models.Loan, error)

	GetTransactionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Transaction, error)

	// Client records are owned by the account system; SaveClient exists to sync them in.
	SaveClient(ctx context.Context, client *models.Client) error
	GetClient(ctx context.Context, ref string) (*models.Client, error)

	Close() error
}
