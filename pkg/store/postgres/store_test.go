package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestConfigDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "explicit ssl mode",
			cfg:  Config{Host: "db", Port: 5432, User: "ledger", Password: "secret", Database: "loans", SSLMode: "disable"},
			want: "postgres://ledger:secret@db:5432/loans?sslmode=disable",
		},
		{
			name: "defaults to require",
			cfg:  Config{Host: "db.internal", Port: 6432, User: "u", Password: "p", Database: "d"},
			want: "postgres://u:p@db.internal:6432/d?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

// startPostgres runs a throwaway postgres container and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("ledger"),
		tcpostgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("warning: failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := startPostgres(t)
	require.NoError(t, RunMigrations(dsn))

	pool, err := NewPool(context.Background(), dsn, 4)
	require.NoError(t, err)
	s := New(pool)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsRollBackAndReapply(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	pool, err := NewPool(ctx, dsn, 2)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	tableExists := func() bool {
		var name *string
		require.NoError(t, pool.QueryRow(ctx, "SELECT to_regclass('public.loans')::text").Scan(&name))
		return name != nil
	}

	require.NoError(t, RunMigrations(dsn))
	assert.True(t, tableExists())
	require.NoError(t, RunMigrations(dsn), "no pending migrations is not an error")

	require.NoError(t, RunMigrationsDown(dsn))
	assert.False(t, tableExists())
	require.NoError(t, RunMigrationsDown(dsn), "nothing to roll back is not an error")

	require.NoError(t, RunMigrations(dsn))
	assert.True(t, tableExists())
}

func seedLoan(t *testing.T, s *Store) (*models.LoanProduct, *models.Loan) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	p := &models.LoanProduct{
		ID:                           uuid.New(),
		Name:                         "Market Vendor 90",
		InterestType:                 models.InterestFlat,
		AnnualRate:                   decimal.NewFromInt(24),
		DayCount:                     models.Actual365,
		MinAmount:                    decimal.NewFromInt(100000),
		MaxAmount:                    decimal.NewFromInt(5000000),
		MinTermDays:                  30,
		MaxTermDays:                  180,
		ProcessingFeePercent:         decimal.NewFromInt(2),
		LateFeePercent:               decimal.NewFromInt(5),
		EarlyRepaymentPenaltyPercent: decimal.NewFromInt(1),
		GracePeriodDays:              5,
		IsActive:                     true,
		CreatedAt:                    now,
		UpdatedAt:                    now,
	}
	require.NoError(t, s.CreateProduct(ctx, p))

	loan := &models.Loan{
		ID:           uuid.New(),
		ClientRef:    "client-001",
		ProductID:    p.ID,
		Principal:    decimal.NewFromInt(1200000),
		InterestRate: p.AnnualRate,
		TermDays:     90,
		Terms:        models.TermsFromProduct(p),
		Status:       models.LoanPendingDisbursement,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateLoan(ctx, loan))
	assert.Equal(t, int64(1), loan.Version)
	return p, loan
}

func TestStore_LoanAggregateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, loan := seedLoan(t, s)

	disbursed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	due := disbursed.AddDate(0, 0, 7)
	paidAt := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	inst := &models.Installment{
		ID:              uuid.New(),
		LoanID:          loan.ID,
		Number:          1,
		DueDate:         due,
		PrincipalAmount: decimal.RequireFromString("100000.00"),
		InterestAmount:  decimal.RequireFromString("5917.81"),
		TotalAmount:     decimal.RequireFromString("105917.81"),
		PaidPrincipal:   decimal.RequireFromString("100000.00"),
		PaidInterest:    decimal.RequireFromString("5917.81"),
		PaidLateFee:     decimal.Zero,
		TotalPaid:       decimal.RequireFromString("105917.81"),
		Status:          models.InstallmentPaid,
		LateFeeAmount:   decimal.Zero,
		GracePeriodDays: 5,
		PaymentDate:     &paidAt,
	}
	txn := &models.Transaction{
		ID:              uuid.New(),
		LoanID:          loan.ID,
		InstallmentID:   &inst.ID,
		Type:            models.TransactionTypePrincipalPayment,
		Amount:          decimal.RequireFromString("100000.00"),
		PrincipalAmount: decimal.RequireFromString("100000.00"),
		InterestAmount:  decimal.Zero,
		FeeAmount:       decimal.Zero,
		PaymentMethod:   "mobile_money",
		Timestamp:       time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC),
		ValueDate:       paidAt,
		RecordedBy:      "teller-7",
	}

	loan.LoanNumber = "LN-2024-abc123"
	loan.Status = models.LoanActive
	loan.DisbursementDate = &disbursed
	loan.NextPaymentDate = &due
	loan.TotalPaidAmount = decimal.RequireFromString("100000.00")
	loan.Schedule = []*models.Installment{inst}
	loan.Transactions = []*models.Transaction{txn}
	require.NoError(t, s.SaveLoan(ctx, loan))
	assert.Equal(t, int64(2), loan.Version)

	got, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, "LN-2024-abc123", got.LoanNumber)
	assert.Equal(t, models.LoanActive, got.Status)
	assert.Equal(t, int64(2), got.Version)
	require.NotNil(t, got.DisbursementDate)
	assert.True(t, got.DisbursementDate.Equal(disbursed))
	assert.Nil(t, got.ClosedAt)
	assert.True(t, got.TotalPaidAmount.Equal(loan.TotalPaidAmount))

	require.Len(t, got.Schedule, 1)
	assert.True(t, got.Schedule[0].DueDate.Equal(due))
	assert.True(t, got.Schedule[0].InterestAmount.Equal(inst.InterestAmount))
	require.NotNil(t, got.Schedule[0].PaymentDate)
	assert.True(t, got.Schedule[0].PaymentDate.Equal(paidAt))

	require.Len(t, got.Transactions, 1)
	assert.Equal(t, txn.ID, got.Transactions[0].ID)
	require.NotNil(t, got.Transactions[0].InstallmentID)
	assert.Equal(t, inst.ID, *got.Transactions[0].InstallmentID)
	assert.Equal(t, "mobile_money", got.Transactions[0].PaymentMethod)

	// Reversal fields are the only ones an existing row takes on.
	reversedAt := time.Date(2024, 1, 6, 9, 0, 0, 0, time.UTC)
	got.Transactions[0].Reversed = true
	got.Transactions[0].ReversalReason = "bounced"
	got.Transactions[0].ReversedAt = &reversedAt
	got.Transactions[0].ReversedBy = "supervisor"
	got.Transactions[0].Amount = decimal.NewFromInt(1)
	require.NoError(t, s.SaveLoan(ctx, got))

	txns, err := s.GetTransactionsForLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.True(t, txns[0].Reversed)
	assert.Equal(t, "bounced", txns[0].ReversalReason)
	assert.True(t, txns[0].Amount.Equal(decimal.RequireFromString("100000.00")))
}

func TestStore_SaveLoanRejectsStaleVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, loan := seedLoan(t, s)

	first, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	second, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)

	first.Status = models.LoanActive
	require.NoError(t, s.SaveLoan(ctx, first))

	second.Status = models.LoanClosed
	err = s.SaveLoan(ctx, second)
	assert.True(t, errors.Is(err, apperrors.ErrConcurrencyConflict), "got %v", err)
	assert.Equal(t, int64(1), second.Version)

	stored, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanActive, stored.Status)
}

func TestStore_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetLoan(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.GetProduct(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.GetClient(ctx, "nobody")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, s.DeleteLoan(ctx, uuid.New()), apperrors.ErrNotFound)
	assert.ErrorIs(t, s.SaveLoan(ctx, &models.Loan{ID: uuid.New(), Version: 1}), apperrors.ErrNotFound)
}

func TestStore_GetLoansByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, pending := seedLoan(t, s)
	_, active := seedLoan(t, s)

	active.Status = models.LoanActive
	require.NoError(t, s.SaveLoan(ctx, active))

	loans, err := s.GetLoansByStatus(ctx, models.LoanActive, models.LoanOverdue)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, active.ID, loans[0].ID)
	assert.Empty(t, loans[0].Schedule)

	all, err := s.GetAllLoans(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteLoan(ctx, pending.ID))
	all, err = s.GetAllLoans(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_ClientUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &models.Client{Ref: "client-001", Name: "Sarah N.", Email: "sarah@example.org", Balance: decimal.NewFromInt(2500)}
	require.NoError(t, s.SaveClient(ctx, c))
	c.Email = "sarah.n@example.org"
	require.NoError(t, s.SaveClient(ctx, c))

	got, err := s.GetClient(ctx, "client-001")
	require.NoError(t, err)
	assert.Equal(t, "sarah.n@example.org", got.Email)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(2500)))
}
