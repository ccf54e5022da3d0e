package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
)

var _ store.Storage = (*Store)(nil)

// Config holds PostgreSQL connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DSN returns a PostgreSQL connection string built from the config fields.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode)
}

// Store is a store.Storage backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewPool creates a pool for dsn and verifies connectivity.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Open migrates the database and returns a Store on a fresh pool.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := RunMigrations(cfg.DSN()); err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, cfg.DSN(), cfg.MaxConns)
	if err != nil {
		return nil, err
	}
	return New(pool), nil
}

// New wraps an existing pool. The schema must already be migrated.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("postgres: rollback tx: %w (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

const productColumns = `id, name, interest_type, annual_rate, day_count, min_amount, max_amount, min_term_days, max_term_days,
	processing_fee_percent, late_fee_percent, early_repayment_penalty_percent, grace_period_days, is_active, created_at, updated_at`

func (s *Store) CreateProduct(ctx context.Context, p *models.LoanProduct) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO loan_products (`+productColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		p.ID, p.Name, p.InterestType, p.AnnualRate, p.DayCount, p.MinAmount, p.MaxAmount, p.MinTermDays, p.MaxTermDays,
		p.ProcessingFeePercent, p.LateFeePercent, p.EarlyRepaymentPenaltyPercent, p.GracePeriodDays, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (*models.LoanProduct, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM loan_products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p *models.LoanProduct) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE loan_products SET name = $1, interest_type = $2, annual_rate = $3, day_count = $4, min_amount = $5, max_amount = $6,
		min_term_days = $7, max_term_days = $8, processing_fee_percent = $9, late_fee_percent = $10,
		early_repayment_penalty_percent = $11, grace_period_days = $12, is_active = $13, updated_at = $14 WHERE id = $15`,
		p.Name, p.InterestType, p.AnnualRate, p.DayCount, p.MinAmount, p.MaxAmount, p.MinTermDays, p.MaxTermDays,
		p.ProcessingFeePercent, p.LateFeePercent, p.EarlyRepaymentPenaltyPercent, p.GracePeriodDays, p.IsActive, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %s: %w", p.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (s *Store) GetAllProducts(ctx context.Context) ([]*models.LoanProduct, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM loan_products ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []*models.LoanProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const loanColumns = `id, loan_number, client_ref, product_id, principal, interest_rate, term_days,
	interest_type, day_count, processing_fee_percent, late_fee_percent, early_repayment_penalty_percent, grace_period_days,
	status, disbursement_date, maturity_date, first_payment_date, next_payment_date, closed_at, disbursed_by,
	processing_fee, total_interest_amount, total_repayment_amount, total_paid_amount, remaining_balance, overdue_amount, days_overdue,
	version, created_at, updated_at`

func (s *Store) CreateLoan(ctx context.Context, loan *models.Loan) error {
	loan.Version = 1
	_, err := s.pool.Exec(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES
		($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)`,
		loanArgs(loan)...,
	)
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

func (s *Store) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := scanLoan(s.pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("loan %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	if loan.Schedule, err = loadSchedule(ctx, s.pool, id); err != nil {
		return nil, err
	}
	if loan.Transactions, err = loadTransactions(ctx, s.pool, id); err != nil {
		return nil, err
	}
	return loan, nil
}

// SaveLoan locks the loan row, checks its version and rewrites the aggregate
// inside one transaction.
func (s *Store) SaveLoan(ctx context.Context, loan *models.Loan) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var current int64
		err := tx.QueryRow(ctx, `SELECT version FROM loans WHERE id = $1 FOR UPDATE`, loan.ID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("loan %s: %w", loan.ID, apperrors.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock loan: %w", err)
		}
		if current != loan.Version {
			return fmt.Errorf("loan %s at version %d, stored %d: %w", loan.ID, loan.Version, current, apperrors.ErrConcurrencyConflict)
		}

		args := loanArgs(loan)
		update := append(args[1:27:27], loan.UpdatedAt, loan.ID)
		if _, err := tx.Exec(ctx,
			`UPDATE loans SET loan_number = $1, client_ref = $2, product_id = $3, principal = $4, interest_rate = $5, term_days = $6,
			interest_type = $7, day_count = $8, processing_fee_percent = $9, late_fee_percent = $10,
			early_repayment_penalty_percent = $11, grace_period_days = $12,
			status = $13, disbursement_date = $14, maturity_date = $15, first_payment_date = $16, next_payment_date = $17,
			closed_at = $18, disbursed_by = $19,
			processing_fee = $20, total_interest_amount = $21, total_repayment_amount = $22, total_paid_amount = $23,
			remaining_balance = $24, overdue_amount = $25, days_overdue = $26,
			updated_at = $27, version = version + 1
			WHERE id = $28`,
			update...,
		); err != nil {
			return fmt.Errorf("update loan: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM installments WHERE loan_id = $1`, loan.ID); err != nil {
			return fmt.Errorf("clear schedule: %w", err)
		}
		for _, inst := range loan.Schedule {
			if _, err := tx.Exec(ctx,
				`INSERT INTO installments (`+installmentColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
				installmentArgs(inst)...,
			); err != nil {
				return fmt.Errorf("insert installment %d: %w", inst.Number, err)
			}
		}

		for _, txn := range loan.Transactions {
			if _, err := tx.Exec(ctx,
				`INSERT INTO transactions (`+transactionColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
				ON CONFLICT (id) DO UPDATE SET reversed = EXCLUDED.reversed, reversal_reason = EXCLUDED.reversal_reason,
				reversed_at = EXCLUDED.reversed_at, reversed_by = EXCLUDED.reversed_by`,
				transactionArgs(txn)...,
			); err != nil {
				return fmt.Errorf("upsert transaction %s: %w", txn.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	loan.Version++
	return nil
}

func (s *Store) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM loans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete loan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("loan %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (s *Store) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}
	defer rows.Close()
	return scanLoans(rows)
}

func (s *Store) GetLoansByStatus(ctx context.Context, statuses ...models.LoanStatus) ([]*models.Loan, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+loanColumns+` FROM loans WHERE status = ANY($1) ORDER BY created_at`, names)
	if err != nil {
		return nil, fmt.Errorf("query loans by status: %w", err)
	}
	defer rows.Close()
	return scanLoans(rows)
}

func (s *Store) GetTransactionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Transaction, error) {
	return loadTransactions(ctx, s.pool, loanID)
}

func (s *Store) SaveClient(ctx context.Context, c *models.Client) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO clients (ref, name, email, phone, balance) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ref) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone, balance = EXCLUDED.balance`,
		c.Ref, c.Name, c.Email, c.Phone, c.Balance,
	)
	if err != nil {
		return fmt.Errorf("upsert client: %w", err)
	}
	return nil
}

func (s *Store) GetClient(ctx context.Context, ref string) (*models.Client, error) {
	var c models.Client
	err := s.pool.QueryRow(ctx, `SELECT ref, name, email, phone, balance FROM clients WHERE ref = $1`, ref).
		Scan(&c.Ref, &c.Name, &c.Email, &c.Phone, &c.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("client %s: %w", ref, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return &c, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const installmentColumns = `id, loan_id, installment_number, due_date, principal_amount, interest_amount, total_amount,
	paid_principal, paid_interest, paid_late_fee, total_paid, status, late_fee_amount, late_fee_applied, grace_period_days, payment_date`

func loadSchedule(ctx context.Context, q querier, loanID uuid.UUID) ([]*models.Installment, error) {
	rows, err := q.Query(ctx, `SELECT `+installmentColumns+` FROM installments WHERE loan_id = $1 ORDER BY installment_number`, loanID)
	if err != nil {
		return nil, fmt.Errorf("query schedule: %w", err)
	}
	defer rows.Close()

	var out []*models.Installment
	for rows.Next() {
		var i models.Installment
		if err := rows.Scan(&i.ID, &i.LoanID, &i.Number, &i.DueDate, &i.PrincipalAmount, &i.InterestAmount, &i.TotalAmount,
			&i.PaidPrincipal, &i.PaidInterest, &i.PaidLateFee, &i.TotalPaid, &i.Status, &i.LateFeeAmount, &i.LateFeeApplied,
			&i.GracePeriodDays, &i.PaymentDate); err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		i.DueDate = models.Date(i.DueDate)
		i.PaymentDate = utcDate(i.PaymentDate)
		out = append(out, &i)
	}
	return out, rows.Err()
}

const transactionColumns = `id, loan_id, installment_id, type, amount, principal_amount, interest_amount, fee_amount,
	payment_method, reference, notes, timestamp, value_date, recorded_by, reversed, reversal_reason, reversed_at, reversed_by`

func loadTransactions(ctx context.Context, q querier, loanID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := q.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE loan_id = $1 ORDER BY seq`, loanID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.LoanID, &t.InstallmentID, &t.Type, &t.Amount, &t.PrincipalAmount, &t.InterestAmount,
			&t.FeeAmount, &t.PaymentMethod, &t.Reference, &t.Notes, &t.Timestamp, &t.ValueDate, &t.RecordedBy,
			&t.Reversed, &t.ReversalReason, &t.ReversedAt, &t.ReversedBy); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Timestamp = t.Timestamp.UTC()
		t.ValueDate = models.Date(t.ValueDate)
		if t.ReversedAt != nil {
			at := t.ReversedAt.UTC()
			t.ReversedAt = &at
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func scanProduct(row pgx.Row) (*models.LoanProduct, error) {
	var p models.LoanProduct
	err := row.Scan(&p.ID, &p.Name, &p.InterestType, &p.AnnualRate, &p.DayCount, &p.MinAmount, &p.MaxAmount,
		&p.MinTermDays, &p.MaxTermDays, &p.ProcessingFeePercent, &p.LateFeePercent, &p.EarlyRepaymentPenaltyPercent,
		&p.GracePeriodDays, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return &p, nil
}

func loanArgs(l *models.Loan) []any {
	var number *string
	if l.LoanNumber != "" {
		number = &l.LoanNumber
	}
	return []any{
		l.ID, number, l.ClientRef, l.ProductID, l.Principal, l.InterestRate, l.TermDays,
		l.Terms.InterestType, l.Terms.DayCount, l.Terms.ProcessingFeePercent, l.Terms.LateFeePercent,
		l.Terms.EarlyRepaymentPenaltyPercent, l.Terms.GracePeriodDays,
		l.Status, l.DisbursementDate, l.MaturityDate, l.FirstPaymentDate, l.NextPaymentDate, l.ClosedAt, l.DisbursedBy,
		l.ProcessingFee, l.TotalInterestAmount, l.TotalRepaymentAmount, l.TotalPaidAmount, l.RemainingBalance,
		l.OverdueAmount, l.DaysOverdue,
		l.Version, l.CreatedAt, l.UpdatedAt,
	}
}

func scanLoan(row pgx.Row) (*models.Loan, error) {
	var l models.Loan
	var number *string
	err := row.Scan(&l.ID, &number, &l.ClientRef, &l.ProductID, &l.Principal, &l.InterestRate, &l.TermDays,
		&l.Terms.InterestType, &l.Terms.DayCount, &l.Terms.ProcessingFeePercent, &l.Terms.LateFeePercent,
		&l.Terms.EarlyRepaymentPenaltyPercent, &l.Terms.GracePeriodDays,
		&l.Status, &l.DisbursementDate, &l.MaturityDate, &l.FirstPaymentDate, &l.NextPaymentDate, &l.ClosedAt, &l.DisbursedBy,
		&l.ProcessingFee, &l.TotalInterestAmount, &l.TotalRepaymentAmount, &l.TotalPaidAmount, &l.RemainingBalance,
		&l.OverdueAmount, &l.DaysOverdue,
		&l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if number != nil {
		l.LoanNumber = *number
	}
	l.DisbursementDate = utcDate(l.DisbursementDate)
	l.MaturityDate = utcDate(l.MaturityDate)
	l.FirstPaymentDate = utcDate(l.FirstPaymentDate)
	l.NextPaymentDate = utcDate(l.NextPaymentDate)
	if l.ClosedAt != nil {
		at := l.ClosedAt.UTC()
		l.ClosedAt = &at
	}
	l.CreatedAt, l.UpdatedAt = l.CreatedAt.UTC(), l.UpdatedAt.UTC()
	return &l, nil
}

func scanLoans(rows pgx.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

func installmentArgs(i *models.Installment) []any {
	return []any{
		i.ID, i.LoanID, i.Number, i.DueDate, i.PrincipalAmount, i.InterestAmount, i.TotalAmount,
		i.PaidPrincipal, i.PaidInterest, i.PaidLateFee, i.TotalPaid, i.Status, i.LateFeeAmount, i.LateFeeApplied,
		i.GracePeriodDays, i.PaymentDate,
	}
}

func transactionArgs(t *models.Transaction) []any {
	return []any{
		t.ID, t.LoanID, t.InstallmentID, t.Type, t.Amount, t.PrincipalAmount, t.InterestAmount, t.FeeAmount,
		t.PaymentMethod, t.Reference, t.Notes, t.Timestamp, t.ValueDate, t.RecordedBy,
		t.Reversed, t.ReversalReason, t.ReversedAt, t.ReversedBy,
	}
}

func utcDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := models.Date(*t)
	return &d
}
