package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/sirupsen/logrus"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// Pragmas are per connection and SQLite allows one writer anyway.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logrus.WithField("dsn", dataSourceName).Info("sqlite store ready")
	return s, nil
}

// initSchema creates the database tables if they don't already exist and adds new columns if necessary.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loan_products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		interest_type TEXT NOT NULL,
		annual_rate TEXT NOT NULL,
		day_count TEXT NOT NULL,
		min_amount TEXT NOT NULL,
		max_amount TEXT NOT NULL,
		min_term_days INTEGER NOT NULL,
		max_term_days INTEGER NOT NULL,
		processing_fee_percent TEXT NOT NULL DEFAULT '0',
		late_fee_percent TEXT NOT NULL DEFAULT '0',
		early_repayment_penalty_percent TEXT NOT NULL DEFAULT '0',
		grace_period_days INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		loan_number TEXT,
		client_ref TEXT NOT NULL,
		product_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		term_days INTEGER NOT NULL,
		interest_type TEXT NOT NULL,
		day_count TEXT NOT NULL,
		processing_fee_percent TEXT NOT NULL DEFAULT '0',
		late_fee_percent TEXT NOT NULL DEFAULT '0',
		early_repayment_penalty_percent TEXT NOT NULL DEFAULT '0',
		grace_period_days INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		disbursement_date DATETIME,
		maturity_date DATETIME,
		first_payment_date DATETIME,
		next_payment_date DATETIME,
		closed_at DATETIME,
		disbursed_by TEXT NOT NULL DEFAULT '',
		processing_fee TEXT NOT NULL DEFAULT '0',
		total_interest_amount TEXT NOT NULL DEFAULT '0',
		total_repayment_amount TEXT NOT NULL DEFAULT '0',
		total_paid_amount TEXT NOT NULL DEFAULT '0',
		remaining_balance TEXT NOT NULL DEFAULT '0',
		overdue_amount TEXT NOT NULL DEFAULT '0',
		days_overdue INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(product_id) REFERENCES loan_products(id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_loan_number ON loans(loan_number) WHERE loan_number IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		installment_number INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		principal_amount TEXT NOT NULL,
		interest_amount TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		paid_principal TEXT NOT NULL DEFAULT '0',
		paid_interest TEXT NOT NULL DEFAULT '0',
		paid_late_fee TEXT NOT NULL DEFAULT '0',
		total_paid TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		late_fee_amount TEXT NOT NULL DEFAULT '0',
		late_fee_applied INTEGER NOT NULL DEFAULT 0,
		grace_period_days INTEGER NOT NULL DEFAULT 0,
		payment_date DATETIME,
		UNIQUE(loan_id, installment_number),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		installment_id TEXT,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		principal_amount TEXT NOT NULL DEFAULT '0',
		interest_amount TEXT NOT NULL DEFAULT '0',
		fee_amount TEXT NOT NULL DEFAULT '0',
		payment_method TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL,
		value_date DATETIME NOT NULL,
		recorded_by TEXT NOT NULL DEFAULT '',
		reversed INTEGER NOT NULL DEFAULT 0,
		reversal_reason TEXT NOT NULL DEFAULT '',
		reversed_at DATETIME,
		reversed_by TEXT NOT NULL DEFAULT '',
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_loan ON transactions(loan_id);
	CREATE TABLE IF NOT EXISTS clients (
		ref TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		balance TEXT NOT NULL DEFAULT '0'
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release of the schema.
	columns := []struct{ table, def string }{
		{"loans", "closed_at DATETIME"},
		{"loans", "disbursed_by TEXT NOT NULL DEFAULT ''"},
		{"installments", "late_fee_applied INTEGER NOT NULL DEFAULT 0"},
		{"transactions", "reversed_by TEXT NOT NULL DEFAULT ''"},
	}
	for _, col := range columns {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", col.table, col.def))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s.%s: %w", col.table, col.def, err)
		}
	}
	return nil
}

// isDuplicateColumnError checks if the error indicates a duplicate column.
func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

const productColumns = `id, name, interest_type, annual_rate, day_count, min_amount, max_amount, min_term_days, max_term_days,
	processing_fee_percent, late_fee_percent, early_repayment_penalty_percent, grace_period_days, is_active, created_at, updated_at`

// CreateProduct inserts a new loan product.
func (s *SQLiteStore) CreateProduct(ctx context.Context, p *models.LoanProduct) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loan_products (`+productColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.Name, p.InterestType, p.AnnualRate, p.DayCount, p.MinAmount, p.MaxAmount, p.MinTermDays, p.MaxTermDays,
		p.ProcessingFeePercent, p.LateFeePercent, p.EarlyRepaymentPenaltyPercent, p.GracePeriodDays, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// GetProduct retrieves a loan product by its ID.
func (s *SQLiteStore) GetProduct(ctx context.Context, id uuid.UUID) (*models.LoanProduct, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM loan_products WHERE id = ?`, id.String())
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// UpdateProduct overwrites an existing loan product. Loans keep their own copy of the terms.
func (s *SQLiteStore) UpdateProduct(ctx context.Context, p *models.LoanProduct) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE loan_products SET name = ?, interest_type = ?, annual_rate = ?, day_count = ?, min_amount = ?, max_amount = ?,
		min_term_days = ?, max_term_days = ?, processing_fee_percent = ?, late_fee_percent = ?, early_repayment_penalty_percent = ?,
		grace_period_days = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.InterestType, p.AnnualRate, p.DayCount, p.MinAmount, p.MaxAmount, p.MinTermDays, p.MaxTermDays,
		p.ProcessingFeePercent, p.LateFeePercent, p.EarlyRepaymentPenaltyPercent, p.GracePeriodDays, p.IsActive, p.UpdatedAt, p.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return expectOneRow(result, "product", p.ID)
}

// GetAllProducts retrieves all loan products.
func (s *SQLiteStore) GetAllProducts(ctx context.Context) ([]*models.LoanProduct, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM loan_products ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to get products: %w", err)
	}
	defer rows.Close()

	var products []*models.LoanProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return products, nil
}

const loanColumns = `id, loan_number, client_ref, product_id, principal, interest_rate, term_days,
	interest_type, day_count, processing_fee_percent, late_fee_percent, early_repayment_penalty_percent, grace_period_days,
	status, disbursement_date, maturity_date, first_payment_date, next_payment_date, closed_at, disbursed_by,
	processing_fee, total_interest_amount, total_repayment_amount, total_paid_amount, remaining_balance, overdue_amount, days_overdue,
	version, created_at, updated_at`

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	loan.Version = 1
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loanArgs(loan)...,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID together with its schedule and transactions.
func (s *SQLiteStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}

	if loan.Schedule, err = s.getInstallments(ctx, id); err != nil {
		return nil, err
	}
	if loan.Transactions, err = s.GetTransactionsForLoan(ctx, id); err != nil {
		return nil, err
	}
	return loan, nil
}

// SaveLoan writes the loan aggregate in one database transaction, guarded by its version.
func (s *SQLiteStore) SaveLoan(ctx context.Context, loan *models.Loan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	args := loanArgs(loan)
	// Drop id and the insert-time columns; version is bumped in SQL.
	update := append(args[1:27:27], loan.UpdatedAt, loan.ID.String(), loan.Version)
	result, err := tx.ExecContext(ctx,
		`UPDATE loans SET loan_number = ?, client_ref = ?, product_id = ?, principal = ?, interest_rate = ?, term_days = ?,
		interest_type = ?, day_count = ?, processing_fee_percent = ?, late_fee_percent = ?, early_repayment_penalty_percent = ?, grace_period_days = ?,
		status = ?, disbursement_date = ?, maturity_date = ?, first_payment_date = ?, next_payment_date = ?, closed_at = ?, disbursed_by = ?,
		processing_fee = ?, total_interest_amount = ?, total_repayment_amount = ?, total_paid_amount = ?, remaining_balance = ?, overdue_amount = ?, days_overdue = ?,
		updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		update...,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM loans WHERE id = ?`, loan.ID.String()).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check loan existence: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("loan %s: %w", loan.ID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("loan %s at version %d: %w", loan.ID, loan.Version, apperrors.ErrConcurrencyConflict)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM installments WHERE loan_id = ?`, loan.ID.String()); err != nil {
		return fmt.Errorf("failed to clear schedule: %w", err)
	}
	for _, inst := range loan.Schedule {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO installments (`+installmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			installmentArgs(inst)...,
		); err != nil {
			return fmt.Errorf("failed to write installment %d: %w", inst.Number, err)
		}
	}

	for _, txn := range loan.Transactions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET reversed = excluded.reversed, reversal_reason = excluded.reversal_reason,
			reversed_at = excluded.reversed_at, reversed_by = excluded.reversed_by`,
			transactionArgs(txn)...,
		); err != nil {
			return fmt.Errorf("failed to write transaction %s: %w", txn.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit loan: %w", err)
	}
	loan.Version++
	return nil
}

// DeleteLoan removes a loan, its schedule and its transactions from the database within a transaction.
func (s *SQLiteStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `DELETE FROM transactions WHERE loan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete associated transactions: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM installments WHERE loan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete associated installments: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	if err := expectOneRow(result, "loan", id); err != nil {
		return err
	}
	return tx.Commit()
}

// GetAllLoans retrieves all loans.
func (s *SQLiteStore) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// GetLoansByStatus retrieves the loans in any of the given statuses.
func (s *SQLiteStore) GetLoansByStatus(ctx context.Context, statuses ...models.LoanStatus) ([]*models.Loan, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	rows, err := s.db.QueryContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE status IN (`+placeholders+`) ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get loans by status: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

const installmentColumns = `id, loan_id, installment_number, due_date, principal_amount, interest_amount, total_amount,
	paid_principal, paid_interest, paid_late_fee, total_paid, status, late_fee_amount, late_fee_applied, grace_period_days, payment_date`

func (s *SQLiteStore) getInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+installmentColumns+` FROM installments WHERE loan_id = ? ORDER BY installment_number`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var out []*models.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for schedule: %w", err)
	}
	return out, nil
}

const transactionColumns = `id, loan_id, installment_id, type, amount, principal_amount, interest_amount, fee_amount,
	payment_method, reference, notes, timestamp, value_date, recorded_by, reversed, reversal_reason, reversed_at, reversed_by`

// GetTransactionsForLoan retrieves all transactions for a given loan ID.
func (s *SQLiteStore) GetTransactionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE loan_id = ? ORDER BY timestamp ASC, rowid ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		transactions = append(transactions, txn)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan transactions: %w", err)
	}
	return transactions, nil
}

// SaveClient inserts or refreshes a client record.
func (s *SQLiteStore) SaveClient(ctx context.Context, c *models.Client) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (ref, name, email, phone, balance) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET name = excluded.name, email = excluded.email, phone = excluded.phone, balance = excluded.balance`,
		c.Ref, c.Name, c.Email, c.Phone, c.Balance,
	)
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// GetClient retrieves a client record by reference.
func (s *SQLiteStore) GetClient(ctx context.Context, ref string) (*models.Client, error) {
	var c models.Client
	err := s.db.QueryRowContext(ctx, `SELECT ref, name, email, phone, balance FROM clients WHERE ref = ?`, ref).
		Scan(&c.Ref, &c.Name, &c.Email, &c.Phone, &c.Balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("client %s: %w", ref, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func expectOneRow(result sql.Result, what string, id uuid.UUID) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, apperrors.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(r rowScanner) (*models.LoanProduct, error) {
	var p models.LoanProduct
	err := r.Scan(&p.ID, &p.Name, &p.InterestType, &p.AnnualRate, &p.DayCount, &p.MinAmount, &p.MaxAmount,
		&p.MinTermDays, &p.MaxTermDays, &p.ProcessingFeePercent, &p.LateFeePercent, &p.EarlyRepaymentPenaltyPercent,
		&p.GracePeriodDays, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func loanArgs(l *models.Loan) []any {
	var number any
	if l.LoanNumber != "" {
		number = l.LoanNumber
	}
	return []any{
		l.ID.String(), number, l.ClientRef, l.ProductID.String(), l.Principal, l.InterestRate, l.TermDays,
		l.Terms.InterestType, l.Terms.DayCount, l.Terms.ProcessingFeePercent, l.Terms.LateFeePercent,
		l.Terms.EarlyRepaymentPenaltyPercent, l.Terms.GracePeriodDays,
		l.Status, l.DisbursementDate, l.MaturityDate, l.FirstPaymentDate, l.NextPaymentDate, l.ClosedAt, l.DisbursedBy,
		l.ProcessingFee, l.TotalInterestAmount, l.TotalRepaymentAmount, l.TotalPaidAmount, l.RemainingBalance,
		l.OverdueAmount, l.DaysOverdue,
		l.Version, l.CreatedAt, l.UpdatedAt,
	}
}

func scanLoan(r rowScanner) (*models.Loan, error) {
	var l models.Loan
	var number sql.NullString
	var disbursed, maturity, first, next, closed sql.NullTime
	err := r.Scan(&l.ID, &number, &l.ClientRef, &l.ProductID, &l.Principal, &l.InterestRate, &l.TermDays,
		&l.Terms.InterestType, &l.Terms.DayCount, &l.Terms.ProcessingFeePercent, &l.Terms.LateFeePercent,
		&l.Terms.EarlyRepaymentPenaltyPercent, &l.Terms.GracePeriodDays,
		&l.Status, &disbursed, &maturity, &first, &next, &closed, &l.DisbursedBy,
		&l.ProcessingFee, &l.TotalInterestAmount, &l.TotalRepaymentAmount, &l.TotalPaidAmount, &l.RemainingBalance,
		&l.OverdueAmount, &l.DaysOverdue,
		&l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.LoanNumber = number.String
	l.DisbursementDate = nullTime(disbursed)
	l.MaturityDate = nullTime(maturity)
	l.FirstPaymentDate = nullTime(first)
	l.NextPaymentDate = nullTime(next)
	l.ClosedAt = nullTime(closed)
	return &l, nil
}

func scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func installmentArgs(i *models.Installment) []any {
	return []any{
		i.ID.String(), i.LoanID.String(), i.Number, i.DueDate, i.PrincipalAmount, i.InterestAmount, i.TotalAmount,
		i.PaidPrincipal, i.PaidInterest, i.PaidLateFee, i.TotalPaid, i.Status, i.LateFeeAmount, i.LateFeeApplied,
		i.GracePeriodDays, i.PaymentDate,
	}
}

func scanInstallment(r rowScanner) (*models.Installment, error) {
	var i models.Installment
	var paid sql.NullTime
	err := r.Scan(&i.ID, &i.LoanID, &i.Number, &i.DueDate, &i.PrincipalAmount, &i.InterestAmount, &i.TotalAmount,
		&i.PaidPrincipal, &i.PaidInterest, &i.PaidLateFee, &i.TotalPaid, &i.Status, &i.LateFeeAmount, &i.LateFeeApplied,
		&i.GracePeriodDays, &paid)
	if err != nil {
		return nil, err
	}
	i.DueDate = models.Date(i.DueDate)
	i.PaymentDate = nullTime(paid)
	return &i, nil
}

func transactionArgs(t *models.Transaction) []any {
	var inst any
	if t.InstallmentID != nil {
		inst = t.InstallmentID.String()
	}
	return []any{
		t.ID.String(), t.LoanID.String(), inst, t.Type, t.Amount, t.PrincipalAmount, t.InterestAmount, t.FeeAmount,
		t.PaymentMethod, t.Reference, t.Notes, t.Timestamp, t.ValueDate, t.RecordedBy,
		t.Reversed, t.ReversalReason, t.ReversedAt, t.ReversedBy,
	}
}

func scanTransaction(r rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var inst uuid.NullUUID
	var reversedAt sql.NullTime
	err := r.Scan(&t.ID, &t.LoanID, &inst, &t.Type, &t.Amount, &t.PrincipalAmount, &t.InterestAmount, &t.FeeAmount,
		&t.PaymentMethod, &t.Reference, &t.Notes, &t.Timestamp, &t.ValueDate, &t.RecordedBy,
		&t.Reversed, &t.ReversalReason, &reversedAt, &t.ReversedBy)
	if err != nil {
		return nil, err
	}
	if inst.Valid {
		id := inst.UUID
		t.InstallmentID = &id
	}
	t.ValueDate = models.Date(t.ValueDate)
	t.ReversedAt = nullTime(reversedAt)
	return &t, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
