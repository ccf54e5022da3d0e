package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test_store.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestProduct() *models.LoanProduct {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	return &models.LoanProduct{
		ID:                   uuid.New(),
		Name:                 "Market Vendor 90",
		InterestType:         models.InterestFlat,
		AnnualRate:           decimal.NewFromInt(24),
		DayCount:             models.Actual365,
		MinAmount:            decimal.NewFromInt(100000),
		MaxAmount:            decimal.NewFromInt(5000000),
		MinTermDays:          30,
		MaxTermDays:          180,
		ProcessingFeePercent: decimal.NewFromInt(2),
		LateFeePercent:       decimal.NewFromInt(5),
		GracePeriodDays:      5,
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func newTestLoan(product *models.LoanProduct) *models.Loan {
	now := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	return &models.Loan{
		ID:           uuid.New(),
		ClientRef:    "client-001",
		ProductID:    product.ID,
		Principal:    decimal.NewFromInt(1200000),
		InterestRate: product.AnnualRate,
		TermDays:     90,
		Terms:        models.TermsFromProduct(product),
		Status:       models.LoanPendingDisbursement,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSQLiteStore_ProductRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := newTestProduct()
	if err := s.CreateProduct(ctx, p); err != nil {
		t.Fatalf("Failed to create product: %v", err)
	}

	fetched, err := s.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("Failed to get product: %v", err)
	}
	if fetched.Name != p.Name || !fetched.AnnualRate.Equal(p.AnnualRate) || fetched.DayCount != p.DayCount || !fetched.IsActive {
		t.Errorf("Fetched product does not match: %+v", fetched)
	}

	p.AnnualRate = decimal.NewFromInt(30)
	if err := s.UpdateProduct(ctx, p); err != nil {
		t.Fatalf("Failed to update product: %v", err)
	}
	fetched, _ = s.GetProduct(ctx, p.ID)
	if !fetched.AnnualRate.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected updated rate 30, got %s", fetched.AnnualRate)
	}

	if _, err := s.GetProduct(ctx, uuid.New()); !apperrors.IsNotFound(err) {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestSQLiteStore_SaveLoanWithScheduleAndTransactions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := newTestProduct()
	if err := s.CreateProduct(ctx, p); err != nil {
		t.Fatalf("Failed to create product: %v", err)
	}
	loan := newTestLoan(p)
	if err := s.CreateLoan(ctx, loan); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}
	if loan.Version != 1 {
		t.Fatalf("Expected version 1 after create, got %d", loan.Version)
	}

	disbursed := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	loan.Status = models.LoanActive
	loan.LoanNumber = "LN-2024-abc"
	loan.DisbursementDate = &disbursed
	inst := &models.Installment{
		ID:              uuid.New(),
		LoanID:          loan.ID,
		Number:          1,
		DueDate:         disbursed.AddDate(0, 0, 7),
		PrincipalAmount: decimal.RequireFromString("100000"),
		InterestAmount:  decimal.RequireFromString("5917.81"),
		TotalAmount:     decimal.RequireFromString("105917.81"),
		PaidPrincipal:   decimal.Zero,
		PaidInterest:    decimal.Zero,
		PaidLateFee:     decimal.Zero,
		TotalPaid:       decimal.Zero,
		LateFeeAmount:   decimal.Zero,
		Status:          models.InstallmentPending,
		GracePeriodDays: 5,
	}
	loan.Schedule = []*models.Installment{inst}
	instID := inst.ID
	txn := &models.Transaction{
		ID:              uuid.New(),
		LoanID:          loan.ID,
		InstallmentID:   &instID,
		Type:            models.TransactionTypePrincipalPayment,
		Amount:          decimal.RequireFromString("500.25"),
		PrincipalAmount: decimal.RequireFromString("500.25"),
		InterestAmount:  decimal.Zero,
		FeeAmount:       decimal.Zero,
		Timestamp:       disbursed.Add(time.Hour),
		ValueDate:       disbursed,
		RecordedBy:      "teller-1",
	}
	loan.Transactions = []*models.Transaction{txn}

	if err := s.SaveLoan(ctx, loan); err != nil {
		t.Fatalf("Failed to save loan: %v", err)
	}
	if loan.Version != 2 {
		t.Errorf("Expected version 2 after save, got %d", loan.Version)
	}

	fetched, err := s.GetLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}
	if fetched.LoanNumber != "LN-2024-abc" || fetched.Status != models.LoanActive {
		t.Errorf("Unexpected loan row: %+v", fetched)
	}
	if fetched.DisbursementDate == nil || !fetched.DisbursementDate.Equal(disbursed) {
		t.Errorf("Expected disbursement date %s, got %v", disbursed, fetched.DisbursementDate)
	}
	if !fetched.Terms.LateFeePercent.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected snapshot late fee 5, got %s", fetched.Terms.LateFeePercent)
	}
	if len(fetched.Schedule) != 1 || !fetched.Schedule[0].TotalAmount.Equal(inst.TotalAmount) {
		t.Fatalf("Schedule not persisted: %+v", fetched.Schedule)
	}
	if len(fetched.Transactions) != 1 {
		t.Fatalf("Expected 1 transaction, got %d", len(fetched.Transactions))
	}
	got := fetched.Transactions[0]
	if got.InstallmentID == nil || *got.InstallmentID != inst.ID {
		t.Errorf("Transaction lost its installment link")
	}
	if !got.Amount.Equal(decimal.RequireFromString("500.25")) {
		t.Errorf("Expected amount 500.25, got %s", got.Amount)
	}

	// Reversal flags are the only mutable transaction fields.
	reversedAt := disbursed.Add(2 * time.Hour)
	fetched.Transactions[0].Reversed = true
	fetched.Transactions[0].ReversalReason = "bounced"
	fetched.Transactions[0].ReversedAt = &reversedAt
	fetched.Transactions[0].Amount = decimal.NewFromInt(1)
	if err := s.SaveLoan(ctx, fetched); err != nil {
		t.Fatalf("Failed to save reversal: %v", err)
	}
	again, _ := s.GetLoan(ctx, loan.ID)
	if !again.Transactions[0].Reversed || again.Transactions[0].ReversalReason != "bounced" {
		t.Errorf("Reversal was not persisted")
	}
	if !again.Transactions[0].Amount.Equal(decimal.RequireFromString("500.25")) {
		t.Errorf("Transaction amount must be immutable, got %s", again.Transactions[0].Amount)
	}
}

func TestSQLiteStore_SaveLoanRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := newTestProduct()
	s.CreateProduct(ctx, p)
	loan := newTestLoan(p)
	if err := s.CreateLoan(ctx, loan); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	first, _ := s.GetLoan(ctx, loan.ID)
	second, _ := s.GetLoan(ctx, loan.ID)

	first.ClientRef = "client-002"
	if err := s.SaveLoan(ctx, first); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	second.ClientRef = "client-003"
	err := s.SaveLoan(ctx, second)
	if !apperrors.IsConflict(err) {
		t.Fatalf("Expected concurrency conflict, got %v", err)
	}

	fetched, _ := s.GetLoan(ctx, loan.ID)
	if fetched.ClientRef != "client-002" {
		t.Errorf("Stale write leaked: client ref %s", fetched.ClientRef)
	}

	missing := newTestLoan(p)
	if err := s.SaveLoan(ctx, missing); !apperrors.IsNotFound(err) {
		t.Errorf("Expected not found for unsaved loan, got %v", err)
	}
}

func TestSQLiteStore_GetLoansByStatusAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := newTestProduct()
	s.CreateProduct(ctx, p)

	pending := newTestLoan(p)
	active := newTestLoan(p)
	active.Status = models.LoanActive
	overdue := newTestLoan(p)
	overdue.Status = models.LoanOverdue
	for _, l := range []*models.Loan{pending, active, overdue} {
		if err := s.CreateLoan(ctx, l); err != nil {
			t.Fatalf("Failed to create loan: %v", err)
		}
	}

	loans, err := s.GetLoansByStatus(ctx, models.LoanActive, models.LoanOverdue)
	if err != nil {
		t.Fatalf("Failed to query by status: %v", err)
	}
	if len(loans) != 2 {
		t.Errorf("Expected 2 active/overdue loans, got %d", len(loans))
	}

	all, _ := s.GetAllLoans(ctx)
	if len(all) != 3 {
		t.Errorf("Expected 3 loans, got %d", len(all))
	}

	if err := s.DeleteLoan(ctx, pending.ID); err != nil {
		t.Fatalf("Failed to delete loan: %v", err)
	}
	if _, err := s.GetLoan(ctx, pending.ID); !apperrors.IsNotFound(err) {
		t.Errorf("Expected not found after delete, got %v", err)
	}
	if err := s.DeleteLoan(ctx, pending.ID); !apperrors.IsNotFound(err) {
		t.Errorf("Expected not found deleting twice, got %v", err)
	}
}

func TestSQLiteStore_Clients(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := &models.Client{Ref: "client-001", Name: "Nakato Sarah", Email: "sarah@example.org", Balance: decimal.NewFromInt(5000)}
	if err := s.SaveClient(ctx, c); err != nil {
		t.Fatalf("Failed to save client: %v", err)
	}
	c.Email = "nakato@example.org"
	if err := s.SaveClient(ctx, c); err != nil {
		t.Fatalf("Failed to update client: %v", err)
	}

	fetched, err := s.GetClient(ctx, "client-001")
	if err != nil {
		t.Fatalf("Failed to get client: %v", err)
	}
	if fetched.Email != "nakato@example.org" || !fetched.Balance.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("Unexpected client: %+v", fetched)
	}
	if _, err := s.GetClient(ctx, "nobody"); !apperrors.IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}
