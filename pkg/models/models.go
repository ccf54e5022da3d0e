package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InterestType string

const (
	InterestFlat            InterestType = "FLAT"
	InterestReducingBalance InterestType = "REDUCING_BALANCE"
)

type DayCountMethod string

const (
	Actual365 DayCountMethod = "ACTUAL_365"
	Actual360 DayCountMethod = "ACTUAL_360"
	Thirty360 DayCountMethod = "30_360"
)

type LoanStatus string

const (
	LoanPendingDisbursement LoanStatus = "PENDING_DISBURSEMENT"
	LoanActive              LoanStatus = "ACTIVE"
	LoanOverdue             LoanStatus = "OVERDUE"
	LoanClosed              LoanStatus = "CLOSED"
	LoanDefaulted           LoanStatus = "DEFAULTED"
	LoanWrittenOff          LoanStatus = "WRITTEN_OFF"
)

// Terminal reports whether no further postings are allowed other than reversals.
func (s LoanStatus) Terminal() bool {
	return s == LoanClosed || s == LoanDefaulted || s == LoanWrittenOff
}

type InstallmentStatus string

const (
	InstallmentPending       InstallmentStatus = "PENDING"
	InstallmentDue           InstallmentStatus = "DUE"
	InstallmentPartiallyPaid InstallmentStatus = "PARTIALLY_PAID"
	InstallmentPaid          InstallmentStatus = "PAID"
	InstallmentOverdue       InstallmentStatus = "OVERDUE"
)

type TransactionType string

const (
	TransactionTypeDisbursement     TransactionType = "DISBURSEMENT"
	TransactionTypePrincipalPayment TransactionType = "PRINCIPAL_PAYMENT"
	TransactionTypeInterestPayment  TransactionType = "INTEREST_PAYMENT"
	TransactionTypeLateFeePayment   TransactionType = "LATE_FEE_PAYMENT"
	TransactionTypeEarlyRepayment   TransactionType = "EARLY_REPAYMENT"
	TransactionTypePenaltyCharge    TransactionType = "PENALTY_CHARGE"
	TransactionTypeAdjustment       TransactionType = "ADJUSTMENT"
	TransactionTypeWriteOff         TransactionType = "WRITE_OFF"
)

// Reversible reports whether a transaction of this type can be reversed.
func (t TransactionType) Reversible() bool {
	switch t {
	case TransactionTypePrincipalPayment, TransactionTypeInterestPayment,
		TransactionTypeLateFeePayment, TransactionTypePenaltyCharge:
		return true
	}
	return false
}

// AllocationStrategy decides how a payment is split inside one installment.
type AllocationStrategy string

const (
	StrategyAuto           AllocationStrategy = "AUTO"
	StrategyPrincipalFirst AllocationStrategy = "PRINCIPAL_FIRST"
	StrategyInterestFirst  AllocationStrategy = "INTEREST_FIRST"
)

func (s AllocationStrategy) Valid() bool {
	return s == StrategyAuto || s == StrategyPrincipalFirst || s == StrategyInterestFirst
}

// LoanProduct is the policy template loans are created from.
type LoanProduct struct {
	ID                           uuid.UUID       `json:"id"`
	Name                         string          `json:"name"`
	InterestType                 InterestType    `json:"interest_type"`
	AnnualRate                   decimal.Decimal `json:"annual_rate"` // percent, e.g. 24 for 24%
	DayCount                     DayCountMethod  `json:"day_count"`
	MinAmount                    decimal.Decimal `json:"min_amount"`
	MaxAmount                    decimal.Decimal `json:"max_amount"`
	MinTermDays                  int             `json:"min_term_days"`
	MaxTermDays                  int             `json:"max_term_days"`
	ProcessingFeePercent         decimal.Decimal `json:"processing_fee_percent"`
	LateFeePercent               decimal.Decimal `json:"late_fee_percent"`
	EarlyRepaymentPenaltyPercent decimal.Decimal `json:"early_repayment_penalty_percent"`
	GracePeriodDays              int             `json:"grace_period_days"`
	IsActive                     bool            `json:"is_active"`
	CreatedAt                    time.Time       `json:"created_at"`
	UpdatedAt                    time.Time       `json:"updated_at"`
}

// LoanTerms is the copy of rate-bearing product fields taken at disbursement.
// Later product edits never reach it.
type LoanTerms struct {
	InterestType                 InterestType    `json:"interest_type"`
	DayCount                     DayCountMethod  `json:"day_count"`
	ProcessingFeePercent         decimal.Decimal `json:"processing_fee_percent"`
	LateFeePercent               decimal.Decimal `json:"late_fee_percent"`
	EarlyRepaymentPenaltyPercent decimal.Decimal `json:"early_repayment_penalty_percent"`
	GracePeriodDays              int             `json:"grace_period_days"`
}

// TermsFromProduct snapshots the product's rate-bearing fields.
func TermsFromProduct(p *LoanProduct) LoanTerms {
	return LoanTerms{
		InterestType:                 p.InterestType,
		DayCount:                     p.DayCount,
		ProcessingFeePercent:         p.ProcessingFeePercent,
		LateFeePercent:               p.LateFeePercent,
		EarlyRepaymentPenaltyPercent: p.EarlyRepaymentPenaltyPercent,
		GracePeriodDays:              p.GracePeriodDays,
	}
}

// Loan is the ledger aggregate root. Balances and status are derived by the
// reconciler and must not be assigned from outside the ledger package.
type Loan struct {
	ID               uuid.UUID       `json:"id"`
	LoanNumber       string          `json:"loan_number,omitempty"`
	ClientRef        string          `json:"client_ref"`
	ProductID        uuid.UUID       `json:"product_id"`
	Principal        decimal.Decimal `json:"principal"`
	InterestRate     decimal.Decimal `json:"interest_rate"` // annual percent
	TermDays         int             `json:"term_days"`
	Terms            LoanTerms       `json:"terms"`
	Status           LoanStatus      `json:"status"`
	DisbursementDate *time.Time      `json:"disbursement_date,omitempty"`
	MaturityDate     *time.Time      `json:"maturity_date,omitempty"`
	FirstPaymentDate *time.Time      `json:"first_payment_date,omitempty"`
	NextPaymentDate  *time.Time      `json:"next_payment_date,omitempty"`
	ClosedAt         *time.Time      `json:"closed_at,omitempty"`
	DisbursedBy      string          `json:"disbursed_by,omitempty"`

	ProcessingFee        decimal.Decimal `json:"processing_fee"`
	TotalInterestAmount  decimal.Decimal `json:"total_interest_amount"`
	TotalRepaymentAmount decimal.Decimal `json:"total_repayment_amount"`
	TotalPaidAmount      decimal.Decimal `json:"total_paid_amount"`
	RemainingBalance     decimal.Decimal `json:"remaining_balance"`
	OverdueAmount        decimal.Decimal `json:"overdue_amount"`
	DaysOverdue          int             `json:"days_overdue"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Schedule     []*Installment `json:"schedule,omitempty"`
	Transactions []*Transaction `json:"transactions,omitempty"`
}

// Installment is one repayment schedule entry.
type Installment struct {
	ID              uuid.UUID         `json:"id"`
	LoanID          uuid.UUID         `json:"loan_id"`
	Number          int               `json:"installment_number"`
	DueDate         time.Time         `json:"due_date"`
	PrincipalAmount decimal.Decimal   `json:"principal_amount"`
	InterestAmount  decimal.Decimal   `json:"interest_amount"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	PaidPrincipal   decimal.Decimal   `json:"paid_principal"`
	PaidInterest    decimal.Decimal   `json:"paid_interest"`
	PaidLateFee     decimal.Decimal   `json:"paid_late_fee"`
	TotalPaid       decimal.Decimal   `json:"total_paid"`
	Status          InstallmentStatus `json:"status"`
	LateFeeAmount   decimal.Decimal   `json:"late_fee_amount"`
	LateFeeApplied  bool              `json:"late_fee_applied"`
	GracePeriodDays int               `json:"grace_period_days"`
	PaymentDate     *time.Time        `json:"payment_date,omitempty"`
}

// OutstandingPrincipal is what is still owed on the principal bucket.
func (i *Installment) OutstandingPrincipal() decimal.Decimal {
	return i.PrincipalAmount.Sub(i.PaidPrincipal)
}

// OutstandingInterest is what is still owed on the interest bucket.
func (i *Installment) OutstandingInterest() decimal.Decimal {
	return i.InterestAmount.Sub(i.PaidInterest)
}

// Outstanding is the unpaid principal plus interest, fees excluded.
func (i *Installment) Outstanding() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidPrincipal).Sub(i.PaidInterest)
}

// OutstandingFee is the charged but unpaid late fee.
func (i *Installment) OutstandingFee() decimal.Decimal {
	return i.LateFeeAmount.Sub(i.PaidLateFee)
}

// Settled reports whether nothing is owed on the installment.
func (i *Installment) Settled() bool {
	return i.Outstanding().Sign() <= 0 && i.OutstandingFee().Sign() <= 0
}

// SyncTotalPaid restores TotalPaid from its parts.
func (i *Installment) SyncTotalPaid() {
	i.TotalPaid = i.PaidPrincipal.Add(i.PaidInterest).Add(i.PaidLateFee)
}

type Transaction struct {
	ID              uuid.UUID       `json:"id"`
	LoanID          uuid.UUID       `json:"loan_id"`
	InstallmentID   *uuid.UUID      `json:"installment_id,omitempty"`
	Type            TransactionType `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	PrincipalAmount decimal.Decimal `json:"principal_amount"`
	InterestAmount  decimal.Decimal `json:"interest_amount"`
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	Reference       string          `json:"reference,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	ValueDate       time.Time       `json:"value_date"`
	RecordedBy      string          `json:"recorded_by,omitempty"`
	Reversed        bool            `json:"reversed"`
	ReversalReason  string          `json:"reversal_reason,omitempty"`
	ReversedAt      *time.Time      `json:"reversed_at,omitempty"`
	ReversedBy      string          `json:"reversed_by,omitempty"`
}

// Client is the borrower's account record as the ledger sees it. The ledger
// only reads it, to address notifications.
type Client struct {
	Ref     string          `json:"ref"`
	Name    string          `json:"name"`
	Email   string          `json:"email,omitempty"`
	Phone   string          `json:"phone,omitempty"`
	Balance decimal.Decimal `json:"balance"`
}

// Allocation is the breakdown of one processed payment.
type Allocation struct {
	Principal       decimal.Decimal `json:"principal"`
	Interest        decimal.Decimal `json:"interest"`
	LateFees        decimal.Decimal `json:"late_fees"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Transactions    []*Transaction  `json:"transactions"`
}

// Date truncates t to midnight UTC. All business dates in the ledger are
// compared at day granularity.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Clone returns a deep copy of the loan, its schedule and transactions.
func (l *Loan) Clone() *Loan {
	c := *l
	c.DisbursementDate = cloneTime(l.DisbursementDate)
	c.MaturityDate = cloneTime(l.MaturityDate)
	c.FirstPaymentDate = cloneTime(l.FirstPaymentDate)
	c.NextPaymentDate = cloneTime(l.NextPaymentDate)
	c.ClosedAt = cloneTime(l.ClosedAt)
	c.Schedule = make([]*Installment, len(l.Schedule))
	for i, inst := range l.Schedule {
		ic := *inst
		ic.PaymentDate = cloneTime(inst.PaymentDate)
		c.Schedule[i] = &ic
	}
	c.Transactions = make([]*Transaction, len(l.Transactions))
	for i, txn := range l.Transactions {
		tc := *txn
		tc.ReversedAt = cloneTime(txn.ReversedAt)
		if txn.InstallmentID != nil {
			id := *txn.InstallmentID
			tc.InstallmentID = &id
		}
		c.Transactions[i] = &tc
	}
	return &c
}

// Installment returns the schedule entry with the given ID, or nil.
func (l *Loan) Installment(id uuid.UUID) *Installment {
	for _, inst := range l.Schedule {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

// Transaction returns the ledger entry with the given ID, or nil.
func (l *Loan) Transaction(id uuid.UUID) *Transaction {
	for _, txn := range l.Transactions {
		if txn.ID == id {
			return txn
		}
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
