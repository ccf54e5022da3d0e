package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/clock"
	"github.com/mcclellann/loanledger/pkg/credit"
	"github.com/mcclellann/loanledger/pkg/events"
	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/loanno"
	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/notify"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultLockTimeout = 5 * time.Second
	systemActor        = "system"
)

// ClientDirectory resolves the borrower's account record.
type ClientDirectory interface {
	GetClient(ctx context.Context, ref string) (*models.Client, error)
}

// Ledger handles the business logic for loans and transactions.
type Ledger struct {
	storage     store.Storage
	clock       clock.Clock
	logger      *logrus.Logger
	locks       *loanLocks
	lockTimeout time.Duration
	numbers     *loanno.Generator
	clients     ClientDirectory
	notifier    notify.Sender
	publisher   events.Publisher
	metrics     *metrics.Metrics
	credit      *credit.Policy
	remindDays  int
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithClock(c clock.Clock) Option { return func(l *Ledger) { l.clock = c } }
func WithLogger(lg *logrus.Logger) Option { return func(l *Ledger) { l.logger = lg } }
func WithLockTimeout(d time.Duration) Option { return func(l *Ledger) { l.lockTimeout = d } }
func WithLoanNumbers(g *loanno.Generator) Option { return func(l *Ledger) { l.numbers = g } }
func WithClients(c ClientDirectory) Option { return func(l *Ledger) { l.clients = c } }
func WithNotifier(n notify.Sender) Option { return func(l *Ledger) { l.notifier = n } }
func WithPublisher(p events.Publisher) Option { return func(l *Ledger) { l.publisher = p } }
func WithMetrics(m *metrics.Metrics) Option { return func(l *Ledger) { l.metrics = m } }

// WithCreditPolicy makes CreateLoan score the client and refuse loans the
// policy does not allow.
func WithCreditPolicy(p credit.Policy) Option { return func(l *Ledger) { l.credit = &p } }

// WithReminderDays makes the daily sweep remind borrowers of installments
// falling due within days. Zero turns reminders off.
func WithReminderDays(days int) Option { return func(l *Ledger) { l.remindDays = days } }

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:     s,
		clock:       clock.SystemClock{},
		logger:      logrus.StandardLogger(),
		locks:       newLoanLocks(),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.numbers == nil {
		// Node 1 is always in range.
		l.numbers, _ = loanno.NewGenerator(1)
	}
	return l
}

func (l *Ledger) today() time.Time {
	return models.Date(l.clock.Now())
}

// CreateProduct validates and stores a new loan product.
func (l *Ledger) CreateProduct(ctx context.Context, p *models.LoanProduct) (*models.LoanProduct, error) {
	if err := validateProduct(p); err != nil {
		return nil, err
	}
	now := l.clock.Now()
	p.ID = uuid.New()
	p.CreatedAt, p.UpdatedAt = now, now
	if err := l.storage.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to store product: %w", err)
	}
	return p, nil
}

// GetProduct retrieves a product by its ID.
func (l *Ledger) GetProduct(ctx context.Context, id uuid.UUID) (*models.LoanProduct, error) {
	return l.storage.GetProduct(ctx, id)
}

func (l *Ledger) GetAllProducts(ctx context.Context) ([]*models.LoanProduct, error) {
	return l.storage.GetAllProducts(ctx)
}

// UpdateProduct edits a product. Loans already disbursed keep the terms they
// were snapshotted with.
func (l *Ledger) UpdateProduct(ctx context.Context, p *models.LoanProduct) (*models.LoanProduct, error) {
	existing, err := l.storage.GetProduct(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = l.clock.Now()
	if err := l.storage.UpdateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return p, nil
}

// CreateLoanRequest is an application for a loan under a product.
type CreateLoanRequest struct {
	ClientRef string          `json:"client_ref"`
	ProductID uuid.UUID       `json:"product_id"`
	Principal decimal.Decimal `json:"principal"`
	TermDays  int             `json:"term_days"`
}

// CreateLoan records a loan awaiting disbursement. With a credit policy set
// the client must exist and pass it.
func (l *Ledger) CreateLoan(ctx context.Context, req CreateLoanRequest) (*models.Loan, error) {
	if req.ClientRef == "" {
		return nil, apperrors.Validation("client_ref", "is required")
	}
	product, err := l.storage.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, apperrors.Validation("product_id", "product %s is not active", product.Name)
	}
	if err := validateAmount("principal", req.Principal); err != nil {
		return nil, err
	}
	if req.Principal.LessThan(product.MinAmount) || req.Principal.GreaterThan(product.MaxAmount) {
		return nil, apperrors.Validation("principal", "%s is outside the product range %s-%s",
			req.Principal, product.MinAmount, product.MaxAmount)
	}
	if req.TermDays <= 0 {
		return nil, apperrors.Validation("term_days", "must be positive, got %d", req.TermDays)
	}
	if req.TermDays < product.MinTermDays || req.TermDays > product.MaxTermDays {
		return nil, apperrors.Validation("term_days", "%d is outside the product range %d-%d",
			req.TermDays, product.MinTermDays, product.MaxTermDays)
	}
	if l.credit != nil {
		a, err := l.AssessCredit(ctx, req.ClientRef, req.Principal)
		if err != nil {
			return nil, err
		}
		if !a.Approved {
			return nil, apperrors.Validation("principal", "credit check failed: %s (score %s, rating %s)",
				a.Reason, a.Score.StringFixed(2), a.Rating)
		}
	}

	now := l.clock.Now()
	loan := &models.Loan{
		ID:                   uuid.New(),
		ClientRef:            req.ClientRef,
		ProductID:            product.ID,
		Principal:            req.Principal,
		InterestRate:         product.AnnualRate,
		TermDays:             req.TermDays,
		Terms:                models.TermsFromProduct(product),
		Status:               models.LoanPendingDisbursement,
		ProcessingFee:        decimal.Zero,
		TotalInterestAmount:  decimal.Zero,
		TotalRepaymentAmount: decimal.Zero,
		TotalPaidAmount:      decimal.Zero,
		RemainingBalance:     decimal.Zero,
		OverdueAmount:        decimal.Zero,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}
	l.logger.WithFields(logrus.Fields{"loan_id": loan.ID, "client_ref": loan.ClientRef}).Info("loan created")
	return loan, nil
}

// GetLoan retrieves a loan with its schedule and transactions.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(ctx, id)
}

// GetAllLoans retrieves all loans without their schedules.
func (l *Ledger) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	return l.storage.GetAllLoans(ctx)
}

// GetTransactions returns the ledger entries of a loan in posting order.
func (l *Ledger) GetTransactions(ctx context.Context, loanID uuid.UUID) ([]*models.Transaction, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.GetTransactionsForLoan(ctx, loanID)
}

// CancelLoan deletes a loan that was never disbursed.
func (l *Ledger) CancelLoan(ctx context.Context, id uuid.UUID) error {
	release, err := l.lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return err
	}
	if loan.Status != models.LoanPendingDisbursement {
		return apperrors.Validation("status", "only loans pending disbursement can be cancelled, loan is %s", loan.Status)
	}
	if err := l.storage.DeleteLoan(ctx, id); err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	l.logger.WithField("loan_id", id).Info("loan cancelled")
	return nil
}

// effects are collected while a mutation runs and released after commit.
type effects struct {
	events  events.Collector
	notices []notify.Message
}

func (fx *effects) notice(subject, body string) {
	fx.notices = append(fx.notices, notify.Message{Subject: subject, Body: body})
}

type mutation func(loan *models.Loan, fx *effects) error

func (l *Ledger) lock(ctx context.Context, id uuid.UUID) (func(), error) {
	start := time.Now()
	release, err := l.locks.acquire(ctx, id, l.lockTimeout)
	l.metrics.LockWait(time.Since(start))
	return release, err
}

// mutate runs fn against a freshly loaded copy of the loan under the loan's
// lock, reconciles, verifies and saves it as one unit. Nothing is written if
// any step fails.
func (l *Ledger) mutate(ctx context.Context, loanID uuid.UUID, op string, fn mutation) (*models.Loan, error) {
	return l.mutateAsOf(ctx, loanID, op, time.Time{}, fn)
}

// mutateAsOf is mutate with statuses derived for asOf instead of the clock's
// current date. A zero asOf means today.
func (l *Ledger) mutateAsOf(ctx context.Context, loanID uuid.UUID, op string, asOf time.Time, fn mutation) (loan *models.Loan, err error) {
	log := l.logger.WithFields(logrus.Fields{"loan_id": loanID, "op": op})
	defer func() { l.metrics.Operation(op, err) }()

	release, err := l.lock(ctx, loanID)
	if err != nil {
		return nil, err
	}
	defer release()

	loan, err = l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	before := loan.Status

	fx := &effects{}
	if err := fn(loan, fx); err != nil {
		return nil, err
	}

	now := l.clock.Now()
	if asOf.IsZero() {
		asOf = now
	}
	reconcile(loan, models.Date(asOf), now)
	if err := verify(loan); err != nil {
		log.WithError(err).Error("ledger invariant broken, operation aborted")
		return nil, err
	}
	loan.UpdatedAt = now
	if err := l.storage.SaveLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to save loan: %w", err)
	}

	if loan.Status != before {
		fx.events.Record(events.New(events.LoanStatusChanged, loan.ID, loan.LoanNumber, now,
			map[string]any{"from": before, "to": loan.Status}))
		log.WithFields(logrus.Fields{"from": before, "to": loan.Status}).Info("loan status changed")
		if loan.Status == models.LoanOverdue {
			fx.notice(fmt.Sprintf("URGENT: Overdue payment on loan %s", loan.LoanNumber), fmt.Sprintf(
				"Your payment on loan %s is now %d day(s) overdue. Amount overdue: %s. Outstanding balance: %s.\n\n"+
					"Late fees may apply. Please pay immediately or contact us to discuss payment arrangements.",
				loan.LoanNumber, loan.DaysOverdue, loan.OverdueAmount.StringFixed(2), loan.RemainingBalance.StringFixed(2)))
		}
	}
	l.release(ctx, loan, fx)
	return loan, nil
}

// release publishes events and sends notices. Failures are logged only.
func (l *Ledger) release(ctx context.Context, loan *models.Loan, fx *effects) {
	if evs := fx.events.Drain(); len(evs) > 0 && l.publisher != nil {
		if err := l.publisher.Publish(ctx, evs...); err != nil {
			l.logger.WithError(err).WithField("loan_id", loan.ID).Warn("failed to publish loan events")
		}
	}
	l.deliver(ctx, loan, fx.notices)
}

// deliver sends msgs to the loan's client, by email when there is one and to
// the phone number otherwise. It returns how many were sent.
func (l *Ledger) deliver(ctx context.Context, loan *models.Loan, msgs []notify.Message) int {
	if len(msgs) == 0 || l.notifier == nil || l.clients == nil {
		return 0
	}
	log := l.logger.WithField("loan_id", loan.ID)
	client, err := l.clients.GetClient(ctx, loan.ClientRef)
	if err != nil {
		log.WithError(err).Warn("failed to resolve client for notification")
		return 0
	}
	to := client.Email
	if to == "" {
		to = client.Phone
	}
	if to == "" {
		return 0
	}
	sent := 0
	for _, msg := range msgs {
		msg.To = to
		msg.Body = fmt.Sprintf("Dear %s,\n\n%s", client.Name, msg.Body)
		if err := l.notifier.Send(ctx, msg); err != nil {
			log.WithError(err).Warnf("failed to send notification %q", msg.Subject)
			continue
		}
		sent++
	}
	return sent
}

func newTransaction(loan *models.Loan, typ models.TransactionType, amount decimal.Decimal, valueDate, now time.Time, actor string) *models.Transaction {
	return &models.Transaction{
		ID:              uuid.New(),
		LoanID:          loan.ID,
		Type:            typ,
		Amount:          amount,
		PrincipalAmount: decimal.Zero,
		InterestAmount:  decimal.Zero,
		FeeAmount:       decimal.Zero,
		Timestamp:       now,
		ValueDate:       models.Date(valueDate),
		RecordedBy:      actor,
	}
}

func validateAmount(field string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return apperrors.Validation(field, "must be positive, got %s", amount)
	}
	if !interest.Round(amount).Equal(amount) {
		return apperrors.Validation(field, "must have at most two decimal places, got %s", amount)
	}
	return nil
}

func validateProduct(p *models.LoanProduct) error {
	switch {
	case p.Name == "":
		return apperrors.Validation("name", "is required")
	case p.InterestType != models.InterestFlat && p.InterestType != models.InterestReducingBalance:
		return apperrors.Validation("interest_type", "unsupported interest type %q", p.InterestType)
	case !interest.ValidDayCount(p.DayCount):
		return apperrors.Validation("day_count", "unsupported day count %q", p.DayCount)
	case p.AnnualRate.Sign() < 0:
		return apperrors.Validation("annual_rate", "must not be negative")
	case p.MinAmount.Sign() <= 0 || p.MaxAmount.LessThan(p.MinAmount):
		return apperrors.Validation("min_amount", "amount range %s-%s is invalid", p.MinAmount, p.MaxAmount)
	case p.MinTermDays <= 0 || p.MaxTermDays < p.MinTermDays:
		return apperrors.Validation("min_term_days", "term range %d-%d is invalid", p.MinTermDays, p.MaxTermDays)
	case p.ProcessingFeePercent.Sign() < 0 || p.LateFeePercent.Sign() < 0 || p.EarlyRepaymentPenaltyPercent.Sign() < 0:
		return apperrors.Validation("fees", "fee percentages must not be negative")
	case p.GracePeriodDays < 0:
		return apperrors.Validation("grace_period_days", "must not be negative")
	}
	return nil
}
