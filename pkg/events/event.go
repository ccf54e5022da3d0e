// Package events defines the loan domain events emitted after a ledger
// mutation commits, and publishers that ship them.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	LoanDisbursed       = "loan.disbursed"
	PaymentAllocated    = "loan.payment_allocated"
	LateFeesApplied     = "loan.late_fees_applied"
	LoanRescheduled     = "loan.rescheduled"
	TransactionReversed = "loan.transaction_reversed"
	LoanStatusChanged   = "loan.status_changed"
	LoanWrittenOff      = "loan.written_off"
)

// Event is a fact about one loan.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       string         `json:"type"`
	LoanID     uuid.UUID      `json:"loan_id"`
	LoanNumber string         `json:"loan_number,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// New creates an event with a fresh ID.
func New(eventType string, loanID uuid.UUID, loanNumber string, at time.Time, data map[string]any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		LoanID:     loanID,
		LoanNumber: loanNumber,
		OccurredAt: at,
		Data:       data,
	}
}

// Publisher ships events to subscribers. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Collector accumulates events while an operation runs so they can be
// published once the operation has committed.
type Collector struct {
	events []Event
}

// Record appends an event.
func (c *Collector) Record(e Event) {
	c.events = append(c.events, e)
}

// Drain returns the collected events and clears the collector.
func (c *Collector) Drain() []Event {
	out := c.events
	c.events = nil
	return out
}
