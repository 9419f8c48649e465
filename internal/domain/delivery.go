package domain

import (
	"context"
	"time"
)

// Outcome is the result of one attempt or of a whole delivery.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeSkipped Outcome = "SKIPPED"
)

// FailureReason explains a failed DeliveryResult.
type FailureReason string

const (
	ReasonNone                FailureReason = ""
	ReasonNoRoute             FailureReason = "NO_ROUTE"
	ReasonAllStrategiesFailed FailureReason = "ALL_STRATEGIES_FAILED"
	ReasonCanceled            FailureReason = "CANCELED"
)

// RouterStrategyName labels attempts recorded by the router itself rather than
// by a delivery strategy (the NO_ROUTE short-circuit).
const RouterStrategyName = "ROUTER"

// DeliveryAttempt is the audit record of one strategy try.
type DeliveryAttempt struct {
	Strategy    string    `json:"strategy"`
	Outcome     Outcome   `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	Try         int       `json:"try,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// DeliveryResult is the terminal outcome of Router.Deliver.
type DeliveryResult struct {
	MessageID   string            `json:"message_id"`
	Sender      string            `json:"sender"`
	Recipient   string            `json:"recipient"`
	Priority    Priority          `json:"priority"`
	Hint        DeliveryHint      `json:"hint"`
	Outcome     Outcome           `json:"outcome"`
	Strategy    string            `json:"strategy,omitempty"`
	Reason      FailureReason     `json:"reason,omitempty"`
	Err         error             `json:"-"`
	Error       string            `json:"error,omitempty"`
	Attempts    []DeliveryAttempt `json:"attempts"`
	Duplicate   bool              `json:"duplicate,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Succeeded reports whether the message reached its recipient.
func (r DeliveryResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Strategy is one way of getting a message to a recipient.
type Strategy interface {
	Name() string
	CanHandle(recipient string) bool
	// Send delivers the message. Returned errors should be
	// *TransientDeliveryError or *PermanentDeliveryError; anything else is
	// treated as permanent.
	Send(ctx context.Context, msg *Message) error
}

// CoordinateStore maps recipients to positions on the automation surface.
type CoordinateStore interface {
	GetCoordinates(recipient string) (Point, bool)
}

// InboxStore resolves and writes per-recipient durable records.
type InboxStore interface {
	ResolvePath(recipient string) (string, bool)
	// AppendRecord writes record into dir atomically and returns its path.
	AppendRecord(dir string, record []byte) (string, error)
}

// Ledger keeps terminal delivery results keyed by message ID.
type Ledger interface {
	// Lookup returns the stored result for id, if any.
	Lookup(ctx context.Context, id string) (*DeliveryResult, error)
	Record(ctx context.Context, result DeliveryResult) error
}
