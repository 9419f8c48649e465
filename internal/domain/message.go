package domain

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority ranks a message. It is carried into inbox records and the ledger;
// the router does not reorder on it.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ParsePriority accepts a priority name in any case. Empty means NORMAL.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToUpper(strings.TrimSpace(s))) {
	case "", PriorityNormal:
		return PriorityNormal, nil
	case PriorityLow:
		return PriorityLow, nil
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityUrgent:
		return PriorityUrgent, nil
	}
	return "", fmt.Errorf("unknown priority %q (want LOW, NORMAL, HIGH or URGENT)", s)
}

// DeliveryHint selects which strategies the router may use for a message.
type DeliveryHint string

const (
	HintAuto          DeliveryHint = "AUTO"
	HintGUIAutomation DeliveryHint = "GUI_AUTOMATION"
	HintInboxFile     DeliveryHint = "INBOX_FILE"
)

// ParseHint accepts a hint name in any case. Empty means AUTO.
func ParseHint(s string) (DeliveryHint, error) {
	switch DeliveryHint(strings.ToUpper(strings.TrimSpace(s))) {
	case "", HintAuto:
		return HintAuto, nil
	case HintGUIAutomation:
		return HintGUIAutomation, nil
	case HintInboxFile:
		return HintInboxFile, nil
	}
	return "", fmt.Errorf("unknown delivery hint %q (want AUTO, GUI_AUTOMATION or INBOX_FILE)", s)
}

// Message is one unit of agent-to-agent communication.
//
// The exported fields are set once by NewMessage (or by a decoder restoring a
// persisted message) and must not be modified afterwards. The attempt history
// is append-only and only reachable through AppendAttempt and Attempts.
type Message struct {
	ID        string       `json:"id"`
	Sender    string       `json:"sender"`
	Recipient string       `json:"recipient"`
	Content   string       `json:"content"`
	Priority  Priority     `json:"priority"`
	Hint      DeliveryHint `json:"hint"`
	CreatedAt time.Time    `json:"created_at"`

	mu       sync.Mutex
	attempts []DeliveryAttempt
}

// NewMessage creates a message with a fresh ID and creation time.
// Zero priority and hint default to NORMAL and AUTO.
func NewMessage(sender, recipient, content string, priority Priority, hint DeliveryHint) *Message {
	if priority == "" {
		priority = PriorityNormal
	}
	if hint == "" {
		hint = HintAuto
	}
	return &Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		Priority:  priority,
		Hint:      hint,
		CreatedAt: time.Now().UTC(),
	}
}

// AppendAttempt adds a record to the message's delivery history.
func (m *Message) AppendAttempt(a DeliveryAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	m.attempts = append(m.attempts, a)
}

// Attempts returns a copy of the delivery history in order.
func (m *Message) Attempts() []DeliveryAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeliveryAttempt, len(m.attempts))
	copy(out, m.attempts)
	return out
}

// Point is a position on the automation surface.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}
