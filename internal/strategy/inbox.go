package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"agentrelay/internal/domain"
	"agentrelay/internal/inbox"
)

// InboxStrategy delivers by writing a record file into the recipient's inbox.
// A nil error means the record is durable and readable.
type InboxStrategy struct {
	store  domain.InboxStore
	logger *slog.Logger
}

// NewInbox creates an inbox strategy over store.
func NewInbox(store domain.InboxStore, logger *slog.Logger) *InboxStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &InboxStrategy{store: store, logger: logger}
}

func (s *InboxStrategy) Name() string { return InboxName }

// CanHandle reports whether the store resolves an inbox for the recipient.
func (s *InboxStrategy) CanHandle(recipient string) bool {
	if s.store == nil {
		return false
	}
	_, ok := s.store.ResolvePath(recipient)
	return ok
}

// Send encodes the message and appends it. Every failure is permanent.
func (s *InboxStrategy) Send(_ context.Context, msg *domain.Message) error {
	dir, ok := s.store.ResolvePath(msg.Recipient)
	if !ok {
		return domain.Permanent(InboxName, fmt.Errorf("no inbox for %q", msg.Recipient))
	}
	data, err := inbox.Encode(inbox.FromMessage(msg))
	if err != nil {
		return domain.Permanent(InboxName, err)
	}
	path, err := s.store.AppendRecord(dir, data)
	if err != nil {
		return domain.Permanent(InboxName, err)
	}
	s.logger.Debug("inbox record written", "recipient", msg.Recipient, "id", msg.ID, "path", path)
	return nil
}
