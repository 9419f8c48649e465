package inbox

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"agentrelay/internal/domain"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingHeader means the data does not start with a --- fence.
	ErrMissingHeader = errors.New("inbox: missing record header")
	// ErrMalformedHeader means the header fence is unterminated or the YAML is invalid.
	ErrMalformedHeader = errors.New("inbox: malformed record header")
)

// Record is a message as stored in an inbox: a YAML header followed by the
// content, byte for byte.
//
//	---
//	id: 3f1c...
//	from: Agent-0
//	to: Agent-2
//	priority: HIGH
//	hint: AUTO
//	created: 2026-01-02T03:04:05.123456789Z
//	---
//	content...
type Record struct {
	ID        string
	Sender    string
	Recipient string
	Priority  domain.Priority
	Hint      domain.DeliveryHint
	CreatedAt time.Time
	Content   string

	// Path is the file the record was read from. Empty for records not on disk.
	Path string
}

type header struct {
	ID       string `yaml:"id"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Priority string `yaml:"priority"`
	Hint     string `yaml:"hint,omitempty"`
	Created  string `yaml:"created"`
}

// FromMessage captures the fields of msg that an inbox record persists.
func FromMessage(msg *domain.Message) Record {
	return Record{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Priority:  msg.Priority,
		Hint:      msg.Hint,
		CreatedAt: msg.CreatedAt,
		Content:   msg.Content,
	}
}

// Message rebuilds a domain message with the record's identity and timestamp.
// The attempt history starts empty.
func (r Record) Message() *domain.Message {
	return &domain.Message{
		ID:        r.ID,
		Sender:    r.Sender,
		Recipient: r.Recipient,
		Content:   r.Content,
		Priority:  r.Priority,
		Hint:      r.Hint,
		CreatedAt: r.CreatedAt,
	}
}

// Encode renders r in the on-disk format.
func Encode(r Record) ([]byte, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("inbox: record has no id")
	}
	h := header{
		ID:       r.ID,
		From:     r.Sender,
		To:       r.Recipient,
		Priority: string(r.Priority),
		Hint:     string(r.Hint),
		Created:  r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := yaml.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("inbox: encode header: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + len(r.Content) + 8)
	buf.WriteString("---\n")
	buf.Write(data)
	buf.WriteString("---\n")
	buf.WriteString(r.Content)
	return buf.Bytes(), nil
}

// Decode parses data produced by Encode.
func Decode(data []byte) (Record, error) {
	if !bytes.HasPrefix(data, []byte("---\n")) {
		return Record{}, ErrMissingHeader
	}
	// The header always ends with a newline, so the closing fence starts a line.
	end := bytes.Index(data[3:], []byte("\n---\n"))
	if end < 0 {
		return Record{}, ErrMalformedHeader
	}
	headEnd := 3 + end + 1
	var h header
	if err := yaml.Unmarshal(data[4:headEnd], &h); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if h.ID == "" {
		return Record{}, fmt.Errorf("%w: missing id", ErrMalformedHeader)
	}
	created, err := time.Parse(time.RFC3339Nano, h.Created)
	if err != nil {
		return Record{}, fmt.Errorf("%w: created: %v", ErrMalformedHeader, err)
	}
	priority, err := domain.ParsePriority(h.Priority)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	hint, err := domain.ParseHint(h.Hint)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	return Record{
		ID:        h.ID,
		Sender:    h.From,
		Recipient: h.To,
		Priority:  priority,
		Hint:      hint,
		CreatedAt: created,
		Content:   string(data[headEnd+4:]),
	}, nil
}
