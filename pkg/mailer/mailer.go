// Package mailer defines the mail-send capability the engine consumes. The
// actual delivery transport lives outside the engine; implementations here are
// the interface, a slog-backed mailer for development, and a recording mailer
// for tests.
package mailer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Message is one templated email send.
type Message struct {
	TemplateID string            `json:"template_id"`
	To         string            `json:"to"`
	FromName   string            `json:"from_name,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// Mailer sends templated emails. Send failures are surfaced to the caller;
// the mailer's own retry policy, if any, is its own concern.
type Mailer interface {
	Send(ctx context.Context, message Message) error
}

// ErrMissingRecipient is returned when a message has no recipient address.
var ErrMissingRecipient = errors.New("message has no recipient address")

// LogMailer logs sends instead of delivering them. Useful for development and
// dry runs.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, message Message) error {
	if message.To == "" {
		return ErrMissingRecipient
	}

	m.logger.InfoContext(ctx, "Sending email",
		"template_id", message.TemplateID,
		"to", message.To,
		"from_name", message.FromName,
		"variables", message.Variables)

	return nil
}

// RecordingMailer captures sent messages for assertions in tests. An optional
// failure error makes every send fail.
type RecordingMailer struct {
	mu       sync.Mutex
	messages []Message
	failWith error
}

func NewRecordingMailer() *RecordingMailer {
	return &RecordingMailer{}
}

// FailWith makes subsequent sends return err. Pass nil to restore delivery.
func (m *RecordingMailer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *RecordingMailer) Send(_ context.Context, message Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return m.failWith
	}

	if message.To == "" {
		return ErrMissingRecipient
	}

	m.messages = append(m.messages, message)

	return nil
}

// Messages returns a copy of everything sent so far.
func (m *RecordingMailer) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, len(m.messages))
	copy(out, m.messages)

	return out
}
