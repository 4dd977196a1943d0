package notify

import (
	"context"
	"log/slog"
	"sync"
)

const (
	// KindError is a generic failure surfaced to the user once.
	KindError = "error"
	// KindPaymentGap tells the user a charge went through at the gateway
	// but has not been recorded against their scheme yet.
	KindPaymentGap = "payment_gap"
	// KindPaymentDone confirms a fully reconciled payment.
	KindPaymentDone = "payment_done"
)

// Message is a one-shot, user-visible notification.
type Message struct {
	Kind  string
	Title string
	Body  string
}

// Notifier delivers user-visible notifications.
type Notifier interface {
	Notify(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger. It stands in
// for the device alert surface.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger.With("component", "notify")}
}

// Notify writes the message to the structured logger.
func (n *LoggerNotifier) Notify(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "title", message.Title, "body", message.Body)
	return nil
}

// Recorder captures notifications for assertions in tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Notify records the message.
func (r *Recorder) Notify(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
