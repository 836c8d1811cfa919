package notification

import (
	"context"
	"log/slog"
)

// Event describes a committed settlement. Delivery of the actual user-facing
// notification is owned by a downstream system.
type Event struct {
	TransactionID    string
	Kind             string
	DebitAccountID   string
	CreditAccountIDs []string
	Amount           int64
	Currency         string
}

// Notifier receives settlement events after each successful posting.
type Notifier interface {
	Send(ctx context.Context, event Event) error
}

// LoggerNotifier is a stub implementation that writes settlement events to the
// structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the event to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, event Event) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("settlement",
		"transaction_id", event.TransactionID,
		"kind", event.Kind,
		"debit_account", event.DebitAccountID,
		"credit_accounts", event.CreditAccountIDs,
		"amount", event.Amount,
		"currency", event.Currency,
	)
	return nil
}
