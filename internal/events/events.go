// Package events publishes transfer lifecycle events to downstream consumers.
//
// Publishing is best-effort: Emit logs and counts failures but never returns
// them, so a broker outage cannot change a transfer's outcome.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/idgen"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/logging"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/metrics"
)

// Type names an event.
type Type string

const (
	TransferCompleted                 Type = "transfer.completed"
	TransferMFARequired               Type = "transfer.mfa_required"
	TransferRejectedHighRisk          Type = "transfer.rejected_high_risk"
	TransferRejectedInsufficientFunds Type = "transfer.rejected_insufficient_funds"
	TransferFailed                    Type = "transfer.failed"
	AccountBlocked                    Type = "account.blocked"
	AccountUnblocked                  Type = "account.unblocked"
	MFALocked                         Type = "mfa.locked"
)

// Event is the wire representation shared by all backends.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	TransferID string    `json:"transferId,omitempty"`
	AccountID  string    `json:"accountId,omitempty"`
	Status     string    `json:"status,omitempty"`
	RiskLevel  string    `json:"riskLevel,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher delivers events to a backend.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Emit fills in the event id, timestamp and request id, then publishes ev.
// Failures are logged and counted only.
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = idgen.WithPrefix(idgen.Event)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if ev.RequestID == "" {
		ev.RequestID = logging.RequestID(ctx)
	}

	if err := p.Publish(ctx, ev); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type), "error").Inc()
		logging.L(ctx).Warn("event publish failed",
			"event_type", ev.Type, "event_id", ev.ID, "transfer_id", ev.TransferID, "error", err)
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type), "ok").Inc()
}

func encode(ev Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return b, nil
}

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher that logs each event at info level.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, ev Event) error {
	p.logger.InfoContext(ctx, "event",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"transfer_id", ev.TransferID,
		"account_id", ev.AccountID,
		"status", ev.Status,
		"risk_level", ev.RiskLevel,
		"amount", ev.Amount,
		"currency", ev.Currency,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Recorder keeps published events in memory. Used by tests and as a
// development sink.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent Publish calls return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the types of everything published so far, in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
