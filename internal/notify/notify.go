// Package notify delivers user-facing notifications produced by the
// approval workflow.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/richardliu001/treasury-service/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Event kinds.
const (
	KindSubmitted = "TransactionsSubmitted"
	KindValidated = "TransactionsValidated"
)

// Notification is a message for a set of recipients.
type Notification struct {
	Kind           string   `json:"kind"`
	Recipients     []uint64 `json:"recipients"`
	SenderID       *uint64  `json:"sender_id,omitempty"`
	Message        string   `json:"message"`
	Link           string   `json:"link"`
	TransactionIDs []uint64 `json:"transaction_ids"`
}

// Notifier accepts notifications for delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type outboxWriter interface {
	DB(ctx context.Context) *gorm.DB
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
}

// Outbox stores notifications in the event outbox; the poller relays them.
type Outbox struct {
	repo outboxWriter
}

func NewOutbox(r outboxWriter) *Outbox { return &Outbox{repo: r} }

// Notify writes one outbox row per notification.
func (o *Outbox) Notify(ctx context.Context, n Notification) error {
	if len(n.Recipients) == 0 {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	var aggID uint64
	if len(n.TransactionIDs) > 0 {
		aggID = n.TransactionIDs[0]
	}
	evt := &model.OutboxEvent{
		Aggregate:   "Transaction",
		AggregateID: aggID,
		EventType:   n.Kind,
		Payload:     string(payload),
	}
	return o.repo.CreateOutboxEvent(ctx, o.repo.DB(ctx), evt)
}

type relaySource interface {
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	MarkOutboxProcessed(ctx context.Context, id uint64) error
}

// Relay moves outbox rows to Kafka.
type Relay struct {
	repo  relaySource
	log   *zap.SugaredLogger
	batch int
}

func NewRelay(r relaySource, log *zap.SugaredLogger, batch int) *Relay {
	if batch <= 0 {
		batch = 100
	}
	return &Relay{repo: r, log: log, batch: batch}
}

// RunOnce relays one batch and returns how many events were sent.
// A failed publish leaves the row for the next round.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.repo.PollOutbox(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range events {
		if err := r.repo.PublishEvent(ctx, evt); err != nil {
			r.log.Errorf("publish id=%d: %v", evt.ID, err)
			continue
		}
		if err := r.repo.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			r.log.Errorf("mark processed id=%d: %v", evt.ID, err)
			continue
		}
		sent++
	}
	return sent, nil
}

// Run relays on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.RunOnce(ctx)
			if err != nil {
				r.log.Errorf("poll outbox: %v", err)
				continue
			}
			if n > 0 {
				r.log.Infof("relayed %d notification events", n)
			}
		}
	}
}
