package events

import (
	"context"
	"encoding/json"
	"time"

	"carbonease-backend/internal/domain"

	"github.com/segmentio/kafka-go"
)

const (
	TransactionCreated   = "transaction.created"
	TransactionPaid      = "transaction.paid"
	TransactionCompleted = "transaction.completed"
	TransactionCancelled = "transaction.cancelled"
	TransactionRefunded  = "transaction.refunded"
	TransactionDisputed  = "transaction.disputed"
)

// TransactionEvent is the message published on every transaction lifecycle change.
type TransactionEvent struct {
	Type           string    `json:"type"`
	TransactionID  string    `json:"transactionId"`
	Reference      string    `json:"reference"`
	BuyerID        string    `json:"buyerId"`
	SellerID       string    `json:"sellerId"`
	CarbonCreditID string    `json:"carbonCreditId"`
	Quantity       int       `json:"quantity"`
	TotalAmount    float64   `json:"totalAmount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	PaymentStatus  string    `json:"paymentStatus"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func NewTransactionEvent(eventType string, t *domain.Transaction) TransactionEvent {
	return TransactionEvent{
		Type:           eventType,
		TransactionID:  t.ID.String(),
		Reference:      domain.ReferenceFor(t.ID),
		BuyerID:        t.BuyerID.String(),
		SellerID:       t.SellerID.String(),
		CarbonCreditID: t.CarbonCreditID.String(),
		Quantity:       t.Quantity,
		TotalAmount:    t.TotalAmount,
		Currency:       t.Currency,
		Status:         string(t.Status),
		PaymentStatus:  string(t.Payment.Status),
		OccurredAt:     time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt TransactionEvent) error
	Close() error
}

// KafkaPublisher writes transaction events to one topic, keyed by transaction id.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
			WriteTimeout:           10 * time.Second,
		},
	}
}

func (k *KafkaPublisher) Publish(ctx context.Context, evt TransactionEvent) error {
	v, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.TransactionID),
		Value: v,
		Time:  evt.OccurredAt,
	})
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// NopPublisher drops events; used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, TransactionEvent) error { return nil }
func (NopPublisher) Close() error                                    { return nil }
