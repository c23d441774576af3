package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/rl1809/lot-shop/internal/core/domain"
)

const SaleCompleted = "sale.completed"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SaleEvent is the payload published for every completed sale. Lot content is never included.
type SaleEvent struct {
	Event     string          `json:"event"`
	SaleID    string          `json:"sale_id"`
	BuyerID   int64           `json:"buyer_id"`
	Username  string          `json:"username,omitempty"`
	Type      string          `json:"type"`
	LotIDs    []int64         `json:"lot_ids"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(topic string, brokers ...string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishSale(ctx context.Context, sale domain.Sale) error {
	payload, err := json.Marshal(SaleEvent{
		Event:     SaleCompleted,
		SaleID:    sale.ID,
		BuyerID:   sale.Buyer.ID,
		Username:  sale.Buyer.Username,
		Type:      sale.Type,
		LotIDs:    domain.LotIDs(sale.Items),
		Total:     sale.Total,
		CreatedAt: sale.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal sale event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(sale.Buyer.ID, 10)), // buyer id keeps a buyer's sales ordered
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(SaleCompleted)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write sale event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishSale(context.Context, domain.Sale) error { return nil }

func (NopPublisher) Close() error { return nil }
