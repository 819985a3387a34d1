package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// OrderPlacedEvent is published once an order is committed.
type OrderPlacedEvent struct {
	OrderID      string    `json:"orderId"`
	ProductIDs   []string  `json:"productIds"`
	CustomerName string    `json:"customerName"`
	PlacedAt     time.Time `json:"placedAt"`
}

// OrderPublisher notifies downstream consumers about committed orders.
type OrderPublisher interface {
	PublishOrderPlaced(ctx context.Context, order *Order) error
}

// NoopOrderPublisher is used when no broker is configured.
type NoopOrderPublisher struct{}

func (NoopOrderPublisher) PublishOrderPlaced(ctx context.Context, order *Order) error {
	return nil
}

// KafkaOrderPublisher writes order events keyed by order ID.
type KafkaOrderPublisher struct {
	writer *kafka.Writer
}

// NewKafkaOrderPublisher creates a publisher for a comma separated broker list.
func NewKafkaOrderPublisher(brokersCSV, topic string) (*KafkaOrderPublisher, error) {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	return &KafkaOrderPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}, nil
}

func (p *KafkaOrderPublisher) PublishOrderPlaced(ctx context.Context, order *Order) error {
	data, err := json.Marshal(OrderPlacedEvent{
		OrderID:      order.ID,
		ProductIDs:   order.ProductIDs,
		CustomerName: order.CustomerName,
		PlacedAt:     order.Date,
	})
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(order.ID),
		Value: data,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaOrderPublisher) Close() error {
	return p.writer.Close()
}
