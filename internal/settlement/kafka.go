package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Yusufzhafir/go-limitbook/internal/engine"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/segmentio/kafka-go"
)

const (
	EventSettlement = "settlement"
	EventRested     = "rested"
)

// Event is the JSON value of every message on the settlement topic.
type Event struct {
	Type       string            `json:"type"`
	Symbol     string            `json:"symbol"`
	OrderID    model.OrderId     `json:"orderId"`
	Settlement *model.Settlement `json:"settlement,omitempty"`
	Rested     *RestedOrder      `json:"rested,omitempty"`
}

type RestedOrder struct {
	Account  model.AccountId `json:"account"`
	Side     model.Side      `json:"side"`
	Price    model.Price     `json:"price"`
	Quantity model.Quantity  `json:"quantity"`
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSink struct {
	writer MessageWriter
	symbol string
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewKafkaSink(writer MessageWriter, symbol string) *KafkaSink {
	return &KafkaSink{writer: writer, symbol: symbol}
}

// Settle writes one message per fill plus a rested notice. Every message is
// keyed by the symbol, so the market's events share one partition in the
// order the worker applied them.
func (s *KafkaSink) Settle(ctx context.Context, result engine.SubmitResult) error {
	msgs, err := BuildMessages(s.symbol, result)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish settlements: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func BuildMessages(symbol string, result engine.SubmitResult) ([]kafka.Message, error) {
	orderID := result.Order.GetId()
	key := []byte(symbol)
	orderHeader := []byte(strconv.FormatUint(uint64(orderID), 10))

	events := make([]Event, 0, len(result.Settlements)+1)
	for i := range result.Settlements {
		events = append(events, Event{
			Type:       EventSettlement,
			Symbol:     symbol,
			OrderID:    orderID,
			Settlement: &result.Settlements[i],
		})
	}
	if result.Rested {
		events = append(events, Event{
			Type:    EventRested,
			Symbol:  symbol,
			OrderID: orderID,
			Rested: &RestedOrder{
				Account:  result.Order.GetAccount(),
				Side:     result.Order.GetSide(),
				Price:    result.Order.GetPrice(),
				Quantity: result.RestedQuantity(),
			},
		})
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   key,
			Value: value,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(ev.Type)},
				{Key: "order_id", Value: orderHeader},
			},
		})
	}
	return msgs, nil
}
