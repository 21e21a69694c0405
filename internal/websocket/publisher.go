package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Yusufzhafir/go-limitbook/internal/engine"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/Yusufzhafir/go-limitbook/pkg/util"
)

// Trade is the message payload for a running trade.
type Trade struct {
	Symbol   string         `json:"symbol"`
	MakerID  model.OrderId  `json:"makerId"`
	TakerID  model.OrderId  `json:"takerId"`
	Price    model.Price    `json:"price"`
	PriceStr string         `json:"priceStr"`
	Qty      model.Quantity `json:"qty"`
	Side     string         `json:"side"` // taker side, "buy" / "sell"
	Ts       int64          `json:"ts"`   // unix ms
	Seq      uint64         `json:"seq"`
}

// BalanceChange is pushed to the owning account's topic.
type BalanceChange struct {
	Account  model.AccountId `json:"account"`
	Currency model.Currency  `json:"currency"`
	Delta    int64           `json:"delta"`
	TradeOf  model.OrderId   `json:"takerId"`
	Seq      uint64          `json:"seq"`
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func AccountTopic(account model.AccountId) string {
	return fmt.Sprintf("account:%d", account)
}

// Publisher turns submission results into hub messages: trades on the
// symbol topic and balance changes on each account topic.
type Publisher struct {
	hub        *Hub
	symbol     string
	priceScale int32
	seq        sequencer
}

func NewPublisher(hub *Hub, pair model.Pair, priceScale int32) *Publisher {
	return &Publisher{hub: hub, symbol: pair.Symbol(), priceScale: priceScale}
}

func (p *Publisher) Settle(ctx context.Context, result engine.SubmitResult) error {
	for _, s := range result.Settlements {
		if err := p.PublishTrade(s.Trade); err != nil {
			return err
		}
		for _, c := range s.Changes {
			if err := p.PublishBalanceChange(s.Trade.TakerID, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Publisher) PublishTrade(t model.Trade) error {
	side := "buy"
	if t.Side == model.ASK {
		side = "sell"
	}
	msg := Trade{
		Symbol:   p.symbol,
		MakerID:  t.MakerID,
		TakerID:  t.TakerID,
		Price:    t.Price,
		PriceStr: util.FormatPrice(int64(t.Price), p.priceScale),
		Qty:      t.Quantity,
		Side:     side,
		Ts:       t.Timestamp.UnixMilli(),
		Seq:      p.seq.next(p.symbol),
	}
	return p.publish(p.symbol, envelope{Type: "trade", Data: msg})
}

func (p *Publisher) PublishBalanceChange(takerID model.OrderId, c model.BalanceChange) error {
	topic := AccountTopic(c.Account)
	msg := BalanceChange{
		Account:  c.Account,
		Currency: c.Currency,
		Delta:    c.Delta,
		TradeOf:  takerID,
		Seq:      p.seq.next(topic),
	}
	return p.publish(topic, envelope{Type: "balance", Data: msg})
}

func (p *Publisher) publish(topic string, v envelope) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", v.Type, err)
	}
	p.hub.Publish(topic, b)
	return nil
}
