package model

import "time"

type Currency string

// Pair is the single instrument a book trades: Base is bought and sold,
// Quote is what prices are denominated in.
type Pair struct {
	Base  Currency `json:"base"`
	Quote Currency `json:"quote"`
}

func (p Pair) Symbol() string {
	return string(p.Base) + "-" + string(p.Quote)
}

type Trade struct {
	Side         Side      `json:"side"` // taker side
	MakerID      OrderId   `json:"makerId"`
	TakerID      OrderId   `json:"takerId"`
	MakerAccount AccountId `json:"makerAccount"`
	TakerAccount AccountId `json:"takerAccount"`
	Price        Price     `json:"price"`
	Quantity     Quantity  `json:"quantity"`
	Timestamp    time.Time `json:"timestamp"`
}

func (t Trade) Notional() int64 {
	return int64(t.Quantity) * int64(t.Price)
}

// Buyer and Seller resolve the counterparties from the taker side.
func (t Trade) Buyer() AccountId {
	if t.Side == BID {
		return t.TakerAccount
	}
	return t.MakerAccount
}

func (t Trade) Seller() AccountId {
	if t.Side == BID {
		return t.MakerAccount
	}
	return t.TakerAccount
}

type BalanceChange struct {
	Account  AccountId `json:"account"`
	Delta    int64     `json:"delta"`
	Currency Currency  `json:"currency"`
}

// Settlement is the atomic unit handed to ledgers: one trade and its four
// balance changes, ordered taker base, taker quote, maker base, maker quote.
type Settlement struct {
	Trade   Trade            `json:"trade"`
	Changes [4]BalanceChange `json:"changes"`
}
