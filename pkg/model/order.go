package model

import (
	"fmt"
	"math"
	"strings"
)

type Order struct {
	id                OrderId
	account           AccountId
	side              Side // BID or ASK
	price             Price
	initialQuantity   Quantity
	remainingQuantity Quantity
}

// NewOrder builds an order that has not been submitted yet. The engine
// assigns its id on submission.
func NewOrder(account AccountId, side Side, price Price, quantity Quantity) Order {
	return Order{
		account:           account,
		side:              side,
		price:             price,
		initialQuantity:   quantity,
		remainingQuantity: quantity,
	}
}

// Validate reports why an order cannot enter a book. The returned error
// wraps ErrMalformedInput.
func (o *Order) Validate() error {
	if o.account == 0 {
		return fmt.Errorf("%w: account is required", ErrMalformedInput)
	}
	if !o.side.Valid() {
		return fmt.Errorf("%w: unknown side %d", ErrMalformedInput, o.side)
	}
	if o.remainingQuantity <= 0 {
		return fmt.Errorf("%w: quantity must be > 0, got %d", ErrMalformedInput, o.remainingQuantity)
	}
	if o.price < 0 {
		return fmt.Errorf("%w: price must be >= 0, got %d", ErrMalformedInput, o.price)
	}
	if o.price > 0 && int64(o.remainingQuantity) > math.MaxInt64/int64(o.price) {
		return fmt.Errorf("%w: notional %d x %d overflows", ErrMalformedInput, o.remainingQuantity, o.price)
	}
	return nil
}

// WithId stamps the engine-assigned id.
func (o Order) WithId(id OrderId) Order {
	o.id = id
	return o
}

func (o *Order) GetFilledQuantity() Quantity {
	return o.initialQuantity - o.remainingQuantity
}

func (o *Order) Fill(quantity Quantity) error {
	if quantity > o.remainingQuantity {
		return fmt.Errorf("order %d cannot be filled for more than its remaining quantity", o.id)
	}
	o.remainingQuantity -= quantity
	return nil
}

func (o *Order) IsFilled() bool {
	return o.remainingQuantity == 0
}

func (o *Order) GetRemainingQuantity() Quantity {
	return o.remainingQuantity
}

func (o *Order) GetPrice() Price {
	return o.price
}

func (o *Order) GetId() OrderId {
	return o.id
}

func (o *Order) GetAccount() AccountId {
	return o.account
}

func (o *Order) GetSide() Side {
	return o.side
}

func (o *Order) GetInitialQuantity() Quantity {
	return o.initialQuantity
}

type Price int64
type Quantity int64
type OrderId uint64
type AccountId int64

type Side uint8

const (
	BID Side = iota
	ASK
)

func (s Side) Valid() bool {
	return s == BID || s == ASK
}

// Opposite returns the side an order of s crosses against.
func (s Side) Opposite() Side {
	if s == BID {
		return ASK
	}
	return BID
}

func (s Side) String() string {
	switch s {
	case BID:
		return "BUY"
	case ASK:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", uint8(s))
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: unknown side %d", ErrMalformedInput, s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText accepts BUY/BID and SELL/ASK in any case.
func (s *Side) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "BUY", "BID":
		*s = BID
	case "SELL", "ASK":
		*s = ASK
	default:
		return fmt.Errorf("%w: unknown side %q", ErrMalformedInput, string(b))
	}
	return nil
}
