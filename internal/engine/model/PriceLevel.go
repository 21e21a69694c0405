package model

import (
	"fmt"

	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/google/btree"
)

// PriceLevel is the FIFO queue of resting orders at one exact price.
type PriceLevel struct {
	Price       model.Price
	Orders      []*model.Order
	TotalVolume model.Quantity
}

func (pl *PriceLevel) Len() int {
	return len(pl.Orders)
}

// Front returns the order with time priority at this price.
func (pl *PriceLevel) Front() *model.Order {
	if len(pl.Orders) == 0 {
		panic(fmt.Sprintf("price level %d: front of empty level", pl.Price))
	}
	return pl.Orders[0]
}

func (pl *PriceLevel) PushBack(order *model.Order) {
	if order.GetPrice() != pl.Price {
		panic(fmt.Sprintf("price level %d: order %d priced at %d", pl.Price, order.GetId(), order.GetPrice()))
	}
	pl.Orders = append(pl.Orders, order)
	pl.TotalVolume += order.GetRemainingQuantity()
}

// PopFront removes the head order. The head's remaining quantity must
// already be reflected in TotalVolume via Reduce.
func (pl *PriceLevel) PopFront() *model.Order {
	if len(pl.Orders) == 0 {
		panic(fmt.Sprintf("price level %d: pop from empty level", pl.Price))
	}
	order := pl.Orders[0]
	pl.Orders[0] = nil
	pl.Orders = pl.Orders[1:]
	pl.TotalVolume -= order.GetRemainingQuantity()
	return order
}

// Reduce accounts for a fill against one of the level's orders.
func (pl *PriceLevel) Reduce(quantity model.Quantity) {
	pl.TotalVolume -= quantity
}

func bidLess(a, b *PriceLevel) bool { return a.Price > b.Price } // Reverse
func askLess(a, b *PriceLevel) bool { return a.Price < b.Price }

// BookSide holds the price levels of one side, best price first.
type BookSide struct {
	side   model.Side
	levels *btree.BTreeG[*PriceLevel]
	orders int
}

const degree = 32 // degree tuned for performance

func NewBookSide(side model.Side) *BookSide {
	less := askLess
	if side == model.BID {
		less = bidLess
	}
	return &BookSide{
		side:   side,
		levels: btree.NewG(degree, less),
	}
}

func (bs *BookSide) Side() model.Side {
	return bs.side
}

// Len is the number of price levels.
func (bs *BookSide) Len() int {
	return bs.levels.Len()
}

// OrderCount is the number of resting orders across all levels.
func (bs *BookSide) OrderCount() int {
	return bs.orders
}

// Best returns the level with the most favourable price on this side.
func (bs *BookSide) Best() (*PriceLevel, bool) {
	return bs.levels.Min()
}

func (bs *BookSide) Get(price model.Price) (*PriceLevel, bool) {
	return bs.levels.Get(&PriceLevel{Price: price})
}

// Rest appends order to the tail of its price level, creating the level
// when absent.
func (bs *BookSide) Rest(order *model.Order) {
	if order.GetSide() != bs.side {
		panic(fmt.Sprintf("book side %s: cannot rest %s order %d", bs.side, order.GetSide(), order.GetId()))
	}
	if order.GetRemainingQuantity() <= 0 {
		panic(fmt.Sprintf("book side %s: cannot rest order %d with quantity %d", bs.side, order.GetId(), order.GetRemainingQuantity()))
	}
	level, ok := bs.Get(order.GetPrice())
	if !ok {
		level = &PriceLevel{Price: order.GetPrice(), Orders: make([]*model.Order, 0, 4)}
		bs.levels.ReplaceOrInsert(level)
	}
	level.PushBack(order)
	bs.orders++
}

// RemoveFrontOf pops the level's head and drops the level once empty.
func (bs *BookSide) RemoveFrontOf(level *PriceLevel) *model.Order {
	order := level.PopFront()
	bs.orders--
	if level.Len() == 0 {
		if _, ok := bs.levels.Delete(level); !ok {
			panic(fmt.Sprintf("book side %s: level %d not in book", bs.side, level.Price))
		}
	}
	return order
}

// Ascend walks levels best-first until fn returns false.
func (bs *BookSide) Ascend(fn func(level *PriceLevel) bool) {
	bs.levels.Ascend(fn)
}
