package model

import (
	"testing"

	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(id model.OrderId, side model.Side, price model.Price, qty model.Quantity) *model.Order {
	o := model.NewOrder(model.AccountId(id), side, price, qty).WithId(id)
	return &o
}

func prices(bs *BookSide) []model.Price {
	var out []model.Price
	bs.Ascend(func(level *PriceLevel) bool {
		out = append(out, level.Price)
		return true
	})
	return out
}

func TestBookSideOrdering(t *testing.T) {
	bids := NewBookSide(model.BID)
	asks := NewBookSide(model.ASK)
	for i, p := range []model.Price{100, 90, 110, 95} {
		bids.Rest(newOrder(model.OrderId(i+1), model.BID, p, 1))
		asks.Rest(newOrder(model.OrderId(i+10), model.ASK, p, 1))
	}

	assert.Equal(t, []model.Price{110, 100, 95, 90}, prices(bids))
	assert.Equal(t, []model.Price{90, 95, 100, 110}, prices(asks))

	best, ok := bids.Best()
	require.True(t, ok)
	assert.Equal(t, model.Price(110), best.Price)
	best, ok = asks.Best()
	require.True(t, ok)
	assert.Equal(t, model.Price(90), best.Price)
}

func TestBookSideFIFOWithinLevel(t *testing.T) {
	asks := NewBookSide(model.ASK)
	asks.Rest(newOrder(1, model.ASK, 50, 3))
	asks.Rest(newOrder(2, model.ASK, 50, 4))
	asks.Rest(newOrder(3, model.ASK, 50, 5))

	assert.Equal(t, 1, asks.Len())
	assert.Equal(t, 3, asks.OrderCount())

	level, ok := asks.Best()
	require.True(t, ok)
	assert.Equal(t, model.Quantity(12), level.TotalVolume)
	assert.Equal(t, model.OrderId(1), level.Front().GetId())

	popped := asks.RemoveFrontOf(level)
	assert.Equal(t, model.OrderId(1), popped.GetId())
	assert.Equal(t, model.OrderId(2), level.Front().GetId())
	assert.Equal(t, model.Quantity(9), level.TotalVolume)
}

func TestBookSideDropsEmptyLevel(t *testing.T) {
	bids := NewBookSide(model.BID)
	bids.Rest(newOrder(1, model.BID, 10, 2))
	bids.Rest(newOrder(2, model.BID, 9, 2))

	level, _ := bids.Best()
	bids.RemoveFrontOf(level)

	_, ok := bids.Get(10)
	assert.False(t, ok)
	assert.Equal(t, 1, bids.Len())
	best, _ := bids.Best()
	assert.Equal(t, model.Price(9), best.Price)

	bids.RemoveFrontOf(best)
	_, ok = bids.Best()
	assert.False(t, ok)
	assert.Equal(t, 0, bids.OrderCount())
}

func TestBookSideStructuralViolations(t *testing.T) {
	bids := NewBookSide(model.BID)
	assert.Panics(t, func() { bids.Rest(newOrder(1, model.ASK, 10, 1)) })
	assert.Panics(t, func() { bids.Rest(newOrder(2, model.BID, 10, 0)) })
	assert.Panics(t, func() { bids.RemoveFrontOf(&PriceLevel{Price: 10}) })

	level := &PriceLevel{Price: 10}
	assert.Panics(t, func() { level.PushBack(newOrder(3, model.BID, 11, 1)) })
	assert.Panics(t, func() { level.Front() })
}
