package engine

import (
	"fmt"
	"time"

	orderbookModel "github.com/Yusufzhafir/go-limitbook/internal/engine/model"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
)

type OrderBookEngine interface {
	Submit(order model.Order) (SubmitResult, error)
	Pair() model.Pair
	OrderSize() int
	LastPrice() (model.Price, bool)
	GetTopOfBook() *model.TopOfBook
	GetMarketDepth(levels int) *model.MarketDepth
}

// SubmitResult is everything one Submit call produced.
type SubmitResult struct {
	// Order is the submitted order after matching, carrying its assigned id
	// and remaining quantity.
	Order       model.Order
	Trades      []model.Trade
	Settlements []model.Settlement
	Rested      bool
}

// BalanceChanges flattens the settlements in emission order.
func (r SubmitResult) BalanceChanges() []model.BalanceChange {
	out := make([]model.BalanceChange, 0, len(r.Settlements)*4)
	for _, s := range r.Settlements {
		out = append(out, s.Changes[:]...)
	}
	return out
}

func (r SubmitResult) FilledQuantity() model.Quantity {
	return r.Order.GetFilledQuantity()
}

func (r SubmitResult) RestedQuantity() model.Quantity {
	if !r.Rested {
		return 0
	}
	return r.Order.GetRemainingQuantity()
}

// MatchingEngine is a single-instrument limit order book with price-time
// priority. It is not safe for concurrent use; callers serialise Submit.
type MatchingEngine struct {
	pair       model.Pair
	bids, asks *orderbookModel.BookSide
	nextId     model.OrderId
	lastPrice  model.Price
	traded     bool
	now        func() time.Time
}

type Option func(*MatchingEngine)

func WithClock(now func() time.Time) Option {
	return func(e *MatchingEngine) { e.now = now }
}

// WithLastOrderId resumes numbering after id, so a restarted engine never
// reuses ids already recorded downstream.
func WithLastOrderId(id model.OrderId) Option {
	return func(e *MatchingEngine) { e.nextId = id }
}

func NewOrderBookEngine(pair model.Pair, opts ...Option) *MatchingEngine {
	e := &MatchingEngine{
		pair: pair,
		bids: orderbookModel.NewBookSide(model.BID),
		asks: orderbookModel.NewBookSide(model.ASK),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *MatchingEngine) Pair() model.Pair {
	return e.pair
}

func (e *MatchingEngine) book(side model.Side) *orderbookModel.BookSide {
	if side == model.BID {
		return e.bids
	}
	return e.asks
}

// crosses reports whether an order on side with the given limit may trade
// against the opposing best price.
func crosses(side model.Side, limit, best model.Price) bool {
	if side == model.BID {
		return limit >= best
	}
	return limit <= best
}

func mustFill(o *model.Order, quantity model.Quantity) {
	if err := o.Fill(quantity); err != nil {
		panic(err)
	}
}

// Submit matches order against the opposing side and rests any remainder.
// Only a malformed order returns an error, and it leaves the book untouched.
func (e *MatchingEngine) Submit(order model.Order) (SubmitResult, error) {
	if err := order.Validate(); err != nil {
		return SubmitResult{}, err
	}

	e.nextId++
	taker := order.WithId(e.nextId)
	side := taker.GetSide()
	opposing := e.book(side.Opposite())

	var result SubmitResult
	for !taker.IsFilled() {
		level, ok := opposing.Best()
		if !ok || !crosses(side, taker.GetPrice(), level.Price) {
			break
		}

		maker := level.Front()
		quantity := min(taker.GetRemainingQuantity(), maker.GetRemainingQuantity())
		mustFill(&taker, quantity)
		mustFill(maker, quantity)
		level.Reduce(quantity)

		trade := model.Trade{
			Side:         side,
			MakerID:      maker.GetId(),
			TakerID:      taker.GetId(),
			MakerAccount: maker.GetAccount(),
			TakerAccount: taker.GetAccount(),
			Price:        level.Price,
			Quantity:     quantity,
			Timestamp:    e.now(),
		}
		result.Trades = append(result.Trades, trade)
		result.Settlements = append(result.Settlements, settle(e.pair, trade))
		e.lastPrice, e.traded = level.Price, true

		if maker.IsFilled() {
			opposing.RemoveFrontOf(level)
		}
	}

	if !taker.IsFilled() {
		resting := taker
		e.book(side).Rest(&resting)
		result.Rested = true
	}
	result.Order = taker

	if bid, ask := e.bestPrices(); bid != nil && ask != nil && *bid >= *ask {
		panic(fmt.Sprintf("book crossed after order %d: bid %d >= ask %d", taker.GetId(), *bid, *ask))
	}
	return result, nil
}

func (e *MatchingEngine) bestPrices() (bid, ask *model.Price) {
	if level, ok := e.bids.Best(); ok {
		bid = &level.Price
	}
	if level, ok := e.asks.Best(); ok {
		ask = &level.Price
	}
	return bid, ask
}

// OrderSize is the number of resting orders on both sides.
func (e *MatchingEngine) OrderSize() int {
	return e.asks.OrderCount() + e.bids.OrderCount()
}

func (e *MatchingEngine) LastPrice() (model.Price, bool) {
	return e.lastPrice, e.traded
}

func depthLevel(level *orderbookModel.PriceLevel) model.MarketDepthLevel {
	return model.MarketDepthLevel{
		Price:      level.Price,
		Volume:     level.TotalVolume,
		OrderCount: level.Len(),
	}
}

// Levels returns up to n levels of one side, best first. n <= 0 means all.
func (e *MatchingEngine) Levels(side model.Side, n int) []model.MarketDepthLevel {
	bs := e.book(side)
	out := make([]model.MarketDepthLevel, 0, bs.Len())
	bs.Ascend(func(level *orderbookModel.PriceLevel) bool {
		if n > 0 && len(out) >= n {
			return false
		}
		out = append(out, depthLevel(level))
		return true
	})
	return out
}

func (e *MatchingEngine) GetMarketDepth(levels int) *model.MarketDepth {
	return &model.MarketDepth{
		Symbol:    e.pair.Symbol(),
		Bids:      e.Levels(model.BID, levels),
		Asks:      e.Levels(model.ASK, levels),
		Timestamp: e.now().UnixMilli(),
	}
}

// GetTopOfBook returns best bid and ask
func (e *MatchingEngine) GetTopOfBook() *model.TopOfBook {
	tob := &model.TopOfBook{}
	if level, ok := e.bids.Best(); ok {
		best := depthLevel(level)
		tob.BestBid = &best
	}
	if level, ok := e.asks.Best(); ok {
		best := depthLevel(level)
		tob.BestAsk = &best
	}
	if tob.BestBid != nil && tob.BestAsk != nil {
		tob.Spread = tob.BestAsk.Price - tob.BestBid.Price
	}
	return tob
}
