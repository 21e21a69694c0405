package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Yusufzhafir/go-limitbook/internal/engine"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/Yusufzhafir/go-limitbook/pkg/util"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("order usecase is closed")

type OrderUseCase interface {
	AddOrder(ctx context.Context, account model.AccountId, side model.Side, price model.Price, quantity model.Quantity) (engine.SubmitResult, error)

	OrderSize(ctx context.Context) int

	GetTopOfBook(ctx context.Context) *model.TopOfBook

	GetOrderInfos(ctx context.Context, levels int) *model.MarketDepth

	Pair() model.Pair

	RegisterTradeHandler(handler TradeHandler)

	// Run applies queued submissions one at a time until ctx is done.
	Run(ctx context.Context) error
}

// SettlementSink receives every successful submission, in the order the
// engine applied them. A sink error is logged and does not undo the match.
type SettlementSink interface {
	Settle(ctx context.Context, result engine.SubmitResult) error
}

type SinkFunc func(ctx context.Context, result engine.SubmitResult) error

func (f SinkFunc) Settle(ctx context.Context, result engine.SubmitResult) error {
	return f(ctx, result)
}

type TradeHandler func(model.Trade)

type submitRequest struct {
	order model.Order
	reply chan submitReply
}

type submitReply struct {
	result engine.SubmitResult
	err    error
}

type orderUseCaseImpl struct {
	mu              sync.RWMutex // guards orderBookEngine
	orderBookEngine engine.OrderBookEngine

	requests chan submitRequest
	done     chan struct{}
	stopOnce sync.Once

	sinks       []SettlementSink
	sinkTimeout time.Duration

	handlerMu     sync.RWMutex
	tradeHandlers []TradeHandler

	logger *zap.Logger
}

type OrderUseCaseOpts struct {
	OrderBookEngine engine.OrderBookEngine
	Sinks           []SettlementSink
	QueueSize       int
	SinkTimeout     time.Duration
	Logger          *zap.Logger
}

func NewOrderUseCase(opts OrderUseCaseOpts) OrderUseCase {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 5 * time.Second
	}
	return &orderUseCaseImpl{
		orderBookEngine: opts.OrderBookEngine,
		requests:        make(chan submitRequest, opts.QueueSize),
		done:            make(chan struct{}),
		sinks:           opts.Sinks,
		sinkTimeout:     opts.SinkTimeout,
		logger:          util.OrNop(opts.Logger).Named("order"),
	}
}

func (ou *orderUseCaseImpl) RegisterTradeHandler(handler TradeHandler) {
	ou.handlerMu.Lock()
	defer ou.handlerMu.Unlock()
	ou.tradeHandlers = append(ou.tradeHandlers, handler)
}

func (ou *orderUseCaseImpl) Pair() model.Pair {
	return ou.orderBookEngine.Pair()
}

// AddOrder queues an order and waits for its result. ctx only bounds the
// wait for a queue slot. ErrClosed means the order was not applied.
func (ou *orderUseCaseImpl) AddOrder(ctx context.Context, account model.AccountId, side model.Side, price model.Price, quantity model.Quantity) (engine.SubmitResult, error) {
	req := submitRequest{
		order: model.NewOrder(account, side, price, quantity),
		reply: make(chan submitReply, 1),
	}
	if err := req.order.Validate(); err != nil {
		return engine.SubmitResult{}, err
	}

	select {
	case ou.requests <- req:
	case <-ctx.Done():
		return engine.SubmitResult{}, ctx.Err()
	case <-ou.done:
		return engine.SubmitResult{}, ErrClosed
	}

	select {
	case r := <-req.reply:
		return r.result, r.err
	case <-ou.done:
		// the worker replies before it stops, so a reply may still be waiting
		select {
		case r := <-req.reply:
			return r.result, r.err
		default:
			return engine.SubmitResult{}, ErrClosed
		}
	}
}

func (ou *orderUseCaseImpl) Run(ctx context.Context) error {
	defer ou.stopOnce.Do(func() { close(ou.done) })
	ou.logger.Info("matching worker started", zap.String("symbol", ou.Pair().Symbol()))

	for {
		select {
		case <-ctx.Done():
			n := ou.drain(ctx)
			ou.logger.Info("matching worker stopped", zap.Int("drained", n))
			return ctx.Err()
		case req := <-ou.requests:
			ou.handle(ctx, req)
		}
	}
}

func (ou *orderUseCaseImpl) handle(ctx context.Context, req submitRequest) {
	result, err := ou.apply(req.order)
	if err == nil {
		ou.dispatch(ctx, result)
	}
	req.reply <- submitReply{result: result, err: err}
}

// drain applies whatever is already queued. Replies are written before done
// closes, so a caller woken by done still finds its reply.
func (ou *orderUseCaseImpl) drain(ctx context.Context) int {
	for n := 0; ; n++ {
		select {
		case req := <-ou.requests:
			ou.handle(ctx, req)
		default:
			return n
		}
	}
}

func (ou *orderUseCaseImpl) apply(order model.Order) (engine.SubmitResult, error) {
	ou.mu.Lock()
	defer ou.mu.Unlock()
	return ou.orderBookEngine.Submit(order)
}

func (ou *orderUseCaseImpl) dispatch(ctx context.Context, result engine.SubmitResult) {
	ou.logger.Debug("order applied",
		zap.Uint64("order_id", uint64(result.Order.GetId())),
		zap.Stringer("side", result.Order.GetSide()),
		zap.Int("trades", len(result.Trades)),
		zap.Int64("rested", int64(result.RestedQuantity())),
	)

	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ou.sinkTimeout)
	defer cancel()
	for _, sink := range ou.sinks {
		if err := sink.Settle(sinkCtx, result); err != nil {
			ou.logger.Error("settlement sink failed",
				zap.Uint64("order_id", uint64(result.Order.GetId())),
				zap.Error(err),
			)
		}
	}

	ou.handlerMu.RLock()
	handlers := ou.tradeHandlers
	ou.handlerMu.RUnlock()
	for _, tr := range result.Trades {
		for _, h := range handlers {
			h(tr)
		}
	}
}

func (ou *orderUseCaseImpl) OrderSize(ctx context.Context) int {
	ou.mu.RLock()
	defer ou.mu.RUnlock()
	return ou.orderBookEngine.OrderSize()
}

func (ou *orderUseCaseImpl) GetTopOfBook(ctx context.Context) *model.TopOfBook {
	ou.mu.RLock()
	defer ou.mu.RUnlock()
	return ou.orderBookEngine.GetTopOfBook()
}

func (ou *orderUseCaseImpl) GetOrderInfos(ctx context.Context, levels int) *model.MarketDepth {
	ou.mu.RLock()
	defer ou.mu.RUnlock()
	return ou.orderBookEngine.GetMarketDepth(levels)
}
