package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Yusufzhafir/go-limitbook/internal/engine"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	results []engine.SubmitResult
	err     error
}

func (s *recordingSink) Settle(ctx context.Context, result engine.SubmitResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return s.err
}

func (s *recordingSink) snapshot() []engine.SubmitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.SubmitResult(nil), s.results...)
}

func startUseCase(t *testing.T, sinks ...SettlementSink) OrderUseCase {
	t.Helper()
	uc := NewOrderUseCase(OrderUseCaseOpts{
		OrderBookEngine: engine.NewOrderBookEngine(model.Pair{Base: "UAH", Quote: "USD"}),
		Sinks:           sinks,
		QueueSize:       8,
	})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = uc.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return uc
}

func TestAddOrderMatchesAndNotifies(t *testing.T) {
	sink := &recordingSink{}
	failing := &recordingSink{err: errors.New("ledger down")}
	uc := startUseCase(t, sink, failing)

	var trades []model.Trade
	uc.RegisterTradeHandler(func(tr model.Trade) { trades = append(trades, tr) })

	ctx := context.Background()
	_, err := uc.AddOrder(ctx, 1, model.ASK, 100, 10)
	require.NoError(t, err)

	res, err := uc.AddOrder(ctx, 2, model.BID, 100, 4)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Len(t, res.BalanceChanges(), 4)

	got := sink.snapshot()
	require.Len(t, got, 2)
	assert.True(t, got[0].Rested)
	assert.Equal(t, res.Order.GetId(), got[1].Order.GetId())
	assert.Len(t, failing.snapshot(), 2)
	assert.Len(t, trades, 1)

	assert.Equal(t, 1, uc.OrderSize(ctx))
	tob := uc.GetTopOfBook(ctx)
	require.NotNil(t, tob.BestAsk)
	assert.Equal(t, model.Quantity(6), tob.BestAsk.Volume)
	assert.Len(t, uc.GetOrderInfos(ctx, 5).Asks, 1)
}

func TestAddOrderRejectsMalformed(t *testing.T) {
	sink := &recordingSink{}
	uc := startUseCase(t, sink)

	_, err := uc.AddOrder(context.Background(), 1, model.BID, 100, 0)
	assert.ErrorIs(t, err, model.ErrMalformedInput)
	assert.Empty(t, sink.snapshot())
}

func TestConcurrentSubmittersAreSerialised(t *testing.T) {
	sink := &recordingSink{}
	uc := startUseCase(t, sink)

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			side := model.BID
			if w%2 == 0 {
				side = model.ASK
			}
			for i := 0; i < perWorker; i++ {
				price := model.Price(95 + (w+i)%10)
				_, err := uc.AddOrder(context.Background(), model.AccountId(w+1), side, price, 3)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	results := sink.snapshot()
	require.Len(t, results, workers*perWorker)
	for i, r := range results {
		assert.Equal(t, model.OrderId(i+1), r.Order.GetId(), "sinks see submissions in applied order")
	}

	tob := uc.GetTopOfBook(context.Background())
	if tob.BestBid != nil && tob.BestAsk != nil {
		assert.Less(t, tob.BestBid.Price, tob.BestAsk.Price)
	}
}

func TestAddOrderAfterStop(t *testing.T) {
	uc := NewOrderUseCase(OrderUseCaseOpts{
		OrderBookEngine: engine.NewOrderBookEngine(model.Pair{Base: "UAH", Quote: "USD"}),
		QueueSize:       1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, uc.Run(ctx), context.Canceled)

	_, err := uc.AddOrder(context.Background(), 1, model.BID, 1, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAddOrderHonoursContextWhileQueued(t *testing.T) {
	// no worker running: the single queue slot fills and the next call waits
	uc := NewOrderUseCase(OrderUseCaseOpts{
		OrderBookEngine: engine.NewOrderBookEngine(model.Pair{Base: "UAH", Quote: "USD"}),
		QueueSize:       1,
	})
	impl := uc.(*orderUseCaseImpl)
	impl.requests <- submitRequest{order: model.NewOrder(1, model.BID, 1, 1), reply: make(chan submitReply, 1)}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := uc.AddOrder(ctx, 1, model.BID, 1, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunAppliesQueuedOrdersBeforeStopping(t *testing.T) {
	sink := &recordingSink{}
	uc := NewOrderUseCase(OrderUseCaseOpts{
		OrderBookEngine: engine.NewOrderBookEngine(model.Pair{Base: "UAH", Quote: "USD"}),
		Sinks:           []SettlementSink{sink},
		QueueSize:       4,
	})
	impl := uc.(*orderUseCaseImpl)

	replies := make([]chan submitReply, 3)
	for i := range replies {
		replies[i] = make(chan submitReply, 1)
		impl.requests <- submitRequest{order: model.NewOrder(1, model.ASK, model.Price(10+i), 1), reply: replies[i]}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, uc.Run(ctx), context.Canceled)

	for i, reply := range replies {
		select {
		case r := <-reply:
			require.NoError(t, r.err)
			assert.Equal(t, model.OrderId(i+1), r.result.Order.GetId())
		default:
			t.Fatalf("request %d was not applied", i)
		}
	}
	assert.Len(t, sink.snapshot(), 3)
	assert.Equal(t, 3, uc.OrderSize(context.Background()))
}
