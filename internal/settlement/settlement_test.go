package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/Yusufzhafir/go-limitbook/internal/engine"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

var pair = model.Pair{Base: "UAH", Quote: "USD"}

// fakeAccounts derives a deterministic TigerBeetle id per account/currency.
type fakeAccounts struct{ missing model.AccountId }

func (f fakeAccounts) AccountID(ctx context.Context, account model.AccountId, currency model.Currency) (tbtypes.Uint128, error) {
	if account == f.missing {
		return tbtypes.Uint128{}, errors.New("no such account")
	}
	offset := uint64(0)
	if currency == pair.Quote {
		offset = 1000
	}
	return tbtypes.ToUint128(uint64(account) + offset), nil
}

type fakeTB struct {
	batches [][]tbtypes.Transfer
	results []tbtypes.TransferEventResult
	err     error
}

func (f *fakeTB) CreateTransfers(transfers []tbtypes.Transfer) ([]tbtypes.TransferEventResult, error) {
	f.batches = append(f.batches, transfers)
	return f.results, f.err
}

// matched runs a sell 10@100 then a buy 4@100 through a real engine.
func matched(t *testing.T) engine.SubmitResult {
	t.Helper()
	e := engine.NewOrderBookEngine(pair)
	_, err := e.Submit(model.NewOrder(1, model.ASK, 100, 10))
	require.NoError(t, err)
	res, err := e.Submit(model.NewOrder(2, model.BID, 100, 4))
	require.NoError(t, err)
	return res
}

func ledgers() map[model.Currency]uint32 {
	return map[model.Currency]uint32{"UAH": 20, "USD": 10}
}

func TestBuildTransfersLinksLegs(t *testing.T) {
	sink := NewTigerBeetleSink(&fakeTB{}, fakeAccounts{}, ledgers(), nil)
	res := matched(t)

	legs, err := sink.BuildTransfers(context.Background(), res.Settlements[0])
	require.NoError(t, err)
	require.Len(t, legs, 2)

	base, quote := legs[0], legs[1]
	assert.Equal(t, tbtypes.ToUint128(1), base.DebitAccountID, "seller gives base")
	assert.Equal(t, tbtypes.ToUint128(2), base.CreditAccountID, "buyer gets base")
	assert.Equal(t, tbtypes.ToUint128(4), base.Amount)
	assert.Equal(t, uint32(20), base.Ledger)
	assert.Equal(t, tbtypes.TransferFlags{Linked: true}.ToUint16(), base.Flags)

	assert.Equal(t, tbtypes.ToUint128(1002), quote.DebitAccountID, "buyer pays quote")
	assert.Equal(t, tbtypes.ToUint128(1001), quote.CreditAccountID, "seller gets quote")
	assert.Equal(t, tbtypes.ToUint128(400), quote.Amount)
	assert.Equal(t, uint32(10), quote.Ledger)
	assert.Equal(t, uint16(0), quote.Flags, "chain ends at the quote leg")
	assert.NotEqual(t, base.ID, quote.ID)
}

func TestBuildTransfersZeroNotional(t *testing.T) {
	sink := NewTigerBeetleSink(&fakeTB{}, fakeAccounts{}, ledgers(), nil)
	st := model.Settlement{
		Trade:   model.Trade{Side: model.ASK, TakerAccount: 1, MakerAccount: 2, Quantity: 3, Price: 0},
		Changes: [4]model.BalanceChange{{Currency: "UAH"}, {Currency: "USD"}, {Currency: "UAH"}, {Currency: "USD"}},
	}
	legs, err := sink.BuildTransfers(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, uint16(0), legs[0].Flags)
	assert.Equal(t, tbtypes.ToUint128(1), legs[0].DebitAccountID)
}

func TestTigerBeetleSinkSettle(t *testing.T) {
	client := &fakeTB{}
	sink := NewTigerBeetleSink(client, fakeAccounts{}, ledgers(), nil)

	require.NoError(t, sink.Settle(context.Background(), engine.SubmitResult{}))
	assert.Empty(t, client.batches, "nothing to post without fills")

	require.NoError(t, sink.Settle(context.Background(), matched(t)))
	require.Len(t, client.batches, 1)
	assert.Len(t, client.batches[0], 2)

	client.results = []tbtypes.TransferEventResult{{Index: 0}}
	assert.Error(t, sink.Settle(context.Background(), matched(t)))

	client.results, client.err = nil, errors.New("connection refused")
	assert.ErrorContains(t, sink.Settle(context.Background(), matched(t)), "connection refused")
}

func TestTigerBeetleSinkUnresolvedAccount(t *testing.T) {
	client := &fakeTB{}
	sink := NewTigerBeetleSink(client, fakeAccounts{missing: 2}, ledgers(), nil)
	assert.Error(t, sink.Settle(context.Background(), matched(t)))
	assert.Empty(t, client.batches)

	sink = NewTigerBeetleSink(client, fakeAccounts{}, map[model.Currency]uint32{"UAH": 20}, nil)
	assert.Error(t, sink.Settle(context.Background(), matched(t)))
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSinkPublishesSettlementsAndRest(t *testing.T) {
	e := engine.NewOrderBookEngine(pair)
	_, err := e.Submit(model.NewOrder(1, model.ASK, 100, 3))
	require.NoError(t, err)
	res, err := e.Submit(model.NewOrder(2, model.BID, 100, 5))
	require.NoError(t, err)

	w := &fakeWriter{}
	sink := NewKafkaSink(w, pair.Symbol())
	require.NoError(t, sink.Settle(context.Background(), res))
	require.Len(t, w.msgs, 2)

	for _, m := range w.msgs {
		assert.Equal(t, "UAH-USD", string(m.Key))
		assert.Equal(t, "order_id", m.Headers[1].Key)
		assert.Equal(t, fmt.Sprint(res.Order.GetId()), string(m.Headers[1].Value))
	}

	var settled Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &settled))
	assert.Equal(t, EventSettlement, settled.Type)
	assert.Equal(t, "UAH-USD", settled.Symbol)
	require.NotNil(t, settled.Settlement)
	assert.Equal(t, res.Settlements[0].Changes, settled.Settlement.Changes)

	var rested Event
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &rested))
	assert.Equal(t, EventRested, rested.Type)
	require.NotNil(t, rested.Rested)
	assert.Equal(t, model.Quantity(2), rested.Rested.Quantity)
	assert.Equal(t, model.BID, rested.Rested.Side)
	assert.Equal(t, []byte(EventRested), w.msgs[1].Headers[0].Value)
}

func TestKafkaSinkKeysEverySubmissionBySymbol(t *testing.T) {
	e := engine.NewOrderBookEngine(pair)
	w := &fakeWriter{}
	sink := NewKafkaSink(w, pair.Symbol())

	first, err := e.Submit(model.NewOrder(1, model.ASK, 100, 5))
	require.NoError(t, err)
	require.NoError(t, sink.Settle(context.Background(), first))
	second, err := e.Submit(model.NewOrder(2, model.BID, 100, 2))
	require.NoError(t, err)
	require.NoError(t, sink.Settle(context.Background(), second))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, w.msgs[0].Key, w.msgs[1].Key)
	assert.NotEqual(t, w.msgs[0].Headers[1].Value, w.msgs[1].Headers[1].Value)
}

func TestKafkaSinkWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	sink := NewKafkaSink(w, pair.Symbol())
	assert.ErrorContains(t, sink.Settle(context.Background(), matched(t)), "broker unavailable")
	assert.NoError(t, NewKafkaSink(&fakeWriter{}, "x").Settle(context.Background(), engine.SubmitResult{}))
}
