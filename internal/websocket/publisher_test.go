package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Yusufzhafir/go-limitbook/internal/engine"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pair = model.Pair{Base: "UAH", Quote: "USD"}

// attach registers a connectionless client directly with the running hub.
func attach(t *testing.T, h *Hub, topics ...string) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan []byte, 64), subscribed: make(map[string]struct{})}
	h.register <- c
	for _, topic := range topics {
		h.subscribe <- subscription{client: c, topic: topic}
	}
	return c
}

func receive(t *testing.T, c *Client) envelopeJSON {
	t.Helper()
	select {
	case b := <-c.send:
		var env envelopeJSON
		require.NoError(t, json.Unmarshal(b, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
	return envelopeJSON{}
}

type envelopeJSON struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func TestPublisherFansOutTradesAndBalances(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	market := attach(t, hub, pair.Symbol())
	seller := attach(t, hub, AccountTopic(1))
	buyer := attach(t, hub, AccountTopic(2))

	e := engine.NewOrderBookEngine(pair)
	_, err := e.Submit(model.NewOrder(1, model.ASK, 12345, 10))
	require.NoError(t, err)
	res, err := e.Submit(model.NewOrder(2, model.BID, 12345, 4))
	require.NoError(t, err)

	pub := NewPublisher(hub, pair, 2)
	require.NoError(t, pub.Settle(ctx, res))

	env := receive(t, market)
	assert.Equal(t, "trade", env.Type)
	var tr Trade
	require.NoError(t, json.Unmarshal(env.Data, &tr))
	assert.Equal(t, "UAH-USD", tr.Symbol)
	assert.Equal(t, "123.45", tr.PriceStr)
	assert.Equal(t, model.Quantity(4), tr.Qty)
	assert.Equal(t, "buy", tr.Side)
	assert.Equal(t, uint64(1), tr.Seq)

	var deltas []int64
	for i := 0; i < 2; i++ {
		env := receive(t, seller)
		assert.Equal(t, "balance", env.Type)
		var bc BalanceChange
		require.NoError(t, json.Unmarshal(env.Data, &bc))
		assert.Equal(t, model.AccountId(1), bc.Account)
		deltas = append(deltas, bc.Delta)
	}
	assert.Equal(t, []int64{-4, 4 * 12345}, deltas)

	env = receive(t, buyer)
	var bc BalanceChange
	require.NoError(t, json.Unmarshal(env.Data, &bc))
	assert.Equal(t, model.Currency("UAH"), bc.Currency)
	assert.Equal(t, int64(4), bc.Delta)
}

func TestUnsubscribedClientGetsNothing(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	other := attach(t, hub, "BTC-USD")
	listener := attach(t, hub, pair.Symbol())

	hub.Publish(pair.Symbol(), []byte(`{"type":"trade","data":{}}`))
	receive(t, listener)

	select {
	case <-other.send:
		t.Fatal("unexpected message on foreign topic")
	default:
	}
}

func TestParseTopics(t *testing.T) {
	assert.Equal(t, []string{"UAH-USD", "account:7"}, parseTopics(" UAH-USD, ,account:7,"))
	assert.Nil(t, parseTopics(""))
}

func TestSequencerPerTopic(t *testing.T) {
	var s sequencer
	assert.Equal(t, uint64(1), s.next("a"))
	assert.Equal(t, uint64(2), s.next("a"))
	assert.Equal(t, uint64(1), s.next("b"))
}

func TestEvictedClientCannotResubscribe(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// unbuffered and never drained: every delivery is a drop
	slow := &Client{hub: hub, send: make(chan []byte), subscribed: make(map[string]struct{})}
	hub.register <- slow
	hub.subscribe <- subscription{client: slow, topic: "T"}
	for i := 0; i < maxConsecutiveDrops+2; i++ {
		hub.Publish("T", []byte(`{}`))
	}
	assert.Eventually(t, func() bool {
		clients, _ := hub.Stats()
		return clients == 0
	}, time.Second, 5*time.Millisecond)
	_, open := <-slow.send
	assert.False(t, open, "eviction closes the send channel")

	// a late command from the evicted client's reader is ignored
	hub.subscribe <- subscription{client: slow, topic: "T"}
	hub.unsubscribe <- subscription{client: slow, topic: "T"}
	hub.subscribe <- subscription{client: slow, topic: "T"}

	listener := attach(t, hub, "T")
	hub.Publish("T", []byte(`{"type":"trade","data":{}}`))
	assert.Equal(t, "trade", receive(t, listener).Type)
}

func TestHubSendsGiveUpAfterStop(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	c := &Client{hub: hub, send: make(chan []byte, 1), subscribed: make(map[string]struct{})}
	assert.False(t, hub.send(hub.register, c))
	assert.False(t, hub.sendSub(hub.subscribe, subscription{client: c, topic: "T"}))
}
