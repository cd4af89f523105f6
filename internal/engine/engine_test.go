package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange-engine/internal/bus"
	"exchange-engine/internal/metrics"
	"exchange-engine/internal/models"
	"exchange-engine/internal/protocol"
)

const market = "SOL_USDC"

func newTestEngine(t *testing.T) (*Engine, *bus.MemoryBus) {
	t.Helper()
	mc, err := ParseMarketConfig(market)
	require.NoError(t, err)
	eng, err := New([]MarketConfig{mc}, "USDC", false, metrics.NewMetrics(), zerolog.Nop())
	require.NoError(t, err)
	return eng, bus.NewMemoryBus()
}

func seedUser(t *testing.T, eng *Engine, user string, sol, usdc string) {
	t.Helper()
	require.NoError(t, eng.Ledger().OnRamp(user, "SOL", decimal.RequireFromString(sol)))
	require.NoError(t, eng.Ledger().OnRamp(user, "USDC", decimal.RequireFromString(usdc)))
}

func createOrder(t *testing.T, eng *Engine, b *bus.MemoryBus, clientID, userID string, side models.Side, price, qty string) protocol.OrderPlacedPayload {
	t.Helper()
	data, err := json.Marshal(protocol.CreateOrderData{Market: market, Price: price, Quantity: qty, Side: side})
	require.NoError(t, err)
	require.NoError(t, eng.Process(context.Background(), b, clientID, userID, protocol.RequestMessage{
		Type: protocol.KindCreateOrder, Data: data,
	}))
	return decodeLastReply[protocol.OrderPlacedPayload](t, b)
}

func decodeLastReply[T any](t *testing.T, b *bus.MemoryBus) T {
	t.Helper()
	require.NotEmpty(t, b.Replies)
	last := b.Replies[len(b.Replies)-1]
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(last.Payload, &env))
	var payload T
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	return payload
}

func balance(t *testing.T, eng *Engine, user, asset string) (available, locked string) {
	t.Helper()
	bal := eng.Ledger().Get(user, asset)
	return bal.Available.String(), bal.Locked.String()
}

// S1: resting bid, later matched.
func TestScenario_RestingBidLaterMatched(t *testing.T) {
	eng, b := newTestEngine(t)
	seedUser(t, eng, "A", "100", "100000")
	seedUser(t, eng, "B", "100", "100000")

	placed := createOrder(t, eng, b, "clientA", "A", models.Buy, "100", "10")
	assert.Equal(t, "0", placed.ExecutedQty)
	assert.Empty(t, placed.Fills)

	avail, locked := balance(t, eng, "A", "USDC")
	assert.Equal(t, "99000", avail)
	assert.Equal(t, "1000", locked)

	placed = createOrder(t, eng, b, "clientB", "B", models.Sell, "100", "10")
	assert.Equal(t, "10", placed.ExecutedQty)
	require.Len(t, placed.Fills, 1)
	assert.Equal(t, "100", placed.Fills[0].Price)
	assert.Equal(t, "10", placed.Fills[0].Qty)
	assert.Equal(t, int64(1), placed.Fills[0].TradeID)
	assert.Equal(t, "A", placed.Fills[0].OtherUserID)

	aSol, aSolLocked := balance(t, eng, "A", "SOL")
	assert.Equal(t, "110", aSol)
	assert.Equal(t, "0", aSolLocked)
	aUsdc, aUsdcLocked := balance(t, eng, "A", "USDC")
	assert.Equal(t, "99000", aUsdc)
	assert.Equal(t, "0", aUsdcLocked)

	bSol, _ := balance(t, eng, "B", "SOL")
	assert.Equal(t, "90", bSol)
	bUsdc, _ := balance(t, eng, "B", "USDC")
	assert.Equal(t, "101000", bUsdc)

	bids, asks := eng.Book(market).Depth()
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}

// S2: price improvement accrues to the maker's price.
func TestScenario_PriceImprovement(t *testing.T) {
	eng, b := newTestEngine(t)
	seedUser(t, eng, "A", "100", "100000")
	seedUser(t, eng, "B", "100", "100000")

	createOrder(t, eng, b, "clientA", "A", models.Buy, "105", "5")
	placed := createOrder(t, eng, b, "clientB", "B", models.Sell, "100", "5")

	require.Len(t, placed.Fills, 1)
	assert.Equal(t, "105", placed.Fills[0].Price)

	bUsdc, _ := balance(t, eng, "B", "USDC")
	assert.Equal(t, "100525", bUsdc)
}

// S3: partial fill leaves a residual resting order.
func TestScenario_PartialFillResidual(t *testing.T) {
	eng, b := newTestEngine(t)
	seedUser(t, eng, "A", "100", "100000")
	seedUser(t, eng, "B", "100", "100000")

	createOrder(t, eng, b, "clientA", "A", models.Buy, "100", "10")
	placed := createOrder(t, eng, b, "clientB", "B", models.Sell, "100", "3")

	require.Len(t, placed.Fills, 1)
	assert.Equal(t, "3", placed.Fills[0].Qty)

	bids, _ := eng.Book(market).Depth()
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Price.Equal(decimal.RequireFromString("100")))
	assert.True(t, bids[0].Quantity.Equal(decimal.RequireFromString("7")))
}

// S4: self-trade prevention — both orders rest, no fill.
func TestScenario_SelfTradePrevention(t *testing.T) {
	eng, b := newTestEngine(t)
	seedUser(t, eng, "A", "100", "100000")

	createOrder(t, eng, b, "clientA", "A", models.Buy, "100", "5")
	placed := createOrder(t, eng, b, "clientA2", "A", models.Sell, "100", "5")

	assert.Equal(t, "0", placed.ExecutedQty)
	assert.Empty(t, placed.Fills)

	bids, asks := eng.Book(market).Depth()
	require.Len(t, bids, 1)
	require.Len(t, asks, 1)
	assert.True(t, bids[0].Quantity.Equal(decimal.RequireFromString("5")))
	assert.True(t, asks[0].Quantity.Equal(decimal.RequireFromString("5")))
}

// S5: cancel releases locked funds.
func TestScenario_CancelReleasesFunds(t *testing.T) {
	eng, b := newTestEngine(t)
	seedUser(t, eng, "A", "100", "100000")

	placed := createOrder(t, eng, b, "clientA", "A", models.Buy, "100", "10")

	data, err := json.Marshal(protocol.CancelOrderData{OrderID: placed.OrderID, Market: market})
	require.NoError(t, err)
	require.NoError(t, eng.Process(context.Background(), b, "clientA", "A", protocol.RequestMessage{
		Type: protocol.KindCancelOrder, Data: data,
	}))

	cancelled := decodeLastReply[protocol.OrderCancelledPayload](t, b)
	assert.Equal(t, placed.OrderID, cancelled.OrderID)
	assert.Equal(t, "0", cancelled.ExecutedQty)
	assert.Equal(t, "10", cancelled.RemainingQty)

	avail, locked := balance(t, eng, "A", "USDC")
	assert.Equal(t, "100000", avail)
	assert.Equal(t, "0", locked)
}

// S6: insufficient funds rejects the order with no state change.
func TestScenario_InsufficientFunds(t *testing.T) {
	eng, b := newTestEngine(t)
	seedUser(t, eng, "A", "100", "50")

	data, err := json.Marshal(protocol.CreateOrderData{Market: market, Price: "100", Quantity: "1", Side: models.Buy})
	require.NoError(t, err)
	require.NoError(t, eng.Process(context.Background(), b, "clientA", "A", protocol.RequestMessage{
		Type: protocol.KindCreateOrder, Data: data,
	}))

	require.NotEmpty(t, b.Replies)
	var env struct {
		Type    string                 `json:"type"`
		Payload protocol.ErrorPayload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(b.Replies[len(b.Replies)-1].Payload, &env))
	assert.Equal(t, protocol.KindError, env.Type)
	assert.Equal(t, "Insufficient funds", env.Payload.Message)

	bids, asks := eng.Book(market).Depth()
	assert.Empty(t, bids)
	assert.Empty(t, asks)
	assert.Empty(t, b.Streams)
}

func TestUnknownMarket_CreateOrderReturnsError(t *testing.T) {
	eng, b := newTestEngine(t)
	data, err := json.Marshal(protocol.CreateOrderData{Market: "XYZ_ABC", Price: "1", Quantity: "1", Side: models.Buy})
	require.NoError(t, err)
	require.NoError(t, eng.Process(context.Background(), b, "c1", "A", protocol.RequestMessage{
		Type: protocol.KindCreateOrder, Data: data,
	}))
	var env struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(b.Replies[len(b.Replies)-1].Payload, &env))
	assert.Equal(t, protocol.KindError, env.Type)
}

func TestUnknownMarket_GetDepthReturnsEmptyNotError(t *testing.T) {
	eng, b := newTestEngine(t)
	data, err := json.Marshal(protocol.GetDepthData{Market: "XYZ_ABC"})
	require.NoError(t, err)
	require.NoError(t, eng.Process(context.Background(), b, "c1", "A", protocol.RequestMessage{
		Type: protocol.KindGetDepth, Data: data,
	}))
	depth := decodeLastReply[protocol.DepthPayload](t, b)
	assert.Empty(t, depth.Bids)
	assert.Empty(t, depth.Asks)
}

func TestOnRamp_IdempotentByTxnID(t *testing.T) {
	eng, b := newTestEngine(t)
	data, err := json.Marshal(protocol.OnRampData{Amount: "100", TxnID: "txn-1"})
	require.NoError(t, err)

	require.NoError(t, eng.Process(context.Background(), b, "c1", "A", protocol.RequestMessage{
		Type: protocol.KindOnRamp, Data: data,
	}))
	require.NoError(t, eng.Process(context.Background(), b, "c1", "A", protocol.RequestMessage{
		Type: protocol.KindOnRamp, Data: data,
	}))

	avail, _ := balance(t, eng, "A", "USDC")
	assert.Equal(t, "100", avail) // second, duplicate txn_id never applied

	require.Len(t, b.Replies, 1) // success publishes no reply; only the dup does
}
