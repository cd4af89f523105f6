package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange-engine/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func order(id, user string, side models.Side, price, qty string) *models.Order {
	return &models.Order{ID: id, UserID: user, Market: "SOL_USDC", Side: side, Price: d(price), Quantity: d(qty)}
}

func TestAddOrder_NoCrossRests(t *testing.T) {
	ob := NewOrderBook("SOL_USDC", "SOL", "USDC")
	o := order("o1", "A", models.Buy, "100", "10")
	fills := ob.AddOrder(o)
	assert.Empty(t, fills)
	assert.True(t, o.Remaining().Equal(d("10")))

	bids, asks := ob.Depth()
	require.Len(t, bids, 1)
	assert.Empty(t, asks)
	assert.True(t, bids[0].Quantity.Equal(d("10")))
}

func TestAddOrder_FullCrossFills(t *testing.T) {
	ob := NewOrderBook("SOL_USDC", "SOL", "USDC")
	ob.AddOrder(order("sell1", "B", models.Sell, "100", "10"))
	fills := ob.AddOrder(order("buy1", "A", models.Buy, "100", "10"))

	require.Len(t, fills, 1)
	assert.True(t, fills[0].Qty.Equal(d("10")))
	assert.True(t, fills[0].Price.Equal(d("100")))
	assert.Equal(t, "sell1", fills[0].MakerOrderID)

	bids, asks := ob.Depth()
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}

func TestAddOrder_PriceImprovementUsesMakerPrice(t *testing.T) {
	ob := NewOrderBook("SOL_USDC", "SOL", "USDC")
	ob.AddOrder(order("buy1", "A", models.Buy, "105", "5"))
	fills := ob.AddOrder(order("sell1", "B", models.Sell, "100", "5"))

	require.Len(t, fills, 1)
	assert.True(t, fills[0].Price.Equal(d("105")))
}

func TestAddOrder_PartialFillLeavesResidual(t *testing.T) {
	ob := NewOrderBook("SOL_USDC", "SOL", "USDC")
	ob.AddOrder(order("buy1", "A", models.Buy, "100", "10"))
	fills := ob.AddOrder(order("sell1", "B", models.Sell, "100", "3"))

	require.Len(t, fills, 1)
	assert.True(t, fills[0].Qty.Equal(d("3")))

	bids, _ := ob.Depth()
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Quantity.Equal(d("7")))
}

func TestAddOrder_SelfTradeSkipsWithoutInfiniteLoop(t *testing.T) {
	ob := NewOrderBook("SOL_USDC", "SOL", "USDC")
	ob.AddOrder(order("buy1", "A", models.Buy, "100", "5"))

	done := make(chan []models.Fill, 1)
	go func() {
		done <- ob.AddOrder(order("sell1", "A", models.Sell, "100", "5"))
	}()

	select {
	case fills := <-done:
		assert.Empty(t, fills)
	case <-time.After(2 * time.Second):
		t.Fatal("AddOrder did not return: self-trade level was not advanced past")
	}

	bids, asks := ob.Depth()
	require.Len(t, bids, 1)
	require.Len(t, asks, 1)
	assert.True(t, bids[0].Quantity.Equal(d("5")))
	assert.True(t, asks[0].Quantity.Equal(d("5")))
}

func TestAddOrder_SelfTradeThenOtherMakerStillFills(t *testing.T) {
	ob := NewOrderBook("SOL_USDC", "SOL", "USDC")
	ob.AddOrder(order("selfbid", "A", models.Buy, "100", "5"))
	ob.AddOrder(order("otherbid", "C", models.Buy, "100", "5"))

	fills := ob.AddOrder(order("sell1", "A", models.Sell, "100", "5"))
	require.Len(t, fills, 1)
	assert.Equal(t, "otherbid", fills[0].MakerOrderID)

	// The self-trade-blocked bid is still resting; the other-user bid that
	// matched is gone.
	assert.Equal(t, "selfbid", bidsOnlyOrderID(ob))
}

func bidsOnlyOrderID(ob *OrderBook) string {
	node, _ := ob.bids.Get(d("100"))
	level := node.(*priceLevel)
	if len(level.orders) != 1 {
		return ""
	}
	return level.orders[0].ID
}

func TestCancel_RemovesOrderAndReportsPrice(t *testing.T) {
	ob := NewOrderBook("SOL_USDC", "SOL", "USDC")
	ob.AddOrder(order("buy1", "A", models.Buy, "100", "10"))

	removed, err := ob.Cancel("buy1")
	require.NoError(t, err)
	assert.True(t, removed.Price.Equal(d("100")))

	bids, _ := ob.Depth()
	assert.Empty(t, bids)
}

func TestCancel_UnknownOrderReturnsError(t *testing.T) {
	ob := NewOrderBook("SOL_USDC", "SOL", "USDC")
	_, err := ob.Cancel("ghost")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestTradeID_MonotonicAcrossFills(t *testing.T) {
	ob := NewOrderBook("SOL_USDC", "SOL", "USDC")
	ob.AddOrder(order("s1", "B", models.Sell, "100", "1"))
	ob.AddOrder(order("s2", "B", models.Sell, "101", "1"))

	fills := ob.AddOrder(order("buy1", "A", models.Buy, "101", "2"))
	require.Len(t, fills, 2)
	assert.Less(t, fills[0].TradeID, fills[1].TradeID)
}

func TestOpenOrders_OnlyUnfilledForUser(t *testing.T) {
	ob := NewOrderBook("SOL_USDC", "SOL", "USDC")
	ob.AddOrder(order("buy1", "A", models.Buy, "100", "10"))
	ob.AddOrder(order("buy2", "B", models.Buy, "99", "5"))

	open := ob.OpenOrders("A")
	require.Len(t, open, 1)
	assert.Equal(t, "buy1", open[0].ID)
}

