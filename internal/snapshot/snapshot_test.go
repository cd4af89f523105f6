package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange-engine/internal/bus"
	"exchange-engine/internal/engine"
	"exchange-engine/internal/metrics"
	"exchange-engine/internal/models"
	"exchange-engine/internal/protocol"
)

const market = "SOL_USDC"

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	mc, err := engine.ParseMarketConfig(market)
	require.NoError(t, err)
	eng, err := engine.New([]engine.MarketConfig{mc}, "USDC", false, metrics.NewMetrics(), zerolog.Nop())
	require.NoError(t, err)
	return eng
}

func createOrder(t *testing.T, eng *engine.Engine, b *bus.MemoryBus, userID string) protocol.OrderPlacedPayload {
	t.Helper()
	data, err := json.Marshal(protocol.CreateOrderData{Market: market, Price: "100", Quantity: "10", Side: models.Buy})
	require.NoError(t, err)
	require.NoError(t, eng.Process(context.Background(), b, "client1", userID, protocol.RequestMessage{
		Type: protocol.KindCreateOrder, Data: data,
	}))
	var env struct {
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(b.Replies[len(b.Replies)-1].Payload, &env))
	var placed protocol.OrderPlacedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &placed))
	return placed
}

// Save/Load must round-trip both resting orders and the balances locked
// against them: a book restored without its matching ledger state would
// leave the restored order's own lock balance missing, breaking both the
// available+locked conservation invariant and any later cancel of it.
func TestSaveLoad_RoundTripsOrdersAndBalances(t *testing.T) {
	eng1 := newEngine(t)
	b := bus.NewMemoryBus()
	require.NoError(t, eng1.Ledger().OnRamp("A", "USDC", decimal.RequireFromString("100000")))

	placed := createOrder(t, eng1, b, "A")
	require.Equal(t, "0", placed.ExecutedQty)

	mc, err := engine.ParseMarketConfig(market)
	require.NoError(t, err)
	markets := []engine.MarketConfig{mc}

	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	require.NoError(t, Save(path, eng1, markets, eng1.Ledger().Users()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"orderbooks"`)

	eng2 := newEngine(t)
	require.NoError(t, Load(path, eng2))

	bal := eng2.Ledger().Get("A", "USDC")
	assert.True(t, bal.Available.Equal(decimal.RequireFromString("99000")))
	assert.True(t, bal.Locked.Equal(decimal.RequireFromString("1000")))

	restored := eng2.Book(market).OpenOrders("A")
	require.Len(t, restored, 1)
	assert.Equal(t, placed.OrderID, restored[0].ID)
	assert.True(t, restored[0].Price.Equal(decimal.RequireFromString("100")))
	assert.True(t, restored[0].Quantity.Equal(decimal.RequireFromString("10")))

	// A restored order must be cancellable: its locked notional has to
	// have survived the round trip for ledger.Release to find an account.
	b2 := bus.NewMemoryBus()
	cancelData, err := json.Marshal(protocol.CancelOrderData{OrderID: placed.OrderID, Market: market})
	require.NoError(t, err)
	require.NoError(t, eng2.Process(context.Background(), b2, "client1", "A", protocol.RequestMessage{
		Type: protocol.KindCancelOrder, Data: cancelData,
	}))

	bal = eng2.Ledger().Get("A", "USDC")
	assert.True(t, bal.Available.Equal(decimal.RequireFromString("100000")))
	assert.True(t, bal.Locked.IsZero())
}

func TestLoad_MissingFileIsNotError(t *testing.T) {
	eng := newEngine(t)
	err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"), eng)
	assert.NoError(t, err)
}
