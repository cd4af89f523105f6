// Package snapshot loads and saves the optional JSON snapshot file that
// lets the engine recover order books and balances across a restart
// without replaying the full request history. This is plain
// encoding/json: the format is a single flat document private to this
// engine, with none of the streaming, pub/sub, or schema-evolution needs
// that would justify a heavier serialization library from the rest of the
// pack.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"exchange-engine/internal/engine"
	"exchange-engine/internal/models"
)

// orderDoc is one resting order as persisted in a snapshot.
type orderDoc struct {
	ID       string          `json:"id"`
	UserID   string          `json:"user_id"`
	Market   string          `json:"market"`
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Filled   decimal.Decimal `json:"filled"`
}

// bookDoc is one order book's resting orders, as persisted.
type bookDoc struct {
	Market      string     `json:"market"`
	Base        string     `json:"base"`
	Quote       string     `json:"quote"`
	LastTradeID int64      `json:"last_trade_id"`
	Orders      []orderDoc `json:"orders"`
}

// balanceDoc is one (user, asset) balance, as persisted.
type balanceDoc struct {
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// document is the full {orderbooks, balances} snapshot shape.
type document struct {
	OrderBooks []bookDoc               `json:"orderbooks"`
	Balances   map[string][]balanceDoc `json:"balances"`
}

// Save writes every configured order book's resting orders and every
// user's balances to path as JSON.
func Save(path string, eng *engine.Engine, markets []engine.MarketConfig, users []string) error {
	doc := document{
		Balances: make(map[string][]balanceDoc),
	}

	for _, mc := range markets {
		ob := eng.Book(mc.Symbol)
		if ob == nil {
			continue
		}
		book := bookDoc{Market: mc.Symbol, Base: mc.Base, Quote: mc.Quote, LastTradeID: ob.LastTradeID()}
		for _, side := range []models.Side{models.Buy, models.Sell} {
			for _, o := range ob.OpenOrdersBySide(side) {
				book.Orders = append(book.Orders, orderDoc{
					ID: o.ID, UserID: o.UserID, Market: o.Market,
					Side: o.Side.String(), Price: o.Price, Quantity: o.Quantity, Filled: o.Filled,
				})
			}
		}
		doc.OrderBooks = append(doc.OrderBooks, book)
	}

	assetsByMarket := make(map[string]struct{})
	for _, mc := range markets {
		assetsByMarket[mc.Base] = struct{}{}
		assetsByMarket[mc.Quote] = struct{}{}
	}
	for _, user := range users {
		var balances []balanceDoc
		for asset := range assetsByMarket {
			bal := eng.Ledger().Get(user, asset)
			if bal.Available.IsZero() && bal.Locked.IsZero() {
				continue
			}
			balances = append(balances, balanceDoc{Asset: asset, Available: bal.Available, Locked: bal.Locked})
		}
		if len(balances) > 0 {
			doc.Balances[user] = balances
		}
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

// Load restores order books and balances from path into eng. Missing file
// is not an error: a fresh engine simply starts empty.
func Load(path string, eng *engine.Engine) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}

	for user, balances := range doc.Balances {
		for _, b := range balances {
			if err := eng.Ledger().Restore(user, b.Asset, b.Available, b.Locked); err != nil {
				return fmt.Errorf("restore balance %s/%s: %w", user, b.Asset, err)
			}
		}
	}

	for _, book := range doc.OrderBooks {
		ob := eng.Book(book.Market)
		if ob == nil {
			continue
		}
		ob.RestoreLastTradeID(book.LastTradeID)
		for _, od := range book.Orders {
			var side models.Side
			if err := side.UnmarshalJSON([]byte(`"` + od.Side + `"`)); err != nil {
				return fmt.Errorf("restore order %s: %w", od.ID, err)
			}
			o := &models.Order{
				ID: od.ID, UserID: od.UserID, Market: od.Market,
				Side: side, Price: od.Price, Quantity: od.Quantity, Filled: od.Filled,
			}
			ob.Restore(o)
		}
	}
	return nil
}

