// Package ledger tracks per-user, per-asset balances: what a user holds
// free to trade (Available) and what is set aside against a resting order
// (Locked). The engine is the sole caller and already serializes every
// mutation through its own execution loop, so Ledger carries no locking of
// its own (mirrors the order book's concurrency contract).
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Balance is one user's holding of one asset.
type Balance struct {
	Available decimal.Decimal
	Locked    decimal.Decimal
}

// Total returns Available+Locked.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

type account map[string]*Balance // asset -> balance

// Ledger is the full set of user balances across all assets.
type Ledger struct {
	accounts map[string]account // userID -> account

	// allowFaucet, when true, lets Lock create a zero balance for any
	// (user, asset) pair it hasn't seen before instead of failing with "no
	// balance". Off by default: a real venue never wants an
	// unfunded account to silently spring into existence.
	allowFaucet bool
}

// New creates an empty ledger. allowFaucet controls whether an unseen
// (user, asset) pair auto-vivifies to a zero balance on first touch.
func New(allowFaucet bool) *Ledger {
	return &Ledger{
		accounts:    make(map[string]account),
		allowFaucet: allowFaucet,
	}
}

func (l *Ledger) balance(userID, asset string) (*Balance, bool) {
	acct, ok := l.accounts[userID]
	if !ok {
		return nil, false
	}
	bal, ok := acct[asset]
	return bal, ok
}

func (l *Ledger) getOrCreate(userID, asset string) *Balance {
	acct, ok := l.accounts[userID]
	if !ok {
		acct = make(account)
		l.accounts[userID] = acct
	}
	bal, ok := acct[asset]
	if !ok {
		bal = &Balance{Available: decimal.Zero, Locked: decimal.Zero}
		acct[asset] = bal
	}
	return bal
}

// Users returns every userID that has ever been touched by OnRamp, Lock,
// or Restore, in no particular order. Used by snapshotting, which has no
// other way to enumerate the accounts it needs to persist.
func (l *Ledger) Users() []string {
	users := make([]string, 0, len(l.accounts))
	for userID := range l.accounts {
		users = append(users, userID)
	}
	return users
}

// Get returns a snapshot of a user's balance for one asset. A user/asset
// pair never on-ramped returns a zero Balance, not an error: querying
// balance is never itself a faucet.
func (l *Ledger) Get(userID, asset string) Balance {
	if bal, ok := l.balance(userID, asset); ok {
		return *bal
	}
	return Balance{Available: decimal.Zero, Locked: decimal.Zero}
}

// OnRamp credits Available for userID's holding of asset. Idempotence
// against a replayed txn_id is the caller's responsibility (see
// internal/engine's dedup cache); OnRamp itself always applies the credit.
func (l *Ledger) OnRamp(userID, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() || amount.IsZero() {
		return fmt.Errorf("on-ramp amount must be positive")
	}
	bal := l.getOrCreate(userID, asset)
	bal.Available = bal.Available.Add(amount)
	return nil
}

// Lock moves amount from Available to Locked, e.g. when a new order rests
// on the book and its notional must be set aside. If allowFaucet is set and
// the account has never been touched, it is created with a zero balance
// first (and the lock will then fail on insufficient funds, same as any
// other under-funded account).
func (l *Ledger) Lock(userID, asset string, amount decimal.Decimal) error {
	bal, ok := l.balance(userID, asset)
	if !ok {
		if !l.allowFaucet {
			return fmt.Errorf("no balance for user %s asset %s", userID, asset)
		}
		bal = l.getOrCreate(userID, asset)
	}
	if bal.Available.LessThan(amount) {
		return fmt.Errorf("insufficient balance: have %s, need %s", bal.Available, amount)
	}
	bal.Available = bal.Available.Sub(amount)
	bal.Locked = bal.Locked.Add(amount)
	return nil
}

// Release moves amount back from Locked to Available, e.g. when an order is
// cancelled or its resting remainder is reduced.
func (l *Ledger) Release(userID, asset string, amount decimal.Decimal) error {
	bal, ok := l.balance(userID, asset)
	if !ok {
		return fmt.Errorf("no balance for user %s asset %s", userID, asset)
	}
	if bal.Locked.LessThan(amount) {
		return fmt.Errorf("release exceeds locked: have %s locked, releasing %s", bal.Locked, amount)
	}
	bal.Locked = bal.Locked.Sub(amount)
	bal.Available = bal.Available.Add(amount)
	return nil
}

// SettleTaker applies a fill's effect to the taker's two legs: debit
// Locked of the asset it paid with, credit Available of the asset it
// received. The paid amount must already be in Locked (the engine locks a
// new order's full notional before matching); if Locked is short, nothing
// changes and an error is returned. Any part of the up-front lock that the
// fill does not consume stays in Locked.
func (l *Ledger) SettleTaker(userID, payAsset string, payAmount decimal.Decimal, receiveAsset string, receiveAmount decimal.Decimal) error {
	payBal := l.getOrCreate(userID, payAsset)
	if payBal.Locked.LessThan(payAmount) {
		return fmt.Errorf("settlement exceeds locked %s: have %s, need %s", payAsset, payBal.Locked, payAmount)
	}
	payBal.Locked = payBal.Locked.Sub(payAmount)

	recvBal := l.getOrCreate(userID, receiveAsset)
	recvBal.Available = recvBal.Available.Add(receiveAmount)
	return nil
}

// Restore sets a balance directly from a loaded snapshot, bypassing the
// On-ramp/Lock/Release invariant checks that apply to live traffic: a
// snapshot is trusted to have been produced by this same ledger's own
// Save path.
func (l *Ledger) Restore(userID, asset string, available, locked decimal.Decimal) error {
	if available.IsNegative() || locked.IsNegative() {
		return fmt.Errorf("snapshot balance for %s/%s is negative", userID, asset)
	}
	bal := l.getOrCreate(userID, asset)
	bal.Available = available
	bal.Locked = locked
	return nil
}

// SettleMaker applies a fill's effect to the resting maker's two legs,
// identical in shape to SettleTaker but kept distinct so the engine can
// name each call site by role.
func (l *Ledger) SettleMaker(userID, payAsset string, payAmount decimal.Decimal, receiveAsset string, receiveAmount decimal.Decimal) error {
	return l.SettleTaker(userID, payAsset, payAmount, receiveAsset, receiveAmount)
}
