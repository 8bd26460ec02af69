package budget

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInvalidAmount is returned for negative wallet amounts
var ErrInvalidAmount = errors.New("amount must not be negative")

// Balance is the outcome of a wallet check
type Balance struct {
	Allowed   bool  `json:"allowed"`
	Remaining int64 `json:"remaining"`
}

// Wallet gates work on a user's credit balance
type Wallet interface {
	CheckBalance(ctx context.Context, userID string, required int64) (Balance, error)
	Deduct(ctx context.Context, userID string, amount int64, reason string) error
}

// LedgerEntry records one deduction
type LedgerEntry struct {
	UserID string    `json:"user_id"`
	Amount int64     `json:"amount"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// MemoryWallet keeps balances in memory. Users start with the initial
// balance the first time they are seen.
type MemoryWallet struct {
	mu       sync.Mutex
	initial  int64
	balances map[string]int64
	ledger   []LedgerEntry
}

// NewMemoryWallet creates a wallet where every user starts with initial credits
func NewMemoryWallet(initial int64) *MemoryWallet {
	return &MemoryWallet{initial: initial, balances: make(map[string]int64)}
}

func (w *MemoryWallet) balance(userID string) int64 {
	b, ok := w.balances[userID]
	if !ok {
		b = w.initial
		w.balances[userID] = b
	}
	return b
}

// CheckBalance reports whether required credits are available
func (w *MemoryWallet) CheckBalance(ctx context.Context, userID string, required int64) (Balance, error) {
	if required < 0 {
		return Balance{}, ErrInvalidAmount
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	remaining := w.balance(userID)
	return Balance{Allowed: remaining >= required, Remaining: remaining}, nil
}

// Deduct records spent credits. Spend already happened, so the balance may
// go negative.
func (w *MemoryWallet) Deduct(ctx context.Context, userID string, amount int64, reason string) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[userID] = w.balance(userID) - amount
	w.ledger = append(w.ledger, LedgerEntry{UserID: userID, Amount: amount, Reason: reason, At: time.Now()})
	return nil
}

// Credit adds credits to a user's balance
func (w *MemoryWallet) Credit(userID string, amount int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[userID] = w.balance(userID) + amount
}

// Ledger returns a copy of all deductions
func (w *MemoryWallet) Ledger() []LedgerEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]LedgerEntry(nil), w.ledger...)
}
