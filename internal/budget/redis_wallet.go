package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Seeds the balance on first sight, then reads it
var checkScript = redis.NewScript(`
redis.call("SET", KEYS[1], ARGV[1], "NX")
return tonumber(redis.call("GET", KEYS[1]))
`)

// Seeds the balance on first sight, then deducts and logs the entry
var deductScript = redis.NewScript(`
redis.call("SET", KEYS[1], ARGV[1], "NX")
local remaining = redis.call("DECRBY", KEYS[1], ARGV[2])
redis.call("RPUSH", KEYS[2], ARGV[3])
return remaining
`)

// RedisWallet keeps balances in Redis so several coordinators can share them
type RedisWallet struct {
	client  redis.UniversalClient
	prefix  string
	initial int64
}

// NewRedisWallet creates a Redis-backed wallet
func NewRedisWallet(client redis.UniversalClient, prefix string, initial int64) *RedisWallet {
	if prefix == "" {
		prefix = "crew:wallet"
	}
	return &RedisWallet{client: client, prefix: prefix, initial: initial}
}

func (w *RedisWallet) balanceKey(userID string) string {
	return fmt.Sprintf("%s:%s:balance", w.prefix, userID)
}

func (w *RedisWallet) ledgerKey(userID string) string {
	return fmt.Sprintf("%s:%s:ledger", w.prefix, userID)
}

// CheckBalance reports whether required credits are available
func (w *RedisWallet) CheckBalance(ctx context.Context, userID string, required int64) (Balance, error) {
	if required < 0 {
		return Balance{}, ErrInvalidAmount
	}
	remaining, err := checkScript.Run(ctx, w.client, []string{w.balanceKey(userID)}, w.initial).Int64()
	if err != nil {
		return Balance{}, fmt.Errorf("failed to read balance: %w", err)
	}
	return Balance{Allowed: remaining >= required, Remaining: remaining}, nil
}

// Deduct atomically subtracts spent credits
func (w *RedisWallet) Deduct(ctx context.Context, userID string, amount int64, reason string) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	entry := fmt.Sprintf("%s\t%d\t%s", time.Now().UTC().Format(time.RFC3339), amount, reason)
	keys := []string{w.balanceKey(userID), w.ledgerKey(userID)}
	if err := deductScript.Run(ctx, w.client, keys, w.initial, amount, entry).Err(); err != nil {
		return fmt.Errorf("failed to deduct credits: %w", err)
	}
	return nil
}

// Credit adds credits to a user's balance
func (w *RedisWallet) Credit(ctx context.Context, userID string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if err := w.client.SetNX(ctx, w.balanceKey(userID), w.initial, 0).Err(); err != nil {
		return fmt.Errorf("failed to seed balance: %w", err)
	}
	return w.client.IncrBy(ctx, w.balanceKey(userID), amount).Err()
}
