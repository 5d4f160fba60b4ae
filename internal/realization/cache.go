package realization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// InvalidationChannel carries invoice change signals. Payload is the contract
// id, optionally followed by ":<version>" when the sender already bumped it.
const InvalidationChannel = "invoice.changed"

// Cache stores snapshots in Redis under a per-contract version, so a bump
// makes every older entry unreachable.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache returns nil, meaning no caching, when client is nil or ttl is not
// positive.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &Cache{client: client, ttl: ttl}
}

func versionKey(contractID int64) string {
	return "realization:version:" + strconv.FormatInt(contractID, 10)
}

func snapshotKey(contractID, version int64) string {
	return fmt.Sprintf("realization:snapshot:%d:%d", contractID, version)
}

// Version returns the current version of contractID; a missing key is 0.
func (c *Cache) Version(ctx context.Context, contractID int64) (int64, error) {
	ver, err := c.client.Get(ctx, versionKey(contractID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

// Get loads the snapshot stored under version.
func (c *Cache) Get(ctx context.Context, contractID, version int64) (Snapshot, bool, error) {
	payload, err := c.client.Get(ctx, snapshotKey(contractID, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Set stores snap under version.
func (c *Cache) Set(ctx context.Context, version int64, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, snapshotKey(snap.ContractID, version), raw, c.ttl).Err()
}

// Bump increments the version of contractID and announces it.
func (c *Cache) Bump(ctx context.Context, contractID int64) (int64, error) {
	ver, err := c.client.Incr(ctx, versionKey(contractID)).Result()
	if err != nil {
		return 0, err
	}
	payload := fmt.Sprintf("%d:%d", contractID, ver)
	return ver, c.client.Publish(ctx, InvalidationChannel, payload).Err()
}

// ListenForInvalidation bumps contracts named by bare signals from the
// invoice collaborator until ctx ends. Signals that carry a version were
// bumped by their sender and are skipped.
func (c *Cache) ListenForInvalidation(ctx context.Context) error {
	if c == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, InvalidationChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				id, versioned, err := parseSignal(msg.Payload)
				if err != nil || versioned {
					continue
				}
				_ = c.client.Incr(ctx, versionKey(id)).Err()
			}
		}
	}()
	return nil
}

func parseSignal(payload string) (int64, bool, error) {
	raw, _, versioned := strings.Cut(strings.TrimSpace(payload), ":")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("realization: bad invalidation payload %q", payload)
	}
	return id, versioned, nil
}
