package offline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rcliao/learnsync/internal/model"
	"github.com/rcliao/learnsync/internal/store"
)

// Cache stores fetched content for offline reading under keys of the form
// "<kind>_<id>", e.g. "course_42".
type Cache struct {
	store store.Store
}

func NewCache(s store.Store) *Cache {
	return &Cache{store: s}
}

// Key returns the offline-data key for a kind and id.
func Key(kind, id string) string {
	return kind + "_" + id
}

// Put caches data, replacing any previous copy.
func (c *Cache) Put(ctx context.Context, kind, id string, data json.RawMessage) error {
	return c.store.StoreOfflineData(ctx, Key(kind, id), data, kind)
}

func (c *Cache) Get(ctx context.Context, kind, id string) (json.RawMessage, error) {
	e, err := c.store.GetOfflineData(ctx, Key(kind, id))
	if err != nil {
		return nil, err
	}
	return e.Data, nil
}

// All returns every cached entry of kind keyed by id.
func (c *Cache) All(ctx context.Context, kind string) (map[string]json.RawMessage, error) {
	entries, err := c.store.GetOfflineDataByType(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(entries))
	for _, e := range entries {
		out[strings.TrimPrefix(e.Key, kind+"_")] = e.Data
	}
	return out, nil
}

func (c *Cache) Remove(ctx context.Context, kind, id string) error {
	return c.store.DeleteOfflineData(ctx, Key(kind, id))
}

// Entries returns raw entries of kind in key order.
func (c *Cache) Entries(ctx context.Context, kind string) ([]model.OfflineEntry, error) {
	return c.store.GetOfflineDataByType(ctx, kind)
}
