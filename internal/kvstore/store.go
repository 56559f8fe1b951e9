package kvstore

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var ErrNotFound = errors.New("key not found")

// Item is a stored key with its caller serialized value.
type Item struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Deleted struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
}

// Store is a flat string key-value store. Last write wins.
type Store interface {
	Get(ctx context.Context, key string) (Item, error)
	Set(ctx context.Context, key, value string) (Item, error)
	// Delete is idempotent, deleting a missing key still reports deleted.
	Delete(ctx context.Context, key string) (Deleted, error)
	// List returns the keys starting with prefix, sorted. An empty prefix lists all keys.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

func filterAndSort(keys []string, prefix string) []string {
	filtered := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			filtered = append(filtered, k)
		}
	}
	sort.Strings(filtered)
	return filtered
}
