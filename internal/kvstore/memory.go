package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/2beens/fitsense/internal/telemetry/tracing"

	"github.com/coocood/freecache"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// MinMemoryCacheSize is the smallest cache freecache will allocate (512KB).
	MinMemoryCacheSize     = 512 * 1024
	DefaultMemoryCacheSize = 64 * 1024 * 1024

	// freecache splits the cache into 256 segments, one entry (with its 24 byte
	// header) may take at most a quarter of a segment
	freecacheSegments = 256
	freecacheEntryHdr = 24

	chunkKeySep      = "\x00chunk/"
	maxChunkIndexLen = 10

	valueInline  = 'v'
	valueChunked = 'c'
)

var (
	ErrValueTooLarge = errors.New("value too large")
	errChunkMissing  = errors.New("value chunk missing")
)

// MemoryStore keeps everything in a freecache instance, nothing survives a restart.
// Values too big for a single freecache entry are split into chunk entries,
// so one value can grow up to 1/8 of the cache size.
type MemoryStore struct {
	mu           sync.RWMutex
	cache        *freecache.Cache
	maxEntrySize int
	maxValueSize int
}

// NewMemoryStore allocates the whole cache upfront. Zero selects DefaultMemoryCacheSize.
func NewMemoryStore(cacheSize int) *MemoryStore {
	if cacheSize == 0 {
		cacheSize = DefaultMemoryCacheSize
	}
	if cacheSize < MinMemoryCacheSize {
		cacheSize = MinMemoryCacheSize
	}
	return &MemoryStore{
		cache:        freecache.NewCache(cacheSize),
		maxEntrySize: cacheSize/freecacheSegments/4 - freecacheEntryHdr,
		maxValueSize: cacheSize / 8,
	}
}

// MaxValueSize is the largest value Set accepts.
func (s *MemoryStore) MaxValueSize() int {
	return s.maxValueSize
}

func chunkKey(key string, i int) string {
	return key + chunkKeySep + strconv.Itoa(i)
}

func isChunkKey(key string) bool {
	return strings.Contains(key, chunkKeySep)
}

// chunkSize is half the entry limit, minus the chunk key.
func (s *MemoryStore) chunkSize(key string) int {
	return s.maxEntrySize/2 - len(key) - len(chunkKeySep) - maxChunkIndexLen
}

func (s *MemoryStore) Get(ctx context.Context, key string) (_ Item, err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "kvstore.memory.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("key", key))

	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := s.cache.Get([]byte(key))
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return Item{}, fmt.Errorf("get [%s]: %w", key, ErrNotFound)
		}
		return Item{}, fmt.Errorf("get [%s]: %w", key, err)
	}

	if len(raw) == 0 {
		return Item{}, fmt.Errorf("get [%s]: empty entry", key)
	}
	switch raw[0] {
	case valueInline:
		return Item{Key: key, Value: string(raw[1:])}, nil
	case valueChunked:
		chunks, err := strconv.Atoi(string(raw[1:]))
		if err != nil {
			return Item{}, fmt.Errorf("get [%s]: bad chunk count: %w", key, err)
		}
		span.SetAttributes(attribute.Int("chunks", chunks))

		var value strings.Builder
		for i := 0; i < chunks; i++ {
			chunk, err := s.cache.Get([]byte(chunkKey(key, i)))
			if err != nil {
				return Item{}, fmt.Errorf("get [%s] chunk %d: %w", key, i, errChunkMissing)
			}
			value.Write(chunk)
		}
		return Item{Key: key, Value: value.String()}, nil
	default:
		return Item{}, fmt.Errorf("get [%s]: unknown value tag %q", key, raw[0])
	}
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) (_ Item, err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "kvstore.memory.set")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("key", key), attribute.Int("value.size", len(value)))

	if len(value) > s.maxValueSize {
		return Item{}, fmt.Errorf("set [%s]: %d bytes, max %d: %w", key, len(value), s.maxValueSize, ErrValueTooLarge)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldChunks := s.chunkCount(key)

	// zero expiry, entries only leave the cache when deleted or evicted
	if 1+len(key)+len(value) <= s.maxEntrySize {
		if err := s.cache.Set([]byte(key), append([]byte{valueInline}, value...), 0); err != nil {
			return Item{}, fmt.Errorf("set [%s]: %w", key, err)
		}
		s.deleteChunks(key, 0, oldChunks)
		return Item{Key: key, Value: value}, nil
	}

	size := s.chunkSize(key)
	if size <= 0 {
		return Item{}, fmt.Errorf("set [%s]: key too long: %w", key, freecache.ErrLargeKey)
	}

	chunks := 0
	for start := 0; start < len(value); start += size {
		end := min(start+size, len(value))
		if err := s.cache.Set([]byte(chunkKey(key, chunks)), []byte(value[start:end]), 0); err != nil {
			return Item{}, fmt.Errorf("set [%s] chunk %d: %w", key, chunks, err)
		}
		chunks++
	}
	span.SetAttributes(attribute.Int("chunks", chunks))

	header := append([]byte{valueChunked}, strconv.Itoa(chunks)...)
	if err := s.cache.Set([]byte(key), header, 0); err != nil {
		return Item{}, fmt.Errorf("set [%s]: %w", key, err)
	}
	s.deleteChunks(key, chunks, oldChunks)

	return Item{Key: key, Value: value}, nil
}

// chunkCount is zero for missing and inline values. Must be called with the lock held.
func (s *MemoryStore) chunkCount(key string) int {
	raw, err := s.cache.Get([]byte(key))
	if err != nil || len(raw) == 0 || raw[0] != valueChunked {
		return 0
	}
	chunks, err := strconv.Atoi(string(raw[1:]))
	if err != nil {
		return 0
	}
	return chunks
}

func (s *MemoryStore) deleteChunks(key string, from, to int) {
	for i := from; i < to; i++ {
		s.cache.Del([]byte(chunkKey(key, i)))
	}
}

func (s *MemoryStore) Delete(ctx context.Context, key string) (_ Deleted, err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "kvstore.memory.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("key", key))

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteChunks(key, 0, s.chunkCount(key))
	existed := s.cache.Del([]byte(key))
	span.SetAttributes(attribute.Bool("existed", existed))

	return Deleted{Key: key, Deleted: true}, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) (_ []string, err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "kvstore.memory.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("prefix", prefix))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	it := s.cache.NewIterator()
	for entry := it.Next(); entry != nil; entry = it.Next() {
		if k := string(entry.Key); !isChunkKey(k) {
			keys = append(keys, k)
		}
	}

	return filterAndSort(keys, prefix), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Clear()
	return nil
}
