// Package cache provides a tiny Redis client wrapper for prediction mask caching
package cache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/SyedDaiam9101/volseg-service/internal/volume"
)

// keyPrefix namespaces mask entries in Redis.
const keyPrefix = "volseg:mask:"

// Cache wraps a Redis client for prediction mask storage
type Cache struct {
	client *redis.Client
}

// New creates a new Cache instance connected to the specified Redis address
// If addr is empty, defaults to localhost:6379
func New(ctx context.Context, addr string) (*Cache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // No password by default
		DB:       0,  // Default DB
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Cache{client: client}, nil
}

// KeyParams are the inference settings that change a volume's mask.
type KeyParams struct {
	// ModelID fingerprints the weights that produce the mask.
	ModelID    string
	PatchSize  int
	NumClasses int
	Policy     string
	Conform    bool
}

// Key derives a cache key from a volume's shape and intensities plus the
// settings it will be segmented with.
func Key(v *volume.Volume, p KeyParams) string {
	h, _ := blake2b.New256(nil)

	var buf [8]byte
	for _, n := range []int{v.Depth, v.Height, v.Width, p.PatchSize, p.NumClasses} {
		binary.LittleEndian.PutUint64(buf[:], uint64(n))
		h.Write(buf[:])
	}
	if p.Conform {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write([]byte(p.Policy))
	h.Write([]byte{0})
	h.Write([]byte(p.ModelID))
	h.Write([]byte{0})

	for _, x := range v.Data {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
		h.Write(buf[:])
	}

	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Entry is a cached segmentation outcome.
type Entry struct {
	Depth            int     `json:"depth"`
	Height           int     `json:"height"`
	Width            int     `json:"width"`
	Labels           []byte  `json:"labels"`
	DegenerateSlices []int   `json:"degenerate_slices,omitempty"`
	InferenceMs      float64 `json:"inference_ms"`
}

// NewEntry captures a mask and its diagnostics for caching.
func NewEntry(m *volume.Mask, degenerate []int, elapsed time.Duration) Entry {
	return Entry{
		Depth:            m.Depth,
		Height:           m.Height,
		Width:            m.Width,
		Labels:           m.Labels,
		DegenerateSlices: degenerate,
		InferenceMs:      float64(elapsed.Microseconds()) / 1000.0,
	}
}

// Mask rebuilds the cached mask.
func (e Entry) Mask() (*volume.Mask, error) {
	s := volume.Shape{Depth: e.Depth, Height: e.Height, Width: e.Width}
	if !s.Valid() || len(e.Labels) != s.Voxels() {
		return nil, fmt.Errorf("corrupt cache entry: shape %s with %d labels", s, len(e.Labels))
	}
	return &volume.Mask{Shape: s, Labels: e.Labels}, nil
}

// Set stores an entry with the specified TTL
func (c *Cache) Set(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	if c.client == nil {
		return fmt.Errorf("cache client is nil")
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode mask %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set mask %s: %w", key, err)
	}

	return nil
}

// Get retrieves an entry. The boolean is false when the key does not exist.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool, error) {
	if c.client == nil {
		return Entry{}, false, fmt.Errorf("cache client is nil")
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil // Key does not exist
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get mask %s: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("failed to decode mask %s: %w", key, err)
	}

	return e, true, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
