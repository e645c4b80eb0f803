// internal/state/staleness.go
package state

import (
	"encoding/json"
	"fmt"
)

// Cache holds a derived value together with the sequence point it was last
// verified at. A cache is either Fresh(value, asOf) or Stale; a stale cache
// keeps the last known value and its point for diagnostics only.
type Cache[T any] struct {
	value T
	asOf  uint64
	fresh bool
}

// NewCache returns a stale cache with no value.
func NewCache[T any]() Cache[T] {
	return Cache[T]{}
}

// Invalidate marks the cache stale. The last value is retained.
func (c *Cache[T]) Invalidate() {
	c.fresh = false
}

// RefreshTo stores a freshly computed value valid as of point.
func (c *Cache[T]) RefreshTo(point uint64, value T) {
	c.value = value
	c.asOf = point
	c.fresh = true
}

// TryGet returns the value only if it is fresh and at least as recent as
// required.
func (c *Cache[T]) TryGet(required uint64) (T, error) {
	if !c.fresh || c.asOf < required {
		var zero T
		return zero, fmt.Errorf("need point %d, have %d (fresh=%t): %w",
			required, c.asOf, c.fresh, ErrStaleData)
	}
	return c.value, nil
}

// Expect is TryGet for values the caller has already refreshed. A miss is a
// programming error.
func (c *Cache[T]) Expect(required uint64, msg string) T {
	v, err := c.TryGet(required)
	if err != nil {
		panic(fmt.Sprintf("FATAL: %s: %v", msg, err))
	}
	return v
}

// LastKnown returns the last stored value regardless of freshness.
func (c *Cache[T]) LastKnown() (T, uint64) {
	return c.value, c.asOf
}

func (c *Cache[T]) IsFresh() bool { return c.fresh }

func (c *Cache[T]) AsOf() uint64 { return c.asOf }

type cacheJSON[T any] struct {
	Value T      `json:"value"`
	AsOf  uint64 `json:"as_of"`
	Fresh bool   `json:"fresh"`
}

func (c Cache[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(cacheJSON[T]{Value: c.value, AsOf: c.asOf, Fresh: c.fresh})
}

func (c *Cache[T]) UnmarshalJSON(data []byte) error {
	var raw cacheJSON[T]
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.value, c.asOf, c.fresh = raw.Value, raw.AsOf, raw.Fresh
	return nil
}
