// Package iconcache keeps decoded icons for the game list. Decoded icons are
// stored with their TTL and cost bound by ristretto; failed loads are stored as
// negative entries so the list shows the default icon without asking again.
package iconcache

import (
	"errors"
	"image"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/mameuix/mameuix/internal/job"
)

// Entry is a cached icon. Image is nil for a negative entry.
type Entry struct {
	Image  *image.RGBA
	Status job.Status
	Reason string
}

func (e Entry) Ok() bool {
	return e.Image != nil
}

type Config struct {
	MaxCached int           // max number of cached icons
	Lifetime  time.Duration // 0 means no expiry
}

// Cache implements progress.IconSink.
type Cache struct {
	c        *ristretto.Cache[string, Entry]
	lifetime time.Duration
}

func New(cfg Config) (*Cache, error) {
	if cfg.MaxCached < 1 {
		return nil, errors.New("iconcache: MaxCached must be positive")
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, Entry]{
		NumCounters:        int64(cfg.MaxCached) * 10,
		MaxCost:            int64(cfg.MaxCached),
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true, // cost counts icons, not bytes
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, lifetime: cfg.Lifetime}, nil
}

// Store records the outcome of an icon load. The entry is visible to Get
// when Store returns, so a drained icon is never requested again.
func (c *Cache) Store(key string, o job.Outcome) {
	e := Entry{Status: o.Status, Reason: o.Reason}
	if o.Status == job.StatusDecoded && o.Decoded != nil {
		e.Image = o.Decoded.Image
	}
	if c.c.SetWithTTL(key, e, 1, c.lifetime) {
		c.c.Wait()
	}
}

// Get returns the cached entry, ok is false when the icon must be requested.
func (c *Cache) Get(key string) (Entry, bool) {
	return c.c.Get(key)
}

// Wait blocks until buffered writes are applied.
func (c *Cache) Wait() {
	c.c.Wait()
}

func (c *Cache) Remove(key string) {
	c.c.Del(key)
}

func (c *Cache) Clear() {
	c.c.Clear()
}

// Stats returns hits, misses and the number of icons currently admitted.
func (c *Cache) Stats() (hits, misses, cached uint64) {
	m := c.c.Metrics
	added, evicted := m.KeysAdded(), m.KeysEvicted()
	if evicted < added {
		cached = added - evicted
	}
	return m.Hits(), m.Misses(), cached
}

func (c *Cache) Close() {
	c.c.Close()
}
