// Package cache stores raw Overpass responses in a bbolt file so repeated
// runs over the same area do not hit the API.
package cache

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"
	"go.etcd.io/bbolt"
)

const bucketName = "overpass"

// ErrClosed is returned by operations on a closed cache
var ErrClosed = errors.New("cache is closed")

// entry is the msgpack value stored under each key, zstd compressed
type entry struct {
	StoredAt int64  `msgpack:"t"`
	Data     []byte `msgpack:"d"`
}

// Cache is a TTL keyed byte store
type Cache struct {
	db  *bbolt.DB
	ttl time.Duration
	now func() time.Time

	enc *zstd.Encoder
	dec *zstd.Decoder
	mu  sync.Mutex
}

// Open opens or creates the cache file. A ttl of zero never expires entries.
func Open(path string, ttl time.Duration) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Cache{db: db, ttl: ttl, now: time.Now, enc: enc, dec: dec}, nil
}

// Close releases the file and codecs
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	c.dec.Close()
	err := c.enc.Close()
	if cerr := c.db.Close(); cerr != nil {
		err = cerr
	}
	c.db = nil
	return err
}

// Key derives a fixed-size cache key from its parts
func Key(parts ...string) string {
	h := xxh3.HashString128(strings.Join(parts, "\x00"))
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}

// Get returns the stored bytes for key. Expired entries are misses.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, false, ErrClosed
	}

	var raw []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(bucketName)).Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache: %w", err)
	}
	if raw == nil {
		return nil, false, nil
	}

	plain, err := c.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decompress cache entry: %w", err)
	}
	var e entry
	if err := msgpack.Unmarshal(plain, &e); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}

	if c.ttl > 0 && c.now().Sub(time.Unix(0, e.StoredAt)) > c.ttl {
		return nil, false, nil
	}
	return e.Data, true, nil
}

// Put stores data under key
func (c *Cache) Put(key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return ErrClosed
	}

	plain, err := msgpack.Marshal(&entry{StoredAt: c.now().UnixNano(), Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	packed := c.enc.EncodeAll(plain, nil)

	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), packed)
	})
}

// Purge deletes expired entries and returns how many were removed
func (c *Cache) Purge() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return 0, ErrClosed
	}
	if c.ttl <= 0 {
		return 0, nil
	}

	removed := 0
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			plain, err := c.dec.DecodeAll(v, nil)
			if err != nil {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			var e entry
			if err := msgpack.Unmarshal(plain, &e); err != nil || c.now().Sub(time.Unix(0, e.StoredAt)) > c.ttl {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
