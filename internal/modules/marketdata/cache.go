package marketdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache namespaces. Keeping them in one place avoids key collisions between
// callers sharing the cache database.
const (
	NamespaceCurrentPrice = "current_price"
	NamespaceCovariance   = "covariance"
)

// TTL constants per namespace.
const (
	TTLCurrentPrice = 10 * time.Minute // Quotes go stale fast
	TTLCovariance   = 24 * time.Hour   // Daily data, daily covariance
)

// Cache is a persistent TTL blob cache in the cache database. Values are
// msgpack-encoded.
type Cache struct {
	db *sql.DB
}

// NewCache creates the cache and ensures its schema.
func NewCache(db *sql.DB) (*Cache, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS blob_cache (
		namespace  TEXT NOT NULL,
		key        TEXT NOT NULL,
		data       BLOB NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, key)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to migrate cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Store saves a value with expiration = now + ttl.
func (c *Cache) Store(namespace, key string, value interface{}, ttl time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	expiresAt := time.Now().Add(ttl).Unix()
	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO blob_cache (namespace, key, data, expires_at)
		VALUES (?, ?, ?, ?)
	`, namespace, key, data, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// GetIfFresh retrieves a value only when it has not expired. Returns false
// when the entry is missing or stale.
func (c *Cache) GetIfFresh(namespace, key string, out interface{}) (bool, error) {
	var data []byte
	err := c.db.QueryRow(`
		SELECT data FROM blob_cache
		WHERE namespace = ? AND key = ? AND expires_at > ?
	`, namespace, key, time.Now().Unix()).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if err := msgpack.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

// Cleanup deletes expired entries. Returns the number of rows removed.
func (c *Cache) Cleanup() (int64, error) {
	res, err := c.db.Exec(`DELETE FROM blob_cache WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up cache: %w", err)
	}
	return res.RowsAffected()
}
