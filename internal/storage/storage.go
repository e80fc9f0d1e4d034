// Package storage wraps a single bbolt database shared by ContainerStore,
// PortPool, and the token store, mirroring the original daemon's use of
// one sled tree per concern but on bbolt's bucket model (grounded:
// cuemby-warren's go.etcd.io/bbolt dependency; bbolt is the Go ecosystem's
// closest functional match to sled's embedded, ordered KV store).
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

type DB struct {
	bolt *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures the
// given buckets exist.
func Open(path string, buckets ...string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &DB{bolt: bdb}, nil
}

func (d *DB) Close() error { return d.bolt.Close() }

// Put JSON-encodes value and stores it under key in bucket.
func (d *DB) Put(bucket, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", bucket, key, err)
	}
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), raw)
	})
}

// Get JSON-decodes the value stored under key into dest. Returns
// (false, nil) if the key is absent.
func (d *DB) Get(bucket, key string, dest any) (bool, error) {
	var found bool
	err := d.bolt.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, dest)
	})
	return found, err
}

// Delete removes key from bucket. Idempotent.
func (d *DB) Delete(bucket, key string) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Delete([]byte(key))
	})
}

// ForEach iterates every key/value pair in bucket, stopping if fn returns
// an error.
func (d *DB) ForEach(bucket string, fn func(key string, raw []byte) error) error {
	return d.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}
