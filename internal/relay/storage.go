package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDeliveries = []byte("deliveries")
	bucketPending    = []byte("pending")
	bucketDeferred   = []byte("deferred")
)

// BoltStorage implements Queue using BoltDB
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage opens (or creates) the delivery queue database
func NewBoltStorage(path string) (*BoltStorage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketDeliveries, bucketPending, bucketDeferred} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

// Enqueue adds a delivery to the queue
func (s *BoltStorage) Enqueue(ctx context.Context, d *Delivery) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal delivery: %w", err)
		}
		if err := tx.Bucket(bucketDeliveries).Put([]byte(d.ID), data); err != nil {
			return fmt.Errorf("failed to store delivery: %w", err)
		}

		indexKey := makeIndexKey(d.CreatedAt, d.ID)
		if err := tx.Bucket(bucketPending).Put(indexKey, []byte(d.ID)); err != nil {
			return fmt.Errorf("failed to add to pending index: %w", err)
		}
		return nil
	})
}

// Dequeue gets the next delivery for processing. Deferred deliveries whose
// retry time has arrived take priority over fresh pending ones.
func (s *BoltStorage) Dequeue(ctx context.Context) (*Delivery, error) {
	var out *Delivery

	err := s.db.Update(func(tx *bolt.Tx) error {
		deliveries := tx.Bucket(bucketDeliveries)

		c := tx.Bucket(bucketDeferred).Cursor()
		now := time.Now()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			ts := parseTimestampFromKey(k)
			if ts.After(now) {
				break // All remaining are in the future
			}

			data := deliveries.Get(v)
			if data == nil {
				c.Delete()
				continue
			}

			d, err := markSending(deliveries, data, now)
			if err != nil {
				continue
			}
			if err := c.Delete(); err != nil {
				return err
			}
			out = d
			return nil
		}

		c = tx.Bucket(bucketPending).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			data := deliveries.Get(v)
			if data == nil {
				c.Delete()
				continue
			}

			d, err := markSending(deliveries, data, now)
			if err != nil {
				continue
			}
			if err := c.Delete(); err != nil {
				return err
			}
			out = d
			return nil
		}

		return nil
	})

	return out, err
}

func markSending(deliveries *bolt.Bucket, data []byte, now time.Time) (*Delivery, error) {
	var d Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}

	d.Status = StatusSending
	d.UpdatedAt = now

	updated, err := json.Marshal(&d)
	if err != nil {
		return nil, err
	}
	if err := deliveries.Put([]byte(d.ID), updated); err != nil {
		return nil, err
	}
	return &d, nil
}

// Update updates the delivery status
func (s *BoltStorage) Update(ctx context.Context, d *Delivery) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		d.UpdatedAt = time.Now()

		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal delivery: %w", err)
		}
		if err := tx.Bucket(bucketDeliveries).Put([]byte(d.ID), data); err != nil {
			return fmt.Errorf("failed to update delivery: %w", err)
		}

		if d.Status == StatusDeferred {
			indexKey := makeIndexKey(d.NextRetryAt, d.ID)
			if err := tx.Bucket(bucketDeferred).Put(indexKey, []byte(d.ID)); err != nil {
				return fmt.Errorf("failed to add to deferred index: %w", err)
			}
		}
		return nil
	})
}

// Get retrieves a delivery by ID
func (s *BoltStorage) Get(ctx context.Context, id string) (*Delivery, error) {
	var d *Delivery

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDeliveries).Get([]byte(id))
		if data == nil {
			return nil
		}
		d = &Delivery{}
		return json.Unmarshal(data, d)
	})

	return d, err
}

// List returns deliveries with optional filtering
func (s *BoltStorage) List(ctx context.Context, filter ListFilter) ([]*Delivery, error) {
	var out []*Delivery

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDeliveries).Cursor()

		count := 0
		skipped := 0

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var d Delivery
			if err := json.Unmarshal(v, &d); err != nil {
				continue
			}
			if filter.Status != "" && d.Status != filter.Status {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}

			out = append(out, &d)
			count++
			if filter.Limit > 0 && count >= filter.Limit {
				break
			}
		}
		return nil
	})

	return out, err
}

// Stats returns queue statistics
func (s *BoltStorage) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDeliveries).Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var d Delivery
			if err := json.Unmarshal(v, &d); err != nil {
				continue
			}

			stats.Total++
			switch d.Status {
			case StatusPending:
				stats.Pending++
			case StatusSending:
				stats.Sending++
			case StatusDelivered:
				stats.Delivered++
			case StatusFailed:
				stats.Failed++
			case StatusDeferred:
				stats.Deferred++
			}
		}
		return nil
	})

	return stats, err
}

// CleanupTerminal removes delivered and permanently failed deliveries whose
// last update is older than maxAge, returning the number deleted. Pending,
// sending and deferred deliveries are never touched.
func (s *BoltStorage) CleanupTerminal(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketDeliveries)
		c := bucket.Cursor()

		var toDelete [][]byte

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var d Delivery
			if err := json.Unmarshal(v, &d); err != nil {
				continue
			}
			if d.Status != StatusDelivered && d.Status != StatusFailed {
				continue
			}
			if d.UpdatedAt.Before(cutoff) {
				toDelete = append(toDelete, append([]byte{}, k...))
			}
		}

		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}

// Close closes the database connection
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance so other stores can share it
func (s *BoltStorage) DB() *bolt.DB {
	return s.db
}

// makeIndexKey builds a time-ordered index key: RFC3339Nano timestamp + ":" + id
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.Format(time.RFC3339Nano) + ":" + id)
}

// parseTimestampFromKey extracts the timestamp from an index key
func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			ts, _ := time.Parse(time.RFC3339Nano, s[:i])
			return ts
		}
	}
	return time.Time{}
}
