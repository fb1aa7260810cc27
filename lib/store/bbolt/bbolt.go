package bbolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TecharoHQ/torauth/lib/store"
	"go.etcd.io/bbolt"
)

// Sentinel error values used for testing and in admin-visible error messages.
var (
	ErrBucketDoesNotExist = errors.New("bbolt: bucket does not exist")
	ErrNotExists          = errors.New("bbolt: value does not exist in store")
)

var (
	dataKey   = []byte("data")
	expiryKey = []byte("expiry")
)

// Store implements store.Interface backed by bbolt[1].
//
// Every value lives in its own bucket inside the configured root bucket,
// holding two keys:
//
// 1. data - the raw value, usually JSON
// 2. expiry - unix nanoseconds, big endian
//
// The cleanup pass only has to read the expiry of each bucket.
//
// bbolt locks its file, so it can't be shared by several torauth instances.
// Use the valkey backend for that.
//
// [1]: https://github.com/etcd-io/bbolt
type Store struct {
	bdb    *bbolt.DB
	bucket []byte
}

func open(path, bucket string) (*Store, error) {
	bdb, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("can't open bbolt database %s: %w", path, err)
	}

	if err := bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("can't create bucket %s in %s: %w", bucket, path, err)
	}

	return &Store{bdb: bdb, bucket: []byte(bucket)}, nil
}

func (s *Store) root(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	bkt := tx.Bucket(s.bucket)
	if bkt == nil {
		return nil, ErrBucketDoesNotExist
	}
	return bkt, nil
}

func expiryOf(bkt *bbolt.Bucket) (time.Time, bool) {
	raw := bkt.Get(expiryKey)
	if len(raw) != 8 {
		return time.Time{}, false
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(raw))), true
}

// Delete a key from the datastore. If the key does not exist, return an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt, err := s.root(tx)
		if err != nil {
			return err
		}

		if bkt.Bucket([]byte(key)) == nil {
			return fmt.Errorf("%w: %w: %q", store.ErrNotFound, ErrNotExists, key)
		}

		return bkt.DeleteBucket([]byte(key))
	})
}

// Get a value from the datastore. Expired values are reported as missing and
// left for the cleanup pass.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var result []byte

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		bkt, err := s.root(tx)
		if err != nil {
			return err
		}

		itemBucket := bkt.Bucket([]byte(key))
		if itemBucket == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		expiry, ok := expiryOf(itemBucket)
		if !ok {
			return fmt.Errorf("[unexpected] %w: %q (bad expiry)", store.ErrCantDecode, key)
		}

		if time.Now().After(expiry) {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		data := itemBucket.Get(dataKey)
		if data == nil {
			return fmt.Errorf("[unexpected] %w: %q (data is nil)", store.ErrNotFound, key)
		}

		// bbolt memory is only valid inside the transaction
		result = append([]byte(nil), data...)
		return nil
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// Set a value into the store with a given expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	var expires [8]byte
	binary.BigEndian.PutUint64(expires[:], uint64(time.Now().Add(expiry).UnixNano()))

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt, err := s.root(tx)
		if err != nil {
			return err
		}

		valueBkt, err := bkt.CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return fmt.Errorf("%w: %w: %q (create bucket)", store.ErrCantEncode, err, key)
		}

		if err := valueBkt.Put(expiryKey, expires[:]); err != nil {
			return fmt.Errorf("%w: %q (expiry)", store.ErrCantEncode, key)
		}

		if err := valueBkt.Put(dataKey, value); err != nil {
			return fmt.Errorf("%w: %q (data)", store.ErrCantEncode, key)
		}

		return nil
	})
}

// cleanup drops every value that expired before now and returns how many.
func (s *Store) cleanup(now time.Time) (int, error) {
	var n int

	err := s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt, err := s.root(tx)
		if err != nil {
			return err
		}

		var dead [][]byte
		if err := bkt.ForEachBucket(func(key []byte) error {
			expiry, ok := expiryOf(bkt.Bucket(key))
			if !ok {
				slog.Warn("while running cleanup, expiry is not set somehow, file a bug?", "key", string(key))
				return nil
			}

			if now.After(expiry) {
				dead = append(dead, append([]byte(nil), key...))
			}
			return nil
		}); err != nil {
			return err
		}

		// buckets can't be deleted while ForEachBucket walks them
		for _, key := range dead {
			if err := bkt.DeleteBucket(key); err != nil {
				return err
			}
		}

		n = len(dead)
		return nil
	})

	return n, err
}

func (s *Store) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.bdb.Close(); err != nil {
				slog.Error("can't close bbolt database", "err", err)
			}
			return
		case now := <-t.C:
			n, err := s.cleanup(now)
			if err != nil {
				slog.Error("error during bbolt cleanup", "err", err)
				continue
			}
			slog.Debug("bbolt cleanup finished", "removed", n)
		}
	}
}
