// Package objectstore is the content-addressed side store for ledger-state
// snapshots: an A/B-slotted pair of object spaces, each holding
// BLAKE2b-256-addressed blobs with a reference count, and a single pointer
// record naming which slot is currently valid. Writers build the inactive
// slot, then flip the pointer atomically; readers only ever see a
// consistent, fully-written slot.
//
// Backed by go.etcd.io/bbolt, following the embedded-KV-with-buckets idiom
// used for exactly this kind of content-addressed local store elsewhere in
// the ecosystem.
package objectstore

import (
	"context"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/blake2b"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
)

var (
	bucketObjectsA = []byte("objects_a")
	bucketObjectsB = []byte("objects_b")
	bucketRefsA    = []byte("refs_a")
	bucketRefsB    = []byte("refs_b")
	bucketRoots    = []byte("roots")
)

// Digest is a content address: the BLAKE2b-256 hash of an object's bytes.
type Digest [32]byte

// Sum computes the digest of data.
func Sum(data []byte) Digest {
	return Digest(blake2b.Sum256(data))
}

// Store is one bbolt-backed A/B object store.
type Store struct {
	db *bbolt.DB
	mu sync.Mutex // serializes writer-side slot swaps
}

// Open opens (creating if absent) the bbolt file at path and ensures every
// bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "open object store", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketObjectsA, bucketObjectsB, bucketRefsA, bucketRefsB, bucketRoots} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.KindTransient, "init object store buckets", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error { return s.db.Close() }

func slotBuckets(selector domain.ABSelector) (objects, refs []byte) {
	if selector == domain.SlotB {
		return bucketObjectsB, bucketRefsB
	}
	return bucketObjectsA, bucketRefsA
}

// inactive returns the slot NOT named by the current pointer, i.e. the one
// safe to write into.
func inactive(active domain.ABSelector) domain.ABSelector {
	if active == domain.SlotA {
		return domain.SlotB
	}
	return domain.SlotA
}

// Put writes data into slot, addressed by its digest, incrementing the
// object's reference count. Safe to call multiple times with the same
// bytes; the refcount accumulates.
func (s *Store) Put(ctx context.Context, selector domain.ABSelector, data []byte) (Digest, error) {
	digest := Sum(data)
	objects, refs := slotBuckets(selector)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		ob := tx.Bucket(objects)
		rb := tx.Bucket(refs)

		key := digest[:]
		if ob.Get(key) == nil {
			if err := ob.Put(key, data); err != nil {
				return err
			}
		}
		count := decodeRefCount(rb.Get(key)) + 1
		return rb.Put(key, encodeRefCount(count))
	})
	if err != nil {
		return Digest{}, apperr.Wrap(apperr.KindTransient, "put object", err)
	}
	return digest, nil
}

// Get reads the object named by digest out of slot.
func (s *Store) Get(ctx context.Context, selector domain.ABSelector, digest Digest) ([]byte, error) {
	objects, _ := slotBuckets(selector)
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(objects).Get(digest[:])
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "get object", err)
	}
	if out == nil {
		return nil, apperr.New(apperr.KindResource, fmt.Sprintf("object %x not found", digest))
	}
	return out, nil
}

// Release decrements the reference count for digest in slot, deleting the
// object once it reaches zero.
func (s *Store) Release(ctx context.Context, selector domain.ABSelector, digest Digest) error {
	objects, refs := slotBuckets(selector)
	return s.db.Update(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(refs)
		key := digest[:]
		count := decodeRefCount(rb.Get(key))
		if count == 0 {
			return nil
		}
		count--
		if count == 0 {
			if err := rb.Delete(key); err != nil {
				return err
			}
			return tx.Bucket(objects).Delete(key)
		}
		return rb.Put(key, encodeRefCount(count))
	})
}

// ActiveSlot returns the slot currently published as valid, for readers.
func (s *Store) ActiveSlot() (domain.ABSelector, error) {
	var selector domain.ABSelector
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRoots).Get([]byte("active"))
		if v == nil {
			selector = domain.SlotA
			return nil
		}
		selector = domain.ABSelector(v)
		return nil
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransient, "read active slot", err)
	}
	return selector, nil
}

// WriteSlot returns the slot a writer should build into: the inverse of
// whatever is currently published.
func (s *Store) WriteSlot() (domain.ABSelector, error) {
	active, err := s.ActiveSlot()
	if err != nil {
		return "", err
	}
	return inactive(active), nil
}

// Swap publishes selector as the new active slot. The writer must have
// finished populating it before calling this; once published, readers see
// it immediately and the previously active slot becomes eligible for
// garbage collection by the caller.
func (s *Store) Swap(ctx context.Context, selector domain.ABSelector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRoots).Put([]byte("active"), []byte(selector))
	})
}

func encodeRefCount(n uint32) []byte {
	b := make([]byte, 4)
	b[0] = byte(n >> 24)
	b[1] = byte(n >> 16)
	b[2] = byte(n >> 8)
	b[3] = byte(n)
	return b
}

func decodeRefCount(b []byte) uint32 {
	if len(b) != 4 {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
