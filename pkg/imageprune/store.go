// Package imageprune persists image usage bookkeeping for the garbage
// collector. The daemon records every image a module container is created
// from; the collector later asks for the images that have not been used
// recently and are therefore safe to remove.
//
// Records survive daemon restarts, so an image pulled weeks ago is still
// collectable even if the daemon restarted in between.
package imageprune

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/edged/internal/telemetry"
)

// Candidate is an image the store considers removable.
type Candidate struct {
	Ref      string
	LastUsed time.Time
}

// Store is a BadgerDB-backed image usage store.
type Store struct {
	db *badgerdb.DB
}

// Open opens (or creates) the store rooted at path.
func Open(path string) (*Store, error) {
	opts := badgerdb.DefaultOptions(path)
	// Badger's own logger bypasses the daemon's logging configuration.
	opts = opts.WithLogger(nil)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening image prune store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// RecordUse upserts the usage record for ref. The first-seen timestamp of
// an existing record is preserved; only last-used moves forward.
func (s *Store) RecordUse(ctx context.Context, ref string, when time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanStoreRecord)
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.Image(ref))

	return s.db.Update(func(txn *badgerdb.Txn) error {
		rec := &usageRecord{Ref: ref, FirstSeen: when, LastUsed: when}

		item, err := txn.Get(keyImage(ref))
		if err == nil {
			getErr := item.Value(func(val []byte) error {
				existing, decErr := decodeRecord(val)
				if decErr != nil {
					// Corrupted record: overwrite with the fresh one.
					return nil
				}
				rec.FirstSeen = existing.FirstSeen
				if existing.LastUsed.After(when) {
					rec.LastUsed = existing.LastUsed
				}
				return nil
			})
			if getErr != nil {
				return getErr
			}
		} else if err != badgerdb.ErrKeyNotFound {
			return err
		}

		data, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(keyImage(ref), data); err != nil {
			return fmt.Errorf("failed to store usage record: %w", err)
		}
		return nil
	})
}

// Candidates returns the images whose last recorded use is before
// olderThan, oldest first.
func (s *Store) Candidates(ctx context.Context, olderThan time.Time) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanStoreCandidates)
	defer span.End()

	var candidates []Candidate
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixImage)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			err := it.Item().Value(func(val []byte) error {
				rec, decErr := decodeRecord(val)
				if decErr != nil {
					return nil // skip corrupted entries
				}
				if rec.LastUsed.Before(olderThan) {
					candidates = append(candidates, Candidate{Ref: rec.Ref, LastUsed: rec.LastUsed})
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan prune candidates: %w", err)
	}

	telemetry.SetAttributes(ctx, telemetry.GCCandidates(len(candidates)))
	return candidates, nil
}

// Forget removes the usage record for ref. Forgetting an unknown image
// is not an error.
func (s *Store) Forget(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		err := txn.Delete(keyImage(ref))
		if err != nil && err != badgerdb.ErrKeyNotFound {
			return fmt.Errorf("failed to delete usage record: %w", err)
		}
		return nil
	})
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
