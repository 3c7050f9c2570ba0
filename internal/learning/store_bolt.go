package learning

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"
)

var bucketNotes = []byte("notes")

// BoltStore keeps notes in a bbolt bucket keyed by the bucket sequence, so a
// cursor walk yields insertion order.
type BoltStore struct {
	db *bbolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNotes)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(ctx context.Context) ([]Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	notes := []Note{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketNotes).ForEach(func(k, v []byte) error {
			var n Note
			if err := json.Unmarshal(v, &n); err != nil {
				return fmt.Errorf("%w: key %d: %v", ErrCorruptStore, binary.BigEndian.Uint64(k), err)
			}
			notes = append(notes, normalize(n))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func (s *BoltStore) Append(ctx context.Context, note Note) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(normalize(note))
	if err != nil {
		return fmt.Errorf("failed to marshal note: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNotes)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, value)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
