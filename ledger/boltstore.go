package ledger

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketOutputs   = []byte("outputs")
	bucketAddresses = []byte("outputs_by_address")
)

// BoltStore persists outputs in a bbolt database. Every mutation runs in a
// single bbolt read-write transaction, which bbolt serializes, so a status
// check and the write that follows it cannot interleave with another caller.
type BoltStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("ledger: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketOutputs, bucketAddresses} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("boltstore: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// addressKey builds the index key: address, a zero byte, then the outpoint key.
func addressKey(address string, key Outpoint) []byte {
	k := make([]byte, 0, len(address)+1+TxIDHexLen+11)
	k = append(k, address...)
	k = append(k, 0)
	return append(k, key.key()...)
}

func encodeOutput(u *UnspentOutput) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(u); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeOutput(data []byte) (*UnspentOutput, error) {
	var u UnspentOutput
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// put writes u and its address index entry.
func putOutput(tx *bbolt.Tx, u *UnspentOutput) error {
	data, err := encodeOutput(u)
	if err != nil {
		return fmt.Errorf("boltstore: encode output: %w", err)
	}
	if err := tx.Bucket(bucketOutputs).Put(u.key(), data); err != nil {
		return fmt.Errorf("boltstore: put output: %w", err)
	}
	if err := tx.Bucket(bucketAddresses).Put(addressKey(u.OwnerAddress, u.Outpoint), []byte{}); err != nil {
		return fmt.Errorf("boltstore: put address index: %w", err)
	}
	return nil
}

func getOutput(tx *bbolt.Tx, key Outpoint) (*UnspentOutput, error) {
	data := tx.Bucket(bucketOutputs).Get(key.key())
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	u, err := decodeOutput(data)
	if err != nil {
		return nil, fmt.Errorf("boltstore: decode output %s: %w", key, err)
	}
	return u, nil
}

// Insert stores out unless its outpoint already exists.
func (s *BoltStore) Insert(ctx context.Context, out *UnspentOutput) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	inserted := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketOutputs).Get(out.key()) != nil {
			return nil
		}
		inserted = true
		return putOutput(tx, out)
	})
	return inserted, err
}

// Add stores out, failing with ErrAlreadyExists if the outpoint exists.
func (s *BoltStore) Add(ctx context.Context, out *UnspentOutput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketOutputs).Get(out.key()) != nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, out.Outpoint)
		}
		return putOutput(tx, out)
	})
}

// Get returns a copy of the output stored under key.
func (s *BoltStore) Get(ctx context.Context, key Outpoint) (*UnspentOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *UnspentOutput
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		out, err = getOutput(tx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns all outputs matching f. With an address filter only that
// address's index range is scanned.
func (s *BoltStore) List(ctx context.Context, f Filter) ([]*UnspentOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var outs []*UnspentOutput
	err := s.db.View(func(tx *bbolt.Tx) error {
		outputs := tx.Bucket(bucketOutputs)
		collect := func(data []byte) error {
			u, err := decodeOutput(data)
			if err != nil {
				return fmt.Errorf("boltstore: decode output in list: %w", err)
			}
			if f.match(u) {
				outs = append(outs, u)
			}
			return nil
		}

		if f.Address == "" {
			return outputs.ForEach(func(_, v []byte) error { return collect(v) })
		}

		prefix := append([]byte(f.Address), 0)
		c := tx.Bucket(bucketAddresses).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			data := outputs.Get(k[len(prefix):])
			if data == nil {
				continue // stale index entry
			}
			if err := collect(data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: list outputs: %w", err)
	}
	sortOutputs(outs, f.Order)
	return applyLimit(outs, f.Limit), nil
}

// Transition is the compare-and-set primitive.
func (s *BoltStore) Transition(ctx context.Context, key Outpoint, from []Status, to Status, fn Mutation) (*UnspentOutput, *UnspentOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	var before, after *UnspentOutput
	err := s.db.Update(func(tx *bbolt.Tx) error {
		u, err := getOutput(tx, key)
		if err != nil {
			return err
		}
		before = u.Clone()
		if !slices.Contains(from, u.Status) {
			return transitionError(key, u.Status, to)
		}
		u.Status = to
		if fn != nil {
			fn(u)
		}
		after = u
		return putOutput(tx, u)
	})
	if err != nil {
		return before, nil, err
	}
	return before, after.Clone(), nil
}

// Commit applies the reconciliation step in one bbolt transaction.
func (s *BoltStore) Commit(ctx context.Context, spent []Outpoint, spendingTxID string, at time.Time, added []*UnspentOutput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mark := spendMutation(spendingTxID, at)
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, key := range spent {
			u, err := getOutput(tx, key)
			if err != nil {
				return err
			}
			if u.Status != StatusReserved && u.Status != StatusAvailable {
				return transitionError(key, u.Status, StatusSpent)
			}
			u.Status = StatusSpent
			mark(u)
			if err := putOutput(tx, u); err != nil {
				return err
			}
		}
		for _, out := range added {
			if tx.Bucket(bucketOutputs).Get(out.key()) != nil {
				return fmt.Errorf("%w: %s", ErrAlreadyExists, out.Outpoint)
			}
			if err := putOutput(tx, out); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteConfirmedSpent removes aged ConfirmedSpent outputs and their index entries.
func (s *BoltStore) DeleteConfirmedSpent(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		outputs := tx.Bucket(bucketOutputs)
		index := tx.Bucket(bucketAddresses)

		var victims []*UnspentOutput
		err := outputs.ForEach(func(_, v []byte) error {
			u, err := decodeOutput(v)
			if err != nil {
				return fmt.Errorf("boltstore: decode output in cleanup: %w", err)
			}
			if u.Status == StatusConfirmedSpent && u.SpentAt != nil && u.SpentAt.Before(before) {
				victims = append(victims, u)
			}
			return nil
		})
		if err != nil {
			return err
		}

		// Deleting while iterating a bbolt cursor skips keys, so delete afterwards.
		for _, u := range victims {
			if err := outputs.Delete(u.key()); err != nil {
				return fmt.Errorf("boltstore: delete output: %w", err)
			}
			if err := index.Delete(addressKey(u.OwnerAddress, u.Outpoint)); err != nil {
				return fmt.Errorf("boltstore: delete address index entry: %w", err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
