package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"firestige.xyz/shredtap/pkg/codec"
)

// ErrNotFound is returned by Get for a shred that was never stored.
var ErrNotFound = errors.New("shred not found")

// Reader reads an archive written by the store output.
type Reader struct {
	db    *badger.DB
	codec codec.Codec
}

// OpenReader opens dir read-only. format must match the writer's.
func OpenReader(dir, format string) (*Reader, error) {
	cd, err := codec.New(format)
	if err != nil {
		return nil, err
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithReadOnly(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", dir, err)
	}
	return &Reader{db: db, codec: cd}, nil
}

// Get returns the record of one shred.
func (r *Reader) Get(slot uint64, index uint32, typ string) (codec.Record, error) {
	var rec codec.Record
	key := []byte(codec.Record{Slot: slot, Index: index, Type: typ}.Key())
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return r.codec.Unmarshal(v, &rec) })
	})
	return rec, err
}

// Slot returns every stored shred of slot ordered by index.
func (r *Reader) Slot(slot uint64) ([]codec.Record, error) {
	prefix := []byte(fmt.Sprintf("%020d:", slot))
	var out []codec.Record
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec codec.Record
			if err := it.Item().Value(func(v []byte) error { return r.codec.Unmarshal(v, &rec) }); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Close closes the archive.
func (r *Reader) Close() error {
	return r.db.Close()
}
