// Package store implements an output that archives shreds in a local
// BadgerDB, keyed by slot, index and type.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/pkg/codec"
	"firestige.xyz/shredtap/pkg/plugin"
)

const TypeName = "store"

// Config represents store output configuration.
type Config struct {
	Dir        string        `mapstructure:"dir"` // required
	TTL        time.Duration `mapstructure:"ttl"` // 0 keeps shreds forever
	SyncWrites bool          `mapstructure:"sync_writes"`
	Format     string        `mapstructure:"format"` // json|cbor, default cbor
	Node       string        `mapstructure:"node"`
}

// Output writes each shred once; retransmitted copies are skipped.
type Output struct {
	name   string
	config Config
	codec  codec.Codec
	db     *badger.DB
	logger log.Logger

	stored     atomic.Uint64
	duplicates atomic.Uint64
}

// New creates a store output.
func New() plugin.Output {
	return &Output{name: TypeName}
}

func (o *Output) Name() string        { return o.name }
func (o *Output) SetName(name string) { o.name = name }

// Init parses configuration. The database is opened in Start.
func (o *Output) Init(cfg map[string]any) error {
	c := Config{Format: codec.FormatCBOR}
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	if c.Dir == "" {
		return fmt.Errorf("dir is required")
	}
	if c.TTL < 0 {
		return fmt.Errorf("ttl must not be negative")
	}
	cd, err := codec.New(c.Format)
	if err != nil {
		return err
	}
	o.config = c
	o.codec = cd
	o.logger = log.GetLogger().WithField(core.FieldPlugin, o.name)
	return nil
}

// Start opens the database, creating the directory if needed.
func (o *Output) Start(ctx context.Context) error {
	if err := os.MkdirAll(o.config.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	opts := badger.DefaultOptions(o.config.Dir).
		WithLogger(badgerLogger{o.logger}).
		WithSyncWrites(o.config.SyncWrites).
		WithNumVersionsToKeep(1)
	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open store %s: %w", o.config.Dir, err)
	}
	o.db = db
	o.logger.WithField("dir", o.config.Dir).Info("store output started")
	return nil
}

// Stop closes the database.
func (o *Output) Stop(ctx context.Context) error {
	if o.db == nil {
		return nil
	}
	err := o.db.Close()
	o.db = nil
	o.logger.WithFields(map[string]interface{}{
		"total_stored":     o.stored.Load(),
		"total_duplicates": o.duplicates.Load(),
	}).Info("store output stopped")
	return err
}

// Handle stores the shred unless one with the same key is already present.
func (o *Output) Handle(ctx context.Context, shred *core.DecodedShred) error {
	if o.db == nil {
		return fmt.Errorf("store output %s not started", o.name)
	}
	rec := codec.NewRecord(shred, codec.Options{Node: o.config.Node, IncludeRaw: true})
	value, err := o.codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serialize shred failed: %w", err)
	}
	key := []byte(rec.Key())

	dup := false
	err = o.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			dup = true
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		e := badger.NewEntry(key, value)
		if o.config.TTL > 0 {
			e = e.WithTTL(o.config.TTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("store write failed: %w", err)
	}
	if dup {
		o.duplicates.Add(1)
	} else {
		o.stored.Add(1)
	}
	return nil
}
