// Package kafka implements the Kafka output plugin.
// Sends shred envelopes to Kafka with batching, compression and retry support.
// Writes are asynchronous by default: Handle only enqueues, and delivery
// results are counted when each batch completes.
package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/pkg/codec"
	"firestige.xyz/shredtap/pkg/plugin"
)

const (
	TypeName = "kafka"

	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
	defaultDialTimeout  = 5 * time.Second
)

// Config represents Kafka output configuration.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression"`   // none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
	Format       string        `mapstructure:"format"`        // json|cbor, default json
	Node         string        `mapstructure:"node"`          // stamped on every record
	Payload      bool          `mapstructure:"payload"`
	Raw          bool          `mapstructure:"raw"`
	Async        bool          `mapstructure:"async"`          // default true; false waits for the broker ack per shred
	CheckOnStart bool          `mapstructure:"check_on_start"` // dial the first broker in Start
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Output sends shreds to Kafka, keyed by slot so every shred of a slot lands
// on one partition.
type Output struct {
	name   string
	config Config
	writer messageWriter
	codec  codec.Codec
	logger log.Logger

	transport kafka.RoundTripper // nil = kafka.DefaultTransport
	errLimit  *rate.Limiter

	// Statistics
	sentCount  atomic.Uint64
	errorCount atomic.Uint64
}

// New creates a Kafka output.
func New() plugin.Output {
	return &Output{name: TypeName}
}

func (o *Output) Name() string        { return o.name }
func (o *Output) SetName(name string) { o.name = name }

// Init parses configuration and creates the writer.
func (o *Output) Init(cfg map[string]any) error {
	if cfg == nil {
		return fmt.Errorf("kafka output requires configuration")
	}
	c := Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
		Format:       codec.FormatJSON,
		Async:        true,
	}
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}

	cd, err := codec.New(c.Format)
	if err != nil {
		return err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    c.BatchSize,
		BatchTimeout: c.BatchTimeout,
		MaxAttempts:  c.MaxAttempts,
		RequiredAcks: kafka.RequireOne,
		Transport:    o.transport,
	}
	if c.Async {
		w.Async = true
		w.Completion = o.complete
	} else {
		// A synchronous write returns only once its batch is flushed.
		w.BatchSize = 1
	}
	switch c.Compression {
	case "none", "":
	case "gzip":
		w.Compression = kafka.Gzip
	case "snappy":
		w.Compression = kafka.Snappy
	case "lz4":
		w.Compression = kafka.Lz4
	case "zstd":
		w.Compression = kafka.Zstd
	default:
		return fmt.Errorf("invalid compression type: %s", c.Compression)
	}

	o.config = c
	o.codec = cd
	o.writer = w
	o.logger = log.GetLogger().WithField(core.FieldPlugin, o.name)
	o.errLimit = rate.NewLimiter(rate.Every(time.Second), 5)
	return nil
}

// Start optionally verifies a broker is reachable.
func (o *Output) Start(ctx context.Context) error {
	if o.config.CheckOnStart {
		dctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
		conn, err := kafka.DialContext(dctx, "tcp", o.config.Brokers[0])
		if err != nil {
			return fmt.Errorf("kafka broker %s unreachable: %w", o.config.Brokers[0], err)
		}
		_ = conn.Close()
	}
	o.logger.WithFields(map[string]interface{}{
		"brokers":     o.config.Brokers,
		"topic":       o.config.Topic,
		"format":      o.config.Format,
		"compression": o.config.Compression,
	}).Info("kafka output started")
	return nil
}

// Stop flushes pending messages and closes the writer. With async writes,
// Close returns after the last completion has been counted.
func (o *Output) Stop(ctx context.Context) error {
	if o.writer != nil {
		if err := o.writer.Close(); err != nil {
			return fmt.Errorf("close kafka writer: %w", err)
		}
	}
	o.logger.WithFields(map[string]interface{}{
		"total_sent":   o.sentCount.Load(),
		"total_errors": o.errorCount.Load(),
	}).Info("kafka output stopped")
	return nil
}

// Handle sends one shred envelope.
func (o *Output) Handle(ctx context.Context, shred *core.DecodedShred) error {
	rec := codec.NewRecord(shred, codec.Options{
		Node:           o.config.Node,
		IncludePayload: o.config.Payload,
		IncludeRaw:     o.config.Raw,
	})
	value, err := o.codec.Marshal(rec)
	if err != nil {
		o.errorCount.Add(1)
		return fmt.Errorf("serialize shred failed: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(rec.Slot, 10)),
		Value: value,
		Time:  shred.ReceivedAt,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(o.codec.ContentType())},
			{Key: core.FieldType, Value: []byte(rec.Type)},
		},
	}
	if err := o.writer.WriteMessages(ctx, msg); err != nil {
		o.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	if !o.config.Async {
		o.sentCount.Add(1)
	}
	return nil
}

// complete is the writer's completion callback for async batches.
func (o *Output) complete(msgs []kafka.Message, err error) {
	if err == nil {
		o.sentCount.Add(uint64(len(msgs)))
		return
	}
	o.errorCount.Add(uint64(len(msgs)))
	if o.errLimit.Allow() {
		o.logger.WithError(err).WithField("messages", len(msgs)).Warn("kafka batch write failed")
	}
}
