// Package nats implements the NATS output plugin.
package nats

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/pkg/codec"
	"firestige.xyz/shredtap/pkg/plugin"
)

const (
	TypeName = "nats"

	defaultSubject       = "shredtap.shreds"
	defaultTimeout       = 5 * time.Second
	defaultMaxReconnects = -1
	defaultReconnectWait = 2 * time.Second
)

// Config represents NATS output configuration.
type Config struct {
	URL           string        `mapstructure:"url"`     // default nats.DefaultURL
	Subject       string        `mapstructure:"subject"` // prefix, "<subject>.<type>" per shred kind
	Format        string        `mapstructure:"format"`  // json|cbor, default json
	Node          string        `mapstructure:"node"`
	Payload       bool          `mapstructure:"payload"`
	Raw           bool          `mapstructure:"raw"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Token         string        `mapstructure:"token"`
}

type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Output publishes shred envelopes to NATS subjects.
type Output struct {
	name   string
	config Config
	codec  codec.Codec
	logger log.Logger

	conn    publisher
	connect func(c Config, name string) (publisher, error)

	published atomic.Uint64
	failed    atomic.Uint64
}

// New creates a NATS output.
func New() plugin.Output {
	return &Output{name: TypeName, connect: dial}
}

func (o *Output) Name() string        { return o.name }
func (o *Output) SetName(name string) { o.name = name }

// Init parses configuration. The connection is opened in Start.
func (o *Output) Init(cfg map[string]any) error {
	c := Config{
		URL:           nats.DefaultURL,
		Subject:       defaultSubject,
		Format:        codec.FormatJSON,
		Timeout:       defaultTimeout,
		MaxReconnects: defaultMaxReconnects,
		ReconnectWait: defaultReconnectWait,
	}
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	if c.Subject == "" {
		return fmt.Errorf("subject must not be empty")
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

// Start connects to the server. An unreachable server fails the start.
func (o *Output) Start(ctx context.Context) error {
	conn, err := o.connect(o.config, o.name)
	if err != nil {
		return fmt.Errorf("connect to nats %s: %w", o.config.URL, err)
	}
	o.conn = conn
	o.logger.WithFields(map[string]interface{}{
		"url":     o.config.URL,
		"subject": o.config.Subject,
	}).Info("nats output started")
	return nil
}

// Stop drains pending publishes and closes the connection.
func (o *Output) Stop(ctx context.Context) error {
	if o.conn == nil {
		return nil
	}
	err := o.conn.Drain()
	o.conn = nil
	o.logger.WithFields(map[string]interface{}{
		"total_published": o.published.Load(),
		"total_failed":    o.failed.Load(),
	}).Info("nats output stopped")
	return err
}

// Handle publishes one shred envelope.
func (o *Output) Handle(ctx context.Context, shred *core.DecodedShred) error {
	if o.conn == nil {
		return fmt.Errorf("nats output %s not started", o.name)
	}
	data, err := o.codec.Marshal(codec.NewRecord(shred, codec.Options{
		Node:           o.config.Node,
		IncludePayload: o.config.Payload,
		IncludeRaw:     o.config.Raw,
	}))
	if err != nil {
		o.failed.Add(1)
		return fmt.Errorf("serialize shred failed: %w", err)
	}
	if err := o.conn.Publish(o.subject(shred), data); err != nil {
		o.failed.Add(1)
		return fmt.Errorf("nats publish failed: %w", err)
	}
	o.published.Add(1)
	return nil
}

func (o *Output) subject(shred *core.DecodedShred) string {
	return o.config.Subject + "." + shred.Type().String()
}

func dial(c Config, name string) (publisher, error) {
	opts := []nats.Option{
		nats.Name("shredtap-" + name),
		nats.Timeout(c.Timeout),
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
	}
	if c.Token != "" {
		opts = append(opts, nats.Token(c.Token))
	}
	nc, err := nats.Connect(c.URL, opts...)
	if err != nil {
		return nil, err
	}
	return nc, nil
}
