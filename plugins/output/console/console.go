// Package console implements the console debug output.
// Prints one line per shred to stdout or the process logger.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/pkg/codec"
	"firestige.xyz/shredtap/pkg/plugin"
)

const TypeName = "console"

// Config represents console output configuration.
type Config struct {
	Format  string `mapstructure:"format"`  // "text" or "json", default "text"
	Target  string `mapstructure:"target"`  // "stdout" or "log", default "stdout"
	Payload bool   `mapstructure:"payload"` // include payload bytes in json lines
}

// Output prints shreds for debugging.
type Output struct {
	name   string
	config Config
	out    io.Writer
	codec  codec.Codec
	logger log.Logger

	handled atomic.Uint64
}

// New creates a console output.
func New() plugin.Output {
	return &Output{name: TypeName, out: os.Stdout}
}

func (o *Output) Name() string        { return o.name }
func (o *Output) SetName(name string) { o.name = name }

// Init parses configuration.
func (o *Output) Init(cfg map[string]any) error {
	c := Config{Format: "text", Target: "stdout"}
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	switch c.Format {
	case "text":
	case codec.FormatJSON:
		o.codec, _ = codec.New(codec.FormatJSON)
	default:
		return fmt.Errorf("invalid format %q, must be json or text", c.Format)
	}
	if c.Target != "stdout" && c.Target != "log" {
		return fmt.Errorf("invalid target %q, must be stdout or log", c.Target)
	}
	o.config = c
	o.logger = log.GetLogger().WithField(core.FieldPlugin, o.name)
	return nil
}

// Start starts the output.
func (o *Output) Start(ctx context.Context) error {
	o.logger.WithField("format", o.config.Format).Info("console output started")
	return nil
}

// Stop stops the output.
func (o *Output) Stop(ctx context.Context) error {
	o.logger.WithField("total_handled", o.handled.Load()).Info("console output stopped")
	return nil
}

// Handle prints one line for shred.
func (o *Output) Handle(ctx context.Context, shred *core.DecodedShred) error {
	n := o.handled.Add(1)

	var line string
	if o.codec != nil {
		data, err := o.codec.Marshal(codec.NewRecord(shred, codec.Options{IncludePayload: o.config.Payload}))
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		line = string(data)
	} else {
		line = fmt.Sprintf("SHRED #%d: Slot:%d Index:%d Type:%s Variant:%s FEC:%d Size:%d from %s",
			n, shred.Slot(), shred.Index(), shred.Type(), shred.Common.Variant,
			shred.Common.FECSetIndex, len(shred.Raw), shred.Source)
	}

	if o.config.Target == "log" {
		o.logger.Info(line)
		return nil
	}
	_, err := fmt.Fprintln(o.out, line)
	return err
}
