package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/shredtap/internal/core/decoder"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/internal/plugin"
	"firestige.xyz/shredtap/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay <file.pcap>",
	Short: "Feed shreds from a pcap capture through the output plugins",
	Long: `Replay UDP payloads from a pcap file through the same decoder and output
plugins as the live receiver. Outputs and the expected shred version come
from --config.

Examples:
  shredtap replay capture.pcap --port 8001
  shredtap replay capture.pcap -c config.yml --limit 1000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runReplay(ctx, cmd.OutOrStdout(), replayOptions{
			configPath: configFile,
			pcapPath:   args[0],
			port:       replayPort,
			limit:      replayLimit,
		})
	},
}

var (
	replayPort  uint16
	replayLimit int
)

func init() {
	replayCmd.Flags().Uint16Var(&replayPort, "port", 0, "only replay datagrams sent to this UDP port (0: any)")
	replayCmd.Flags().IntVar(&replayLimit, "limit", 0, "stop after this many shreds (0: no limit)")
}

type replayOptions struct {
	configPath string
	pcapPath   string
	port       uint16
	limit      int
}

func runReplay(ctx context.Context, w io.Writer, opts replayOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := log.Init(cfg.Log); err != nil {
		return err
	}

	src, err := replay.Open(opts.pcapPath, opts.port)
	if err != nil {
		return err
	}
	defer src.Close()

	runner, err := plugin.Load(cfg.Plugins)
	if err != nil {
		return err
	}
	if err := runner.StartAll(ctx); err != nil {
		return fmt.Errorf("start outputs: %w", err)
	}

	start := time.Now()
	dec := decoder.NewShredDecoder(decoder.Config{ExpectedShredVersion: cfg.Receiver.ExpectedShredVersion})
	res, runErr := replay.Run(ctx, src, dec, runner, opts.limit)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopErr := runner.StopAll(stopCtx)

	fmt.Fprintf(w, "Replayed %s in %s: %d datagrams, %d shreds, %d rejected, %d skipped frames, %d dispatch errors\n",
		opts.pcapPath, time.Since(start).Round(time.Millisecond),
		res.Datagrams, res.Shreds, res.Rejected, res.Skipped, res.DispatchErrors)

	if runErr != nil {
		return runErr
	}
	return stopErr
}
