// Package daemon implements the shredtap process lifecycle.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/shredtap/internal/config"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/internal/metrics"
	"firestige.xyz/shredtap/internal/pipeline"
)

const shutdownTimeout = 5 * time.Second

// Daemon manages the shredtap process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	pidFile    string

	// Core components
	pipeline      *pipeline.Pipeline
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	done         chan struct{} // closed when the pipeline returns
	runErr       error
	stopOnce     sync.Once
}

// New loads configuration from configPath and creates a Daemon. An empty
// configPath uses built-in defaults plus SHREDTAP_ environment overrides.
func New(configPath, pidFile string) (*Daemon, error) {
	var (
		cfg *config.GlobalConfig
		err error
	)
	if configPath == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(cfg, configPath, pidFile), nil
}

// NewWithConfig creates a Daemon from an already loaded configuration.
func NewWithConfig(cfg *config.GlobalConfig, configPath, pidFile string) *Daemon {
	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start initializes logging and metrics, builds the pipeline and starts it in
// the background. Every error returned here is fatal and leaves nothing
// running.
func (d *Daemon) Start() error {
	if err := log.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := log.GetLogger()
	logger.WithFields(map[string]interface{}{
		"node":     d.config.Node.ID,
		"hostname": d.config.Node.Hostname,
		"config":   d.configPath,
	}).Info("starting shredtap")

	if err := d.writePIDFile(); err != nil {
		return err
	}

	if err := d.startMetrics(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	p, err := pipeline.Build(d.ctx, d.config)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	d.pipeline = p

	go func() {
		d.runErr = p.Run(d.ctx)
		close(d.done)
	}()

	logger.WithField("bind", addrString(p.LocalAddr())).Info("shredtap started")
	return nil
}

// Run blocks until shutdown is triggered by SIGINT/SIGTERM, TriggerShutdown
// or the pipeline ending on its own, then stops the daemon. SIGHUP reloads
// configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	logger := log.GetLogger()

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				logger.WithField("signal", sig.String()).Info("received shutdown signal")
				return d.Stop()
			case syscall.SIGHUP:
				if err := d.Reload(); err != nil {
					logger.WithError(err).Error("failed to reload config")
				}
			}

		case <-d.shutdownChan:
			logger.Info("shutdown requested")
			return d.Stop()

		case <-d.done:
			if d.runErr != nil {
				logger.WithError(d.runErr).Error("pipeline exited")
			}
			return d.Stop()
		}
	}
}

// Stop cancels the pipeline, waits for it to drain and releases the metrics
// server and PID file. It returns the pipeline's error, if any. Safe to call
// more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		log.GetLogger().Info("initiating graceful shutdown")
		d.cancel()
		if d.pipeline != nil {
			<-d.done
		}
		if d.sigChan != nil {
			signal.Stop(d.sigChan)
		}
		d.cleanup()
		log.GetLogger().Info("shredtap stopped")
	})
	return d.runErr
}

// TriggerShutdown requests a graceful shutdown of Run.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Reload re-reads the config file. Only the log level is applied in place;
// other changed sections are reported as requiring a restart.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return fmt.Errorf("no config file to reload")
	}
	logger := log.GetLogger()
	logger.WithField("path", d.configPath).Info("reloading configuration")

	next, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	if next.Log.Level != d.config.Log.Level {
		if err := log.SetLevel(next.Log.Level); err != nil {
			return err
		}
		d.config.Log.Level = next.Log.Level
		hotReloaded = append(hotReloaded, "log.level")
	}

	logger.WithFields(map[string]interface{}{
		"hot_reloaded":     hotReloaded,
		"requires_restart": restartRequired(d.config, next),
	}).Info("configuration reloaded")
	return nil
}

// restartRequired lists the sections that differ between cur and next and
// cannot change while running.
func restartRequired(cur, next *config.GlobalConfig) []string {
	var out []string
	if cur.Log.Format != next.Log.Format || cur.Log.Pattern != next.Log.Pattern || cur.Log.File != next.Log.File {
		out = append(out, "log")
	}
	if cur.Receiver != next.Receiver {
		out = append(out, "receiver")
	}
	if cur.Discovery != next.Discovery {
		out = append(out, "discovery")
	}
	if !reflect.DeepEqual(cur.Plugins, next.Plugins) {
		out = append(out, "plugins")
	}
	if cur.Metrics != next.Metrics {
		out = append(out, "metrics")
	}
	return out
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		return nil
	}
	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start(d.ctx)
}

func (d *Daemon) cleanup() {
	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.metricsServer.Stop(ctx); err != nil {
			log.GetLogger().WithError(err).Error("error stopping metrics server")
		}
		d.metricsServer = nil
	}
	if err := d.removePIDFile(); err != nil {
		log.GetLogger().WithError(err).Error("error removing PID file")
	}
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
