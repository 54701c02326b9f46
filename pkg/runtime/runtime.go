// Package runtime assembles the device, the slot table, the transport and
// (in process) the worker from a Config, and runs them under one lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittoblk/internal/logger"
	"github.com/marmos91/dittoblk/pkg/blockdev"
	"github.com/marmos91/dittoblk/pkg/config"
	"github.com/marmos91/dittoblk/pkg/metrics/prometheus"
	"github.com/marmos91/dittoblk/pkg/queue"
	"github.com/marmos91/dittoblk/pkg/staging"
	"github.com/marmos91/dittoblk/pkg/stripe"
	"github.com/marmos91/dittoblk/pkg/transport"
	"github.com/marmos91/dittoblk/pkg/volume"
	"github.com/marmos91/dittoblk/pkg/worker"
)

// AuxiliaryServer is a server run alongside the device, such as the admin API.
type AuxiliaryServer interface {
	// Start serves until ctx is cancelled.
	Start(ctx context.Context) error
	// Stop initiates graceful shutdown.
	Stop(ctx context.Context) error
	Port() int
}

// Runtime owns every component of a running device.
//
// In inprocess mode the worker runs as a goroutine over the configured
// volumes. In socket mode the runtime serves the channel on a unix socket
// and a separate `dittoblk worker` process executes the records.
type Runtime struct {
	cfg *config.Config

	table   *queue.Table
	device  *blockdev.Device
	region  *staging.Region
	channel *transport.Channel

	volumes []volume.Volume
	worker  *worker.Worker

	aux []AuxiliaryServer

	closeOnce sync.Once
}

// New builds the runtime for cfg. Metrics collectors are attached when the
// metrics registry is initialized.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	table, err := queue.New(cfg.Device.QueueDepth)
	if err != nil {
		return nil, err
	}
	if err := prometheus.RegisterQueue(table.Stats); err != nil {
		return nil, fmt.Errorf("register queue metrics: %w", err)
	}

	device, err := blockdev.New(blockdev.Config{
		Name:        cfg.Device.Name,
		Capacity:    cfg.Device.Capacity.Int64(),
		MaxTransfer: int(cfg.Device.MaxTransfer),
		WriteZeroes: cfg.Device.WriteZeroes,
		Metrics:     prometheus.NewDeviceMetrics(),
	}, table)
	if err != nil {
		table.Close()
		return nil, err
	}

	rt := &Runtime{cfg: cfg, table: table, device: device}

	switch cfg.Transport.Mode {
	case config.TransportSocket:
		rt.region, err = staging.Open(cfg.Transport.Staging, int(cfg.Device.MaxTransfer))
	default:
		rt.region, err = staging.New(int(cfg.Device.MaxTransfer))
	}
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.channel = transport.New(table, rt.region.Bytes())

	if cfg.Transport.Mode != config.TransportSocket {
		rt.volumes, rt.worker, err = NewWorker(ctx, cfg, rt.channel, rt.region.Bytes())
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	logger.Info("runtime initialized",
		logger.KeyDevice, device.Name(),
		logger.KeyCapacity, device.Capacity(),
		logger.KeyQueueDepth, table.Depth(),
		logger.KeyTransport, cfg.Transport.Mode,
	)
	return rt, nil
}

// NewWorker opens cfg's volumes and builds a worker pulling from ep. The
// caller owns the returned volumes.
func NewWorker(ctx context.Context, cfg *config.Config, ep transport.Endpoint, stagingRegion []byte) ([]volume.Volume, *worker.Worker, error) {
	layout, err := stripe.New(cfg.Worker.StripeSize.Int64(), len(cfg.Worker.Volumes))
	if err != nil {
		return nil, nil, err
	}

	vols, err := volume.OpenAll(ctx, cfg.Worker.VolumeSpecs())
	if err != nil {
		return nil, nil, err
	}
	for i, v := range vols {
		logger.Info("volume opened", logger.Volume(i), logger.KeyVolumePath, v.String())
	}

	w, err := worker.New(ep, vols, layout, stagingRegion,
		worker.WithMetrics(prometheus.NewWorkerMetrics()),
		worker.WithCoalesce(cfg.Worker.Coalesce),
	)
	if err != nil {
		_ = volume.CloseAll(vols)
		return nil, nil, err
	}
	logger.Info("stripe layout", "layout", layout.String())
	return vols, w, nil
}

// Device returns the block device.
func (r *Runtime) Device() *blockdev.Device { return r.device }

// Volumes returns the in-process volumes; empty in socket mode.
func (r *Runtime) Volumes() []volume.Volume { return r.volumes }

// Channel returns the transport channel.
func (r *Runtime) Channel() *transport.Channel { return r.channel }

// AddAuxiliaryServer registers a server started and stopped with Serve.
func (r *Runtime) AddAuxiliaryServer(s AuxiliaryServer) {
	r.aux = append(r.aux, s)
}

// Serve runs the worker (or the socket server) and every auxiliary server
// until ctx is cancelled or one of them fails. Shutdown first waits up to
// ShutdownTimeout for queued and checked-out requests, then stops the
// executor and closes the slot table so new dispatches fail with
// queue.ErrClosed.
func (r *Runtime) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// The executor outlives gctx so it can finish the drain.
	execCtx, stopExec := context.WithCancel(context.Background())
	defer stopExec()
	execDone := make(chan struct{})

	switch {
	case r.worker != nil:
		g.Go(func() error {
			defer close(execDone)
			return r.worker.Run(execCtx)
		})
	case r.cfg.Transport.Mode == config.TransportSocket:
		ln, err := listenUnix(r.cfg.Transport.Socket)
		if err != nil {
			return err
		}
		logger.Info("waiting for worker", logger.KeySocket, r.cfg.Transport.Socket)
		g.Go(func() error {
			defer close(execDone)
			return transport.Serve(execCtx, ln, r.channel)
		})
	default:
		close(execDone)
	}

	for _, s := range r.aux {
		g.Go(func() error { return s.Start(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		r.drain(execDone)
		stopExec()
		r.table.Close()
		return r.channel.Close()
	})

	return g.Wait()
}

// drain waits up to the shutdown timeout for in-flight requests, or until
// the executor exits.
func (r *Runtime) drain(execDone <-chan struct{}) {
	timeout := r.cfg.ShutdownTimeout
	if timeout <= 0 {
		return
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		stats := r.table.Stats()
		if stats.Queued+stats.CheckedOut == 0 {
			return
		}
		select {
		case <-execDone:
			return
		case <-deadline:
			logger.Warn("shutdown timeout with requests in flight",
				logger.KeyQueued, stats.Queued,
				logger.KeyCheckedOut, stats.CheckedOut,
			)
			return
		case <-ticker.C:
		}
	}
}

// Close releases the volumes, the staging region and the slot table.
func (r *Runtime) Close() error {
	var errs []error
	r.closeOnce.Do(func() {
		r.table.Close()
		if r.channel != nil {
			_ = r.channel.Close()
		}
		if len(r.volumes) > 0 {
			errs = append(errs, volume.CloseAll(r.volumes))
		}
		if r.region != nil {
			errs = append(errs, r.region.Close())
		}
	})
	return errors.Join(errs...)
}

func listenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	return ln, nil
}
