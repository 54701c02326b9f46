package commands

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittoblk/internal/bytesize"
	"github.com/marmos91/dittoblk/internal/cli/output"
	"github.com/marmos91/dittoblk/internal/logger"
	"github.com/marmos91/dittoblk/pkg/blockdev"
	"github.com/marmos91/dittoblk/pkg/bufpool"
	"github.com/marmos91/dittoblk/pkg/config"
	"github.com/marmos91/dittoblk/pkg/runtime"
)

var (
	benchRequests    int
	benchSize        string
	benchConcurrency int
	benchSeed        uint64
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Write and verify random blocks through an in-process device",
	Long: `Run a write/read-back benchmark against the configured volumes.

The device is built in process regardless of transport.mode. Each request
writes random data at a distinct aligned offset; every block is then read
back and compared.

Examples:
  # 1000 requests of 64 KiB with 8 submitters
  dittoblk bench --requests 1000 --size 64Ki --concurrency 8`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntVarP(&benchRequests, "requests", "n", 1000, "Number of write requests")
	benchCmd.Flags().StringVar(&benchSize, "size", "64Ki", "Request size (multiple of 4096)")
	benchCmd.Flags().IntVarP(&benchConcurrency, "concurrency", "c", 8, "Concurrent submitters")
	benchCmd.Flags().Uint64Var(&benchSeed, "seed", 0, "Random seed (0 picks one)")
}

// benchResult summarizes one run.
type benchResult struct {
	Requests   int
	Size       bytesize.ByteSize
	WriteTime  time.Duration
	ReadTime   time.Duration
	Mismatches int64
}

func (r benchResult) pairs() [][2]string {
	total := bytesize.ByteSize(uint64(r.Requests) * r.Size.Uint64())
	return [][2]string{
		{"Requests", fmt.Sprintf("%d x %s", r.Requests, r.Size)},
		{"Written", total.String()},
		{"Write time", r.WriteTime.Round(time.Millisecond).String()},
		{"Write IOPS", fmt.Sprintf("%.0f", float64(r.Requests)/r.WriteTime.Seconds())},
		{"Write throughput", throughput(total, r.WriteTime)},
		{"Read time", r.ReadTime.Round(time.Millisecond).String()},
		{"Read IOPS", fmt.Sprintf("%.0f", float64(r.Requests)/r.ReadTime.Seconds())},
		{"Read throughput", throughput(total, r.ReadTime)},
		{"Mismatches", fmt.Sprintf("%d", r.Mismatches)},
	}
}

func throughput(total bytesize.ByteSize, d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return bytesize.ByteSize(float64(total)/d.Seconds()).String() + "/s"
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	size, err := bytesize.ParseByteSize(benchSize)
	if err != nil {
		return fmt.Errorf("invalid --size: %w", err)
	}
	if benchSeed == 0 {
		benchSeed = rand.Uint64()
	}

	cfg.Transport.Mode = config.TransportInProcess

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer func() { _ = rt.Close() }()

	serveCtx, cancelServe := context.WithCancel(ctx)
	serveDone := make(chan error, 1)
	go func() { serveDone <- rt.Serve(serveCtx) }()
	defer func() {
		cancelServe()
		<-serveDone
	}()

	res, err := bench(ctx, rt.Device(), benchRequests, size, benchConcurrency, benchSeed)
	if err != nil {
		return err
	}

	printer := output.NewPrinter(os.Stdout, output.FormatTable, true)
	if err := output.KeyValues(os.Stdout, res.pairs()); err != nil {
		return err
	}
	if res.Mismatches > 0 {
		printer.Error(fmt.Sprintf("%d blocks read back differently (seed %d)", res.Mismatches, benchSeed))
		return fmt.Errorf("verification failed")
	}
	printer.Success(fmt.Sprintf("all blocks verified (seed %d)", benchSeed))
	return nil
}

// bench writes requests random blocks of size bytes at distinct offsets,
// then reads each back and compares it.
func bench(ctx context.Context, dev *blockdev.Device, requests int, size bytesize.ByteSize, concurrency int, seed uint64) (benchResult, error) {
	res := benchResult{Requests: requests, Size: size}

	if size == 0 || !size.IsAligned(blockdev.SectorSize) || size.Int64() > dev.MaxTransfer() {
		return res, fmt.Errorf("request size %s must be a non-zero multiple of %d up to %d", size, blockdev.SectorSize, dev.MaxTransfer())
	}
	slots := dev.Capacity() / size.Int64()
	if slots < int64(requests) {
		return res, fmt.Errorf("capacity %s holds only %d requests of %s", bytesize.ByteSize(dev.Capacity()), slots, size)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	offsets := make([]int64, requests)
	for i, slot := range rng.Perm(int(min(slots, int64(requests)*4)))[:requests] {
		offsets[i] = int64(slot) * size.Int64()
	}
	seeds := make([]uint64, requests)
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}

	fill := func(p []byte, s uint64) {
		r := rand.New(rand.NewPCG(s, s))
		for i := 0; i+8 <= len(p); i += 8 {
			v := r.Uint64()
			for b := 0; b < 8; b++ {
				p[i+b] = byte(v >> (8 * b))
			}
		}
	}

	run := func(op func(ctx context.Context, i int) error) (time.Duration, error) {
		var next atomic.Int64
		start := time.Now()
		g, gctx := errgroup.WithContext(ctx)
		for w := 0; w < concurrency; w++ {
			g.Go(func() error {
				for {
					i := int(next.Add(1) - 1)
					if i >= requests {
						return nil
					}
					if err := op(gctx, i); err != nil {
						return err
					}
				}
			})
		}
		err := g.Wait()
		return time.Since(start), err
	}

	var err error
	res.WriteTime, err = run(func(ctx context.Context, i int) error {
		buf := bufpool.Get(int(size))
		defer bufpool.Put(buf)
		fill(buf, seeds[i])
		_, err := dev.WriteAt(ctx, buf, offsets[i])
		return err
	})
	if err != nil {
		return res, fmt.Errorf("write phase: %w", err)
	}

	var mismatches atomic.Int64
	res.ReadTime, err = run(func(ctx context.Context, i int) error {
		got := bufpool.Get(int(size))
		defer bufpool.Put(got)
		want := bufpool.Get(int(size))
		defer bufpool.Put(want)

		if _, err := dev.ReadAt(ctx, got, offsets[i]); err != nil {
			return err
		}
		fill(want, seeds[i])
		if !bytes.Equal(got, want) {
			if mismatches.Add(1) == 1 {
				logger.Error("read-back mismatch", logger.KeyOffset, offsets[i])
				fmt.Fprintf(os.Stderr, "first mismatch at offset %d\nwant:\n%s\ngot:\n%s",
					offsets[i], spew.Sdump(want[:min(len(want), 64)]), spew.Sdump(got[:min(len(got), 64)]))
			}
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("read phase: %w", err)
	}
	res.Mismatches = mismatches.Load()
	return res, nil
}
