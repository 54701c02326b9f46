package telemetry

import (
	"fmt"
	"maps"
	"runtime"
	"time"

	"github.com/grafana/pyroscope-go"
)

// DefaultProfileTypes covers CPU and the contention profiles that show
// dispatchers parked on slot admission and the worker waiting on checkout.
var DefaultProfileTypes = []string{"cpu", "goroutines", "mutex_duration", "block_duration"}

const (
	// DefaultMutexFraction samples one in five mutex contention events.
	DefaultMutexFraction = 5

	// DefaultBlockRate samples blocking events of at least this duration.
	DefaultBlockRate = 10 * time.Microsecond
)

var (
	profiler         *pyroscope.Profiler
	profilingEnabled bool
)

var profileTypes = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

// runtimeRates are the runtime sampling hooks a profile set needs. Zero
// leaves the hook off.
type runtimeRates struct {
	mutexFraction int
	blockRate     int
}

// InitProfiling starts Pyroscope continuous profiling. The returned
// function stops the profiler and turns the runtime hooks back off.
func InitProfiling(cfg ProfilingConfig) (shutdown func() error, err error) {
	if !cfg.Enabled {
		profilingEnabled = false
		return func() error { return nil }, nil
	}

	pcfg, rates, err := profilerConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Mutex and block profiles stay empty until the runtime samples them.
	prevMutex := runtime.SetMutexProfileFraction(rates.mutexFraction)
	runtime.SetBlockProfileRate(rates.blockRate)

	profiler, err = pyroscope.Start(pcfg)
	if err != nil {
		runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	profilingEnabled = true

	return func() error {
		defer func() {
			runtime.SetMutexProfileFraction(prevMutex)
			runtime.SetBlockProfileRate(0)
			profilingEnabled = false
		}()
		if profiler != nil {
			return profiler.Stop()
		}
		return nil
	}, nil
}

// profilerConfig translates cfg into the Pyroscope configuration and the
// runtime sampling rates its profile types need.
func profilerConfig(cfg ProfilingConfig) (pyroscope.Config, runtimeRates, error) {
	names := cfg.ProfileTypes
	if len(names) == 0 {
		names = DefaultProfileTypes
	}

	var rates runtimeRates
	types := make([]pyroscope.ProfileType, 0, len(names))
	for _, name := range names {
		pt, err := parseProfileType(name)
		if err != nil {
			return pyroscope.Config{}, runtimeRates{}, fmt.Errorf("invalid profile type %q: %w", name, err)
		}
		types = append(types, pt)

		switch pt {
		case pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration:
			rates.mutexFraction = cfg.MutexFraction
			if rates.mutexFraction <= 0 {
				rates.mutexFraction = DefaultMutexFraction
			}
		case pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration:
			rates.blockRate = int(cfg.BlockRate.Nanoseconds())
			if rates.blockRate <= 0 {
				rates.blockRate = int(DefaultBlockRate.Nanoseconds())
			}
		}
	}

	tags := map[string]string{"version": cfg.ServiceVersion}
	maps.Copy(tags, cfg.Tags)

	return pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            tags,
		ProfileTypes:    types,
	}, rates, nil
}

// IsProfilingEnabled returns whether profiling is enabled
func IsProfilingEnabled() bool {
	return profilingEnabled
}

func parseProfileType(name string) (pyroscope.ProfileType, error) {
	pt, ok := profileTypes[name]
	if !ok {
		return pyroscope.ProfileCPU, fmt.Errorf("unknown profile type: %s", name)
	}
	return pt, nil
}
