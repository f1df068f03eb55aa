package runner

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"profiler/pkg/errs"
)

// MaxSampleRate caps resource sampling at 1kHz; reading /proc faster than
// that costs more than the child being measured.
const MaxSampleRate = 1000.0

// MinSampleRate is the slowest positive rate, one sample every 100s. Slower
// rates would overflow the ticker interval.
const MinSampleRate = 0.01

// ValidateSampleRate rejects rates the sampler cannot honour.
func ValidateSampleRate(rate float64) error {
	switch {
	case math.IsNaN(rate) || math.IsInf(rate, 0):
		return errs.NewSamplingError("sample rate must be a finite number", rate).With(errs.KeyComponent, "sampler")
	case rate < 0:
		return errs.NewSamplingError("sample rate must not be negative", rate).With(errs.KeyComponent, "sampler")
	case rate > 0 && rate < MinSampleRate:
		return errs.NewSamplingError("sample rate below minimum", rate).With(errs.KeyComponent, "sampler")
	case rate > MaxSampleRate:
		return errs.NewSamplingError("sample rate exceeds maximum", rate).With(errs.KeyComponent, "sampler")
	}
	return nil
}

// usageSampler polls the resident set size of a running child.
type usageSampler struct {
	proc     *process.Process
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	peak    uint64
	samples int

	stop chan struct{}
	done chan struct{}
}

// startSampler begins sampling pid at rate Hz. A child that already exited
// yields a sampler that reports nothing.
func startSampler(ctx context.Context, pid int, rate float64, log *zap.Logger) *usageSampler {
	s := &usageSampler{
		interval: sampleInterval(rate),
		logger:   log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		log.Debug("Sampler could not attach to process",
			zap.Int("pid", pid),
			zap.Error(errs.NewCollectorError("attach failed", "sampler", err).With(errs.KeySamplingRate, rate)),
		)
		close(s.done)
		return s
	}
	s.proc = proc

	go s.loop(ctx)
	return s
}

// sampleInterval converts a rate into a ticker period, clamped to the
// range the validated rates allow.
func sampleInterval(rate float64) time.Duration {
	if rate < MinSampleRate {
		rate = MinSampleRate
	}
	if rate > MaxSampleRate {
		rate = MaxSampleRate
	}
	return time.Duration(float64(time.Second) / rate)
}

func (s *usageSampler) loop(ctx context.Context) {
	defer close(s.done)

	s.sample(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *usageSampler) sample(ctx context.Context) {
	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		// The child exits between ticks; that is the normal end of sampling.
		return
	}
	s.mu.Lock()
	s.samples++
	if mem.RSS > s.peak {
		s.peak = mem.RSS
	}
	s.mu.Unlock()
}

// Stop ends sampling and returns the peak RSS and the sample count.
func (s *usageSampler) Stop() (uint64, int) {
	select {
	case <-s.done:
	default:
		close(s.stop)
		<-s.done
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak, s.samples
}
