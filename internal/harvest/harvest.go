package harvest

import (
	"bytes"
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/cardsharp/cardsharp/internal/metrics"
	"github.com/cardsharp/cardsharp/internal/oracle"
	"github.com/cardsharp/cardsharp/pkg/subcipher"
)

const (
	DefaultLength    = subcipher.MaxMessageSize
	DefaultMaxTrials = 100
	DefaultRunLength = 4
)

// ErrNoQualifyingRun is a recoverable condition: the trial budget ran
// out without producing enough consecutive leaked positions. The caller
// should restart against a fresh connection (and thus a fresh key).
var ErrNoQualifyingRun = errors.New("harvest: no qualifying run of leaked positions")

// Leakage is the sparse per-position map of combined register output
// bytes recovered from fixed-point observations.
type Leakage struct {
	Known  []bool
	Values []byte
}

func NewLeakage(length int) Leakage {
	return Leakage{
		Known:  make([]bool, length),
		Values: make([]byte, length),
	}
}

func (l Leakage) Len() int {
	return len(l.Values)
}

func (l Leakage) Coverage() float64 {
	if len(l.Known) == 0 {
		return 0
	}
	known := 0
	for _, ok := range l.Known {
		if ok {
			known++
		}
	}
	return float64(known) / float64(len(l.Known))
}

// FirstRun reports the starting offset of the first n consecutive
// positions with known leakage.
func (l Leakage) FirstRun(n int) (int, bool) {
	run := 0
	for p, ok := range l.Known {
		if !ok {
			run = 0
			continue
		}
		run++
		if run == n {
			return p - n + 1, true
		}
	}
	return 0, false
}

type Opts struct {
	Length    int // plaintext length per trial
	MaxTrials int // bounded by the oracle's request budget
	RunLength int // consecutive positions required downstream
}

type Result struct {
	Leakage Leakage
	Offset  int // start of the first qualifying run
}

// Harvester drives the oracle with repeated-byte plaintexts. A trial
// for filler b certifies, at every position p where ciphertext bytes p
// and p+1 are equal, that the table update drew exactly b there; the
// draw value at that evolution offset is thereby known. Only the one
// filler value per trial is testable, so coverage grows one byte value
// at a time.
type Harvester struct {
	oracle  oracle.Oracle
	opts    Opts
	clock   clockwork.Clock
	metrics *metrics.Collector
	logger  *zerolog.Logger
}

func New(
	o oracle.Oracle,
	opts Opts,
	clock clockwork.Clock,
	collector *metrics.Collector,
	logger *zerolog.Logger,
) *Harvester {
	if opts.Length == 0 {
		opts.Length = DefaultLength
	}
	if opts.MaxTrials == 0 {
		opts.MaxTrials = DefaultMaxTrials
	}
	if opts.RunLength == 0 {
		opts.RunLength = DefaultRunLength
	}
	return &Harvester{
		oracle:  o,
		opts:    opts,
		clock:   clock,
		metrics: collector,
		logger:  logger,
	}
}

func (h *Harvester) Run(ctx context.Context) (Result, error) {
	attempt := uuid.New()
	leak := NewLeakage(h.opts.Length)
	started := h.clock.Now()

	trials := h.opts.MaxTrials
	if trials > 256 {
		trials = 256
	}
	for b := 0; b < trials; b++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := h.trial(ctx, byte(b), leak); err != nil {
			return Result{}, err
		}
	}

	coverage := leak.Coverage()
	h.metrics.HarvestCoverage.Set(coverage)
	h.logger.Info().
		Stringer("attempt", attempt).
		Float64("coverage", coverage).
		Dur("elapsed", h.clock.Since(started)).
		Msg("Harvest finished")

	offset, ok := leak.FirstRun(h.opts.RunLength)
	if !ok {
		return Result{}, ErrNoQualifyingRun
	}
	h.logger.Info().
		Stringer("attempt", attempt).Int("offset", offset).
		Msg("Found qualifying leakage run")
	return Result{Leakage: leak, Offset: offset}, nil
}

func (h *Harvester) trial(ctx context.Context, filler byte, leak Leakage) error {
	queried := h.clock.Now()
	resp, err := h.oracle.Query(ctx, bytes.Repeat([]byte{filler}, h.opts.Length))
	if err != nil {
		h.metrics.OracleErrors.WithLabelValues("encrypt").Inc()
		return err
	}
	h.metrics.HarvestTrials.Inc()
	h.metrics.OracleRequests.WithLabelValues("encrypt").Inc()
	h.metrics.OracleDurations.Observe(h.clock.Since(queried).Seconds())

	for p := 0; p < len(resp.Ciphertext)-1; p++ {
		if resp.Ciphertext[p] != resp.Ciphertext[p+1] {
			continue
		}
		if leak.Known[p] && leak.Values[p] != filler {
			// The draw value per position is fixed across sessions of
			// the same key, so a conflict means corrupted ciphertext.
			h.logger.Warn().
				Int("position", p).Uint8("have", leak.Values[p]).Uint8("got", filler).
				Msg("Conflicting leakage observation dropped")
			continue
		}
		if !leak.Known[p] {
			leak.Known[p] = true
			leak.Values[p] = filler
			h.metrics.HarvestFixedPoints.Inc()
		}
	}
	return nil
}
