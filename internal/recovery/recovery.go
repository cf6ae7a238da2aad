package recovery

import (
	"context"
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/cardsharp/cardsharp/internal/harvest"
	"github.com/cardsharp/cardsharp/internal/metrics"
	"github.com/cardsharp/cardsharp/pkg/lfsr"
	"github.com/cardsharp/cardsharp/pkg/subcipher"
)

const (
	candidateSpace = 1 << 16

	// MinRun is one full width of the 32-bit register: four consecutive
	// leaked bytes pin its raw state exactly.
	MinRun = 4

	DefaultWorkers = 8
)

var (
	// ErrNoCandidate is recoverable: it usually means the leakage was
	// too sparse and the caller should re-harvest. Recurring failures
	// with dense leakage point at an offset accounting bug instead.
	ErrNoCandidate = errors.New("recovery: no candidate validates the leakage")
	// ErrAmbiguousKey is reported instead of picking an arbitrary
	// survivor when more than one candidate replays the leakage.
	ErrAmbiguousKey = errors.New("recovery: multiple candidates validate the leakage")
	ErrRunTooShort  = errors.New("recovery: qualifying run is shorter than four bytes")
)

type Opts struct {
	Workers int
}

// Engine brute-forces the 16-bit low-key field. The per-candidate
// 17-bit states after the fixed table-initialization draws do not
// depend on any session, so they are computed once and reused across
// recovery runs.
type Engine struct {
	opts    Opts
	clock   clockwork.Clock
	metrics *metrics.Collector
	logger  *zerolog.Logger

	memoOnce sync.Once
	post     []uint32
}

func New(opts Opts, clock clockwork.Clock, collector *metrics.Collector, logger *zerolog.Logger) *Engine {
	if opts.Workers == 0 {
		opts.Workers = DefaultWorkers
	}
	return &Engine{
		opts:    opts,
		clock:   clock,
		metrics: collector,
		logger:  logger,
	}
}

// Recover reconstructs the original 40-bit key from a harvested
// leakage run. Every candidate low-key value is checked independently:
// derive the 32-bit register state from the run, replay the remaining
// leakage, and reject on the first mismatch.
func (e *Engine) Recover(ctx context.Context, res harvest.Result) (uint64, error) {
	run := 0
	for p := res.Offset; p < res.Leakage.Len() && res.Leakage.Known[p]; p++ {
		run++
	}
	if run < MinRun {
		return 0, ErrRunTooShort
	}

	e.memoOnce.Do(e.fillMemo)

	started := e.clock.Now()
	e.logger.Info().
		Int("offset", res.Offset).Int("workers", e.opts.Workers).
		Msg("Starting candidate search")

	keys := make(chan uint64, e.opts.Workers)
	var wg sync.WaitGroup
	for w := 0; w < e.opts.Workers; w++ {
		lo := w * candidateSpace / e.opts.Workers
		hi := (w + 1) * candidateSpace / e.opts.Workers
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := lo; cand < hi; cand++ {
				if ctx.Err() != nil {
					return
				}
				if key, ok := e.checkCandidate(cand, res); ok {
					keys <- key
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(keys)
	}()

	found := make([]uint64, 0, 1)
	for key := range keys {
		found = append(found, key)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e.metrics.RecoveryCandidates.Add(candidateSpace)
	e.metrics.RecoveryDurations.Observe(e.clock.Since(started).Seconds())

	switch len(found) {
	case 0:
		return 0, ErrNoCandidate
	case 1:
		e.logger.Info().
			Dur("elapsed", e.clock.Since(started)).
			Msg("Recovered key")
		return found[0], nil
	default:
		e.logger.Warn().Int("candidates", len(found)).Msg("Leakage too sparse to disambiguate")
		return 0, ErrAmbiguousKey
	}
}

func (e *Engine) fillMemo() {
	e.logger.Info().Int("candidates", candidateSpace).Msg("Precomputing post-init register states")
	e.post = make([]uint32, candidateSpace)

	var wg sync.WaitGroup
	for w := 0; w < e.opts.Workers; w++ {
		lo := w * candidateSpace / e.opts.Workers
		hi := (w + 1) * candidateSpace / e.opts.Workers
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := lo; cand < hi; cand++ {
				reg := lfsr.MustNew(subcipher.Seed17FromKey(uint64(cand)), subcipher.Taps17, subcipher.Width17)
				for i := 0; i < subcipher.InitDraws*8; i++ {
					reg.StepForward()
				}
				e.post[cand] = reg.State()
			}
		}()
	}
	wg.Wait()
}

// checkCandidate is a pure function of one candidate: no state shared
// with other candidates, rejection short-circuits locally.
func (e *Engine) checkCandidate(cand int, res harvest.Result) (uint64, bool) {
	leak, s := res.Leakage, res.Offset

	reg17 := lfsr.MustNew(e.post[cand], subcipher.Taps17, subcipher.Width17)
	for i := 0; i < s*8; i++ {
		reg17.StepForward()
	}

	// The four leaked draws XOR'ed against the candidate's own bytes
	// expose four raw output bytes of the 32-bit register, which
	// assembled big-endian are its exact state at the last of the four
	// positions.
	var state32 uint32
	for k := 0; k < MinRun; k++ {
		b32 := leak.Values[s+k] ^ reg17.NextByte()
		state32 = state32<<8 | uint32(b32)
	}
	reg32, err := lfsr.New(state32, subcipher.Taps32, subcipher.Width32)
	if err != nil {
		return 0, false
	}
	reg32.NextByte() // consume the steps of the fourth leaked draw

	for p := s + MinRun; p < leak.Len(); p++ {
		b := reg17.NextByte() ^ reg32.NextByte()
		if leak.Known[p] && b != leak.Values[p] {
			return 0, false
		}
	}

	// Rewind both registers through the whole evolution back to their
	// seeds: the 17-bit one from the post-init boundary, the 32-bit one
	// from the assembled state deep inside the stream.
	rew17 := lfsr.MustNew(e.post[cand], subcipher.Taps17, subcipher.Width17)
	for i := 0; i < subcipher.InitDraws; i++ {
		rew17.UndoByte()
	}
	rew32 := lfsr.MustNew(state32, subcipher.Taps32, subcipher.Width32)
	for i := 0; i < subcipher.InitDraws+s+MinRun-1; i++ {
		rew32.UndoByte()
	}

	return subcipher.KeyFromSeeds(rew17.State(), rew32.State()), true
}
