package harvest_test

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardsharp/cardsharp/internal/harvest"
	"github.com/cardsharp/cardsharp/internal/metrics"
	"github.com/cardsharp/cardsharp/internal/oracle"
	"github.com/cardsharp/cardsharp/internal/session"
	"github.com/cardsharp/cardsharp/pkg/lfsr"
	"github.com/cardsharp/cardsharp/pkg/subcipher"
)

func TestLeakageFirstRun(t *testing.T) {
	tests := []struct {
		name       string
		known      []int
		n          int
		wantOffset int
		wantOK     bool
	}{
		{"empty", nil, 4, 0, false},
		{"isolated positions", []int{1, 3, 5, 7}, 4, 0, false},
		{"run at start", []int{0, 1, 2, 3, 9}, 4, 0, true},
		{"run in middle", []int{0, 2, 10, 11, 12, 13}, 4, 10, true},
		{"broken run", []int{10, 11, 12, 14, 15, 16}, 4, 0, false},
		{"longer run needed", []int{5, 6, 7, 8}, 5, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leak := harvest.NewLeakage(20)
			for _, p := range tt.known {
				leak.Known[p] = true
			}
			offset, ok := leak.FirstRun(tt.n)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantOffset, offset)
			}
		})
	}
}

// drawStream replays the combined register output for a key.
func drawStream(t *testing.T, key uint64, n int) []byte {
	t.Helper()
	reg17, err := lfsr.New(subcipher.Seed17FromKey(key), subcipher.Taps17, subcipher.Width17)
	require.NoError(t, err)
	reg32, err := lfsr.New(subcipher.Seed32FromKey(key), subcipher.Taps32, subcipher.Width32)
	require.NoError(t, err)
	draws := make([]byte, n)
	for i := range draws {
		draws[i] = reg17.NextByte() ^ reg32.NextByte()
	}
	return draws
}

func newHarvester(o oracle.Oracle, opts harvest.Opts) *harvest.Harvester {
	logger := zerolog.Nop()
	return harvest.New(o, opts, clockwork.NewFakeClock(), metrics.New(), &logger)
}

func TestHarvesterRun_FullSweepRecoversDrawStream(t *testing.T) {
	const key = uint64(0x31337c0ffee) & subcipher.KeyMask
	const length = 128

	clock := clockwork.NewFakeClock()
	logger := zerolog.Nop()
	mgr := session.NewManagerWithKey(key, session.Opts{MaxRequests: 300}, clock, &logger)
	collector := metrics.New()

	h := harvest.New(oracle.NewLocal(mgr), harvest.Opts{Length: length, MaxTrials: 256}, clock, collector, &logger)
	res, err := h.Run(context.Background())
	require.NoError(t, err)

	// Trying all 256 filler values leaves every pair-detectable
	// position known and equal to the true draw stream.
	draws := drawStream(t, key, subcipher.InitDraws+length)
	for p := 0; p < length-1; p++ {
		require.True(t, res.Leakage.Known[p], "position %d", p)
		require.Equal(t, draws[subcipher.InitDraws+p], res.Leakage.Values[p], "position %d", p)
	}
	// the final position has no successor pair to compare against
	assert.False(t, res.Leakage.Known[length-1])

	run, ok := res.Leakage.FirstRun(4)
	require.True(t, ok)
	assert.Equal(t, run, res.Offset)
	assert.Equal(t, 0, res.Offset)

	// every trial contributes one oracle round-trip observation
	assert.Equal(t, uint64(256), durationSamples(t, collector))
}

func durationSamples(t *testing.T, collector *metrics.Collector) uint64 {
	t.Helper()
	families, err := collector.GetRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "oracle_duration_seconds" {
			return mf.Metric[0].Histogram.GetSampleCount()
		}
	}
	t.Fatal("oracle_duration_seconds not registered")
	return 0
}

// flatOracle never produces adjacent equal ciphertext bytes.
type flatOracle struct{}

func (flatOracle) Query(_ context.Context, plaintext []byte) (oracle.Response, error) {
	resp := oracle.Response{Ciphertext: make([]byte, len(plaintext))}
	for i := range resp.Ciphertext {
		resp.Ciphertext[i] = byte(i)
	}
	return resp, nil
}

func (flatOracle) Guess(context.Context, uint64) (bool, error) {
	return false, nil
}

func TestHarvesterRun_NoQualifyingRun(t *testing.T) {
	h := newHarvester(flatOracle{}, harvest.Opts{Length: 64, MaxTrials: 10})
	_, err := h.Run(context.Background())
	assert.ErrorIs(t, err, harvest.ErrNoQualifyingRun)
}

func TestHarvesterRun_BudgetRespectsOracleLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	logger := zerolog.Nop()
	mgr := session.NewManagerWithKey(1, session.Opts{MaxRequests: 100}, clock, &logger)

	// 100 trials must fit exactly into the oracle's request budget
	h := newHarvester(oracle.NewLocal(mgr), harvest.Opts{Length: 64, MaxTrials: 100})
	_, err := h.Run(context.Background())
	if err != nil {
		assert.ErrorIs(t, err, harvest.ErrNoQualifyingRun)
	}
	assert.Equal(t, 0, mgr.Remaining())
}

func TestHarvesterRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newHarvester(flatOracle{}, harvest.Opts{Length: 64, MaxTrials: 10})
	_, err := h.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
