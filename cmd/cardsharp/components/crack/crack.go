package crack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/cardsharp/cardsharp/cmd/cardsharp/application"
	"github.com/cardsharp/cardsharp/cmd/cardsharp/commander"
	"github.com/cardsharp/cardsharp/cmd/cardsharp/logging"
	"github.com/cardsharp/cardsharp/internal/harvest"
	"github.com/cardsharp/cardsharp/internal/metrics"
	"github.com/cardsharp/cardsharp/internal/oracle"
	"github.com/cardsharp/cardsharp/internal/recovery"
)

// ErrAttemptsExhausted is returned when every connection attempt ended
// without an accepted key.
var ErrAttemptsExhausted = errors.New("crack: no key recovered within the attempt budget")

// ErrGuessRejected means a candidate survived offline validation but the
// oracle rejected it. This should not happen against an honest oracle.
var ErrGuessRejected = errors.New("crack: recovered key rejected by the oracle")

type command struct {
	OracleAddress string        `arg:""           help:"Address of the oracle TCP server to attack"`
	Trials        int           `default:"100"    help:"Limits how many chosen plaintexts to submit per connection"`
	Attempts      int           `default:"10"     help:"Limits how many fresh connections to try before giving up"`
	Timeout       time.Duration `default:"10s"    help:"Sets the per-request timeout for oracle round trips"`
	Workers       int           `default:"8"      help:"Sets the number of concurrent key search workers"`
}

func (c *command) Run(globals *commander.Globals, _ *application.Builder) error {
	res, err := logging.Provide(logging.Config{
		LogLevel:  globals.LogLevel,
		LogOutput: globals.LogOutput,
	})
	if err != nil {
		return err
	}
	logger := res.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	collector := metrics.New()
	engine := recovery.New(recovery.Opts{Workers: c.Workers}, clock, collector, logger)

	// Every connection gets a fresh key, so a failed attempt is not
	// retried: the next connection is a brand new target.
	for attempt := 1; attempt <= c.Attempts; attempt++ {
		logger.Info().
			Int("attempt", attempt).Str("oracle", c.OracleAddress).
			Msg("Starting attack attempt")
		key, err := c.attack(ctx, engine, clock, collector, logger)
		switch {
		case err == nil:
			fmt.Printf("%010x\n", key) // nolint: forbidigo
			return nil
		case errors.Is(err, harvest.ErrNoQualifyingRun),
			errors.Is(err, recovery.ErrNoCandidate),
			errors.Is(err, recovery.ErrAmbiguousKey):
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Attack attempt failed")
		default:
			return err
		}
	}
	return ErrAttemptsExhausted
}

func (c *command) attack(
	ctx context.Context,
	engine *recovery.Engine,
	clock clockwork.Clock,
	collector *metrics.Collector,
	logger *zerolog.Logger,
) (uint64, error) {
	client, err := oracle.Dial(
		c.OracleAddress,
		oracle.WithTimeout(c.Timeout),
		oracle.WithLogger(logger),
	)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	harvester := harvest.New(client, harvest.Opts{MaxTrials: c.Trials}, clock, collector, logger)
	leaked, err := harvester.Run(ctx)
	if err != nil {
		return 0, err
	}

	key, err := engine.Recover(ctx, leaked)
	if err != nil {
		return 0, err
	}
	logger.Info().Uint64("key", key).Msg("Recovered candidate key, submitting guess")

	match, err := client.Guess(ctx, key)
	if err != nil {
		return 0, err
	}
	if !match {
		return 0, ErrGuessRejected
	}
	logger.Info().Uint64("key", key).Msg("Oracle confirmed the recovered key")
	return key, nil
}

type CLI struct {
	Crack command `cmd:"" help:"Recover an oracle's key via chosen plaintexts"`
}
