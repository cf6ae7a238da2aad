package serve

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/cardsharp/cardsharp/cmd/cardsharp/application"
	"github.com/cardsharp/cardsharp/cmd/cardsharp/commander"
	"github.com/cardsharp/cardsharp/internal/metrics"
	"github.com/cardsharp/cardsharp/internal/oracleserver"
	"github.com/cardsharp/cardsharp/internal/session"
	tcpserver "github.com/cardsharp/cardsharp/pkg/tcp/server"
)

type Config struct {
	ListenAddr         string
	ClientTimeout      time.Duration
	SessionMaxRequests int
	SessionKeyTTL      time.Duration
}

type Component struct{}

func New(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	svc *oracleserver.Service,
	cfg Config,
	logger *zerolog.Logger,
) (*Component, error) {
	ready := make(chan struct{})

	svr, err := tcpserver.New(
		cfg.ListenAddr,
		tcpserver.WithHandler(svc.Handle),
		tcpserver.WithTimeout(cfg.ClientTimeout),
		tcpserver.WithReadySignal(ready),
	)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to set up oracle server")
		return nil, err
	}

	serveCtx, stopServing := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() { // nolint: contextcheck
				logger.Info().Str("addr", cfg.ListenAddr).Msg("Starting oracle server")
				if serveErr := svr.Listen(serveCtx); serveErr != nil {
					logger.Warn().Err(serveErr).Msg("Oracle server exited prematurely")
					if shutErr := shutdowner.Shutdown(); shutErr != nil {
						logger.Error().Err(shutErr).Msg("Failed to handle premature shutdown")
					}
				}
			}()
			<-ready
			logger.Info().Stringer("addr", svr.LocalAddr()).Msg("Oracle server is ready to accept connections")
			return nil
		},
		OnStop: func(context.Context) error {
			stopServing()
			logger.Info().Msg("Oracle server stopped")
			return nil
		},
	})

	return &Component{}, nil
}

type command struct {
	OracleListenAddr         string        `default:":28000" help:"Sets the listen address for the oracle TCP server"`
	OracleClientTimeout      time.Duration `default:"5m"     help:"Sets the maximum duration before an accepted connection times out"`  // nolint:lll
	OracleSessionMaxRequests int           `default:"100"    help:"Limits how many encryption requests a single connection may submit"` // nolint:lll
	OracleSessionKeyTTL      time.Duration `default:"2m"     help:"Limits how long a connection's key remains guessable"`
}

func (c *command) Run(_ *commander.Globals, builder *application.Builder) error {
	app := builder.
		Add(
			fx.Supply(Config{
				ListenAddr:         c.OracleListenAddr,
				ClientTimeout:      c.OracleClientTimeout,
				SessionMaxRequests: c.OracleSessionMaxRequests,
				SessionKeyTTL:      c.OracleSessionKeyTTL,
			}),
			Module,
			fx.Invoke(func(_ *Component) {}),
		).
		WithExporter().
		Build()
	app.Run()
	return nil
}

type CLI struct {
	Serve command `cmd:"" help:"Start the encryption oracle server"`
}

var Module = fx.Module("serve",
	fx.Provide(
		fx.Private,
		func(cfg Config) oracleserver.Opts {
			return oracleserver.Opts{
				Session: session.Opts{
					MaxRequests: cfg.SessionMaxRequests,
					KeyTTL:      cfg.SessionKeyTTL,
				},
			}
		},
	),
	fx.Provide(
		fx.Private,
		func(opts oracleserver.Opts, c clockwork.Clock, m *metrics.Collector, l *zerolog.Logger) *oracleserver.Service {
			return oracleserver.New(opts, c, m, l)
		},
	),
	fx.Provide(New),
)
