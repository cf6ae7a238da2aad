package application

import (
	"go.uber.org/fx"

	"github.com/cardsharp/cardsharp/cmd/cardsharp/clock"
	"github.com/cardsharp/cardsharp/cmd/cardsharp/components/exporter"
	"github.com/cardsharp/cardsharp/cmd/cardsharp/logging"
	"github.com/cardsharp/cardsharp/internal/metrics"
)

type Builder struct {
	opts []fx.Option
}

func NewBuilder(opts ...fx.Option) *Builder {
	return &Builder{
		opts: opts,
	}
}

func (b *Builder) Add(opts ...fx.Option) *Builder {
	b.opts = append(b.opts, opts...)
	return b
}

func (b *Builder) WithExporter() *Builder {
	return b.Add(
		fx.Invoke(func(*exporter.Component) {}),
	)
}

func (b *Builder) Build() *fx.App {
	return fx.New(b.opts...)
}

var Module = fx.Module("application",
	fx.Invoke(logging.NoGlobal),
	fx.Provide(clock.Provide),
	fx.Provide(metrics.New),
)
