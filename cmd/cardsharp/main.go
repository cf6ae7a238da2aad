package main

import (
	"github.com/alecthomas/kong"
	"go.uber.org/fx"

	"github.com/cardsharp/cardsharp/cmd/cardsharp/application"
	"github.com/cardsharp/cardsharp/cmd/cardsharp/commander"
	"github.com/cardsharp/cardsharp/cmd/cardsharp/components/crack"
	"github.com/cardsharp/cardsharp/cmd/cardsharp/components/exporter"
	"github.com/cardsharp/cardsharp/cmd/cardsharp/components/serve"
	"github.com/cardsharp/cardsharp/cmd/cardsharp/logging"
)

func main() {
	cli := commander.CLI{}
	cli.Run.Plugins = kong.Plugins{
		&serve.CLI{},
		&crack.CLI{},
	}
	ctx := kong.Parse(
		&cli,
		kong.Name("cardsharp"),
		kong.Description("Card shuffle cipher oracle and key recovery toolkit"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Summary:   true,
			Tree:      true,
			FlagsLast: true,
		}),
	)

	builder := application.NewBuilder(
		application.Module,
		fx.Supply(logging.Config{
			LogLevel:  cli.Globals.LogLevel,
			LogOutput: cli.Globals.LogOutput,
		}),
		fx.Provide(logging.Provide),
		fx.WithLogger(logging.FxLogger),
		fx.Supply(exporter.Config{
			HTTPListenAddress:   cli.Globals.ExporterHTTPListenAddress,
			HTTPReadTimeout:     cli.Globals.ExporterHTTPReadTimeout,
			HTTPWriteTimeout:    cli.Globals.ExporterHTTPWriteTimeout,
			HTTPShutdownTimeout: cli.Globals.ExporterHTTPShutdownTimeout,
		}),
		exporter.Module,
	)

	if err := ctx.Run(&cli.Globals, builder); err != nil {
		ctx.FatalIfErrorf(err)
	}
}
