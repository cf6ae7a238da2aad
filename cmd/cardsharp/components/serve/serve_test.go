package serve_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/cardsharp/cardsharp/cmd/cardsharp/application"
	"github.com/cardsharp/cardsharp/cmd/cardsharp/components/exporter"
	"github.com/cardsharp/cardsharp/cmd/cardsharp/components/serve"
	"github.com/cardsharp/cardsharp/internal/oracle"
	"github.com/cardsharp/cardsharp/pkg/subcipher"
)

func noLogging() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func getMetrics(t *testing.T) map[string]*dto.MetricFamily {
	resp, err := http.Get("http://localhost:11338/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	parser := expfmt.TextParser{}
	mf, err := parser.TextToMetricFamilies(resp.Body)
	require.NoError(t, err)
	return mf
}

func TestServe_OracleAnswersWithExportedMetrics(t *testing.T) {
	app := fx.New(
		fx.Provide(noLogging),
		application.Module,
		fx.Supply(serve.Config{
			ListenAddr:         "localhost:28831",
			ClientTimeout:      time.Minute,
			SessionMaxRequests: 5,
			SessionKeyTTL:      time.Minute,
		}),
		serve.Module,
		fx.Supply(exporter.Config{
			HTTPListenAddress: "localhost:11338",
		}),
		exporter.Module,
		fx.Invoke(func(_ *serve.Component) {}),
		fx.Invoke(func(_ *exporter.Component) {}),
		fx.NopLogger,
	)
	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Second*5)
	defer cancelStart()
	require.NoError(t, app.Start(startCtx))
	defer func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), time.Second*5)
		defer cancelStop()
		app.Stop(stopCtx) // nolint: errcheck
	}()

	client, err := oracle.Dial("localhost:28831")
	require.NoError(t, err)
	defer client.Close()

	plaintext := []byte("the quick brown fox")
	resp, err := client.Query(context.Background(), plaintext)
	require.NoError(t, err)
	assert.Len(t, resp.Ciphertext, len(plaintext))
	assert.Len(t, resp.Nonce, subcipher.NonceSize)
	assert.NotEqual(t, plaintext, resp.Ciphertext)

	mf := getMetrics(t)
	sessions := mf["service_sessions_total"]
	require.NotNil(t, sessions)
	assert.Equal(t, 1.0, *sessions.Metric[0].Counter.Value)
	bytesTotal := mf["service_encrypted_bytes_total"]
	require.NotNil(t, bytesTotal)
	assert.Equal(t, float64(len(plaintext)), *bytesTotal.Metric[0].Counter.Value)
}
