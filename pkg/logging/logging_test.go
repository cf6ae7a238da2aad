package logging_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardsharp/cardsharp/pkg/logging"
)

func TestShortCallerFormatter(t *testing.T) {
	tests := []struct {
		file string
		line int
		want string
	}{
		{"/home/user/project/internal/harvest/harvest.go", 42, "harvest.go:42"},
		{"main.go", 1, "main.go:1"},
		{"a/b.go", 100, "b.go:100"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, logging.ShortCallerFormatter(0, tt.file, tt.line))
		})
	}
}

func TestHexdump(t *testing.T) {
	buf := &bytes.Buffer{}
	err := logging.Hexdump(buf, []byte{0x01, 0x02, 0x00, 0xff})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "01 02 00 ff")
}
