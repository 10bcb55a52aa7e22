package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, false)
	log.Debug("hidden")
	log.Info("shown", "key", "value")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
	require.Contains(t, buf.String(), "key=value")

	buf.Reset()
	log = NewWithWriter(&buf, true)
	log.Debug("visible")
	require.Contains(t, buf.String(), "visible")
}

func TestLogger_DropsEmptyStrings(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, false).Info("msg", "empty", "", "full", "x")
	require.NotContains(t, buf.String(), "empty=")
	require.Contains(t, buf.String(), "full=x")
}

func TestFormatRFC3339Millis(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 891_000_000, time.FixedZone("X", 3600))
	require.Equal(t, "2025-03-04T04:06:07.891Z", formatRFC3339Millis(ts))
}
