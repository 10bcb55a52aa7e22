package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveToolCall(t *testing.T) {
	before := testutil.ToFloat64(ToolCallsTotal.WithLabelValues("metrics_test_tool", "success"))
	beforeErr := testutil.ToFloat64(ToolCallsTotal.WithLabelValues("metrics_test_tool", "error"))

	ObserveToolCall("metrics_test_tool", 0.01, nil)
	ObserveToolCall("metrics_test_tool", 0.02, errors.New("boom"))
	ObserveToolCall("metrics_test_tool", 0.03, errors.New("boom"))

	require.Equal(t, before+1, testutil.ToFloat64(ToolCallsTotal.WithLabelValues("metrics_test_tool", "success")))
	require.Equal(t, beforeErr+2, testutil.ToFloat64(ToolCallsTotal.WithLabelValues("metrics_test_tool", "error")))
}

func TestObserveResourceRead(t *testing.T) {
	before := testutil.ToFloat64(ResourceReadsTotal.WithLabelValues("metrics_test_resource", "error"))
	ObserveResourceRead("metrics_test_resource", errors.New("missing"))
	require.Equal(t, before+1, testutil.ToFloat64(ResourceReadsTotal.WithLabelValues("metrics_test_resource", "error")))
}
