package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLedgerOperationsCounter(t *testing.T) {
	c := LedgerOperations.WithLabelValues("admit", "ok")
	before := testutil.ToFloat64(c)
	c.Inc()
	require.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestRegistryGathers(t *testing.T) {
	LedgerOperationDuration.WithLabelValues("cancel").Observe(0.01)
	families, err := Registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["clubevents_ledger_operation_duration_seconds"])
	require.True(t, names["go_goroutines"])
}

func TestRoutePath(t *testing.T) {
	require.Equal(t, "/v1/events/:id", RoutePath("/v1/events/:id"))
	require.Equal(t, UnmatchedRoute, RoutePath(""))
}
