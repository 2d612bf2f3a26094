package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/coderun/sandbox"
)

var _ sandbox.Observer = (*Recorder)(nil)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(reg)
	require.NoError(t, err)

	r.ExecutionStarted("python")
	assert.InDelta(t, 1, testutil.ToFloat64(r.inflight), 0)

	r.ExecutionFinished("python", "success", 250*time.Millisecond)
	assert.InDelta(t, 0, testutil.ToFloat64(r.inflight), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.executions.WithLabelValues("python", "success")), 0)

	r.ExecutionRejected("unsupported_language")
	assert.InDelta(t, 1, testutil.ToFloat64(r.executions.WithLabelValues("unknown", "unsupported_language")), 0)

	r.TeardownFailed("remove")
	r.TeardownFailed("remove")
	assert.InDelta(t, 2, testutil.ToFloat64(r.teardown.WithLabelValues("remove")), 0)

	assert.Equal(t, 1, testutil.CollectAndCount(r.duration))
	expected := `
# HELP coderun_teardown_failures_total Number of failed teardown steps by stage
# TYPE coderun_teardown_failures_total counter
coderun_teardown_failures_total{stage="remove"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "coderun_teardown_failures_total"))
}

func TestRecorderDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ExecutionStarted("python")
		r.ExecutionFinished("python", "success", time.Second)
		r.ExecutionRejected("unsupported_language")
		r.TeardownFailed("stop")
	})
}
