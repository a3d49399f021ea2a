package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipclick/internal/core/dispatcher"
	"ipclick/internal/core/retry"
	"ipclick/internal/shared/types"
	"ipclick/model"
)

func TestObserverCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg)

	task, err := model.NewTask("http://example.com", model.WithAdapter(model.AdapterPlain))
	require.NoError(t, err)

	o.TaskStarted(task)
	o.TaskRetried(task, model.AdapterPlain, retry.Event{Attempt: 1})
	o.TaskRetried(task, model.AdapterPlain, retry.Event{Attempt: 2})
	o.TaskFinished(&dispatcher.Result{
		Adapter:  model.AdapterPlain,
		Task:     task,
		Response: &model.Response{StatusCode: 200},
		Elapsed:  120 * time.Millisecond,
	})
	o.TaskFinished(&dispatcher.Result{
		Adapter:  model.AdapterPlain,
		Task:     task,
		Response: model.ErrorResponse("http://example.com", errors.New("refused")),
	})
	o.AdapterFallback(model.AdapterPlaywright, model.AdapterFingerprint, errors.New("missing"))

	assert.Equal(t, 1.0, testutil.ToFloat64(o.startedTotal.WithLabelValues("plain")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.retriesTotal.WithLabelValues("plain")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.tasksTotal.WithLabelValues("plain", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.tasksTotal.WithLabelValues("plain", OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.fallbacksTotal.WithLabelValues("playwright", "fingerprint")))
	assert.Equal(t, 1, testutil.CollectAndCount(o.taskDurationSeconds))
}

func TestRetriesChargedToAdapterThatRan(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg)

	task, err := model.NewTask("http://example.com", model.WithAdapter(model.AdapterPlaywright))
	require.NoError(t, err)

	o.TaskRetried(task, model.AdapterFingerprint, retry.Event{Attempt: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(o.retriesTotal.WithLabelValues("fingerprint")))
	assert.Equal(t, 0.0, testutil.ToFloat64(o.retriesTotal.WithLabelValues("playwright")))
}

func TestOutcome(t *testing.T) {
	task, err := model.NewTask("http://example.com")
	require.NoError(t, err)

	cases := []struct {
		name string
		res  *dispatcher.Result
		want string
	}{
		{"ok", &dispatcher.Result{Task: task, Response: &model.Response{StatusCode: 404}}, OutcomeOK},
		{"disallowed", &dispatcher.Result{Task: task, Response: &model.Response{StatusCode: 503}}, OutcomeForbidden},
		{"transport", &dispatcher.Result{Task: task, Response: &model.Response{StatusCode: -1}}, OutcomeFailed},
		{"fault", &dispatcher.Result{Fault: true, Response: &model.Response{StatusCode: 500}}, OutcomeFault},
		{"no response", &dispatcher.Result{Task: task}, OutcomeFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Outcome(tc.res))
		})
	}
}

type fixedStats types.DispatchStats

func (f fixedStats) Stats() types.DispatchStats { return types.DispatchStats(f) }

func TestRegisterService(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterService(reg, fixedStats{InFlight: 3, AdapterCount: 2})

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		values[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, 3.0, values["ipclick_tasks_inflight"])
	assert.Equal(t, 2.0, values["ipclick_active_adapters"])
}

func TestRegisterTraffic(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterTraffic(reg, func() (uint64, uint64) { return 10, 250 })

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		values[mf.GetName()] = mf.GetMetric()[0].GetCounter().GetValue()
	}
	assert.Equal(t, 10.0, values["ipclick_adapter_sent_bytes_total"])
	assert.Equal(t, 250.0, values["ipclick_adapter_received_bytes_total"])
}
