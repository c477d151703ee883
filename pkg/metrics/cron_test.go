package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsRecordsRunsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	job := "settlement-reconciliation"

	m.ObserveRun(job, 250*time.Millisecond, nil)
	m.ObserveRun(job, time.Second, errors.New("stripe unavailable"))
	m.IncSkipped()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	success, err := counterValue(mfs, "bazaar_cron_job_runs_total", map[string]string{"job": job, "result": "success"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, success)
	failure, err := counterValue(mfs, "bazaar_cron_job_runs_total", map[string]string{"job": job, "result": "failure"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, failure)

	skipped, err := counterValue(mfs, "bazaar_cron_cycles_skipped_total", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, skipped)

	hist := findMetricFamily(mfs, "bazaar_cron_job_duration_seconds")
	require.NotNil(t, hist)
	assert.EqualValues(t, 2, hist.GetMetric()[0].GetHistogram().GetSampleCount())

	last := findMetricFamily(mfs, "bazaar_cron_job_last_success_timestamp_seconds")
	require.NotNil(t, last)
	assert.Greater(t, last.GetMetric()[0].GetGauge().GetValue(), 0.0)
}

func TestCronJobMetricsNilIsNoop(t *testing.T) {
	var m *CronJobMetrics
	assert.Nil(t, NewCronJobMetrics(nil))
	assert.NotPanics(t, func() {
		m.ObserveRun("job", time.Second, nil)
		m.IncSkipped()
	})
}

// counterValue finds the sample whose labels include every pair in want.
func counterValue(mfs []*dto.MetricFamily, name string, want map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if hasLabels(metric.GetLabel(), want) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q has no sample with labels %v", name, want)
}

func histogramSum(mfs []*dto.MetricFamily, name string, want map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if hasLabels(metric.GetLabel(), want) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q has no sample with labels %v", name, want)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func hasLabels(labels []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, label := range labels {
		if v, ok := want[label.GetName()]; ok && v == label.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
