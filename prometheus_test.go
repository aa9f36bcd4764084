package asynccache_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vearutop/asynccache"
)

func gathered(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	res := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		res[mf.GetName()] = mf
	}

	return res
}

func TestPrometheusTracker(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	tr := asynccache.NewPrometheusTracker(reg, "app")

	tr.Add(ctx, asynccache.MetricHit, 1, "name", "dogs")
	tr.Add(ctx, asynccache.MetricHit, 2, "name", "dogs")
	tr.Add(ctx, asynccache.MetricHit, 1, "name", "cats")
	tr.Set(ctx, asynccache.MetricItems, 5, "name", "dogs")
	tr.Set(ctx, asynccache.MetricItems, 3, "name", "dogs")

	// Second tracker reuses registered collectors.
	asynccache.NewPrometheusTracker(reg, "app").Add(ctx, asynccache.MetricHit, 1, "name", "dogs")

	mfs := gathered(t, reg)

	hits := mfs["app_cache_hit_total"]
	require.NotNil(t, hits)

	values := map[string]float64{}

	for _, m := range hits.GetMetric() {
		values[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}

	assert.Equal(t, map[string]float64{"dogs": 4, "cats": 1}, values)

	items := mfs["app_cache_items"]
	require.NotNil(t, items)
	require.Len(t, items.GetMetric(), 1)
	assert.Equal(t, 3.0, items.GetMetric()[0].GetGauge().GetValue())
}

func TestPrometheusTracker_cache(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := &counter{}

	c, err := asynccache.New[string, string](p.produce, asynccache.Config[string]{
		Name:  "dogs",
		Stats: asynccache.NewPrometheusTracker(reg, ""),
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.GetOrCreate(context.Background(), "key")
	require.NoError(t, err)

	mfs := gathered(t, reg)

	require.Contains(t, mfs, "cache_build_total")
	require.Contains(t, mfs, "cache_write_total")
	assert.Equal(t, 1.0, mfs["cache_build_total"].GetMetric()[0].GetCounter().GetValue())
}
