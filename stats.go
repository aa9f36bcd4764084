package asynccache

// Metric names reported to stats.Tracker, every metric is labeled with cache "name".
const (
	MetricHit        = "cache_hit"
	MetricMiss       = "cache_miss"
	MetricExpired    = "cache_expired"
	MetricWrite      = "cache_write"
	MetricDelete     = "cache_delete"
	MetricBuild      = "cache_build"
	MetricFailed     = "cache_failed"
	MetricAdopted    = "cache_adopted"
	MetricItems      = "cache_items"
	MetricHookFailed = "cache_hook_failed"
)
