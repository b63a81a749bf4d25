package lock

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	otelPackageName = "github.com/kalbasit/objectlock/pkg/lock"
)

// Acquisition result labels.
const (
	ResultSuccess    = "success"
	ResultTimeout    = "timeout"
	ResultCanceled   = "canceled"
	ResultContention = "contention"
	ResultNotFound   = "not_found"
)

var (
	//nolint:gochecknoglobals
	meter metric.Meter

	// acquisitionsTotal tracks completed acquisition attempts by result.
	//nolint:gochecknoglobals
	acquisitionsTotal metric.Int64Counter

	// acquireWaitDuration tracks how long acquisition attempts take,
	// successful or not.
	//nolint:gochecknoglobals
	acquireWaitDuration metric.Float64Histogram

	// holdDuration tracks how long guards hold their keys.
	//nolint:gochecknoglobals
	holdDuration metric.Float64Histogram

	// rollbacksTotal tracks partial acquisitions rolled back on timeout or
	// cancellation.
	//nolint:gochecknoglobals
	rollbacksTotal metric.Int64Counter

	// wakeupsTotal tracks waiters woken by releases.
	//nolint:gochecknoglobals
	wakeupsTotal metric.Int64Counter
)

//nolint:gochecknoinits
func init() {
	meter = otel.Meter(otelPackageName)

	var err error

	acquisitionsTotal, err = meter.Int64Counter(
		"objectlock_acquisitions_total",
		metric.WithDescription("Total number of completed lock acquisition attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		panic(err)
	}

	acquireWaitDuration, err = meter.Float64Histogram(
		"objectlock_acquire_wait_duration_seconds",
		metric.WithDescription("Time spent acquiring a full key set"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(err)
	}

	holdDuration, err = meter.Float64Histogram(
		"objectlock_hold_duration_seconds",
		metric.WithDescription("Duration that guards hold their keys"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(err)
	}

	rollbacksTotal, err = meter.Int64Counter(
		"objectlock_rollbacks_total",
		metric.WithDescription("Total number of partial acquisitions rolled back"),
		metric.WithUnit("{rollback}"),
	)
	if err != nil {
		panic(err)
	}

	wakeupsTotal, err = meter.Int64Counter(
		"objectlock_wakeups_total",
		metric.WithDescription("Total number of waiters woken by releases"),
		metric.WithUnit("{wakeup}"),
	)
	if err != nil {
		panic(err)
	}
}

// recordAcquisition records a completed acquisition attempt.
// result should be one of the Result* labels.
func recordAcquisition(ctx context.Context, result string, keys int) {
	if acquisitionsTotal == nil {
		return
	}

	acquisitionsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("result", result),
			attribute.Int("keys", keys),
		),
	)
}

// recordAcquireWait records how long an acquisition attempt took.
func recordAcquireWait(ctx context.Context, result string, seconds float64) {
	if acquireWaitDuration == nil {
		return
	}

	acquireWaitDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("result", result),
		),
	)
}

// recordHoldDuration records how long a guard held its keys.
func recordHoldDuration(ctx context.Context, seconds float64) {
	if holdDuration == nil {
		return
	}

	holdDuration.Record(ctx, seconds)
}

// recordRollback records a partial acquisition rolled back after timeout or
// cancellation. keysHeld is the number of keys that had to be handed back.
func recordRollback(ctx context.Context, keysHeld int) {
	if rollbacksTotal == nil {
		return
	}

	rollbacksTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Int("keys_held", keysHeld),
		),
	)
}

// recordWakeups records waiters woken while releasing keys.
func recordWakeups(ctx context.Context, n int64) {
	if wakeupsTotal == nil || n == 0 {
		return
	}

	wakeupsTotal.Add(ctx, n)
}
