package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if extractionsTotal == nil || sweepsTotal == nil ||
		deliveriesTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveExtraction(t *testing.T) {
	Init()
	before := testutil.ToFloat64(extractionsTotal.WithLabelValues("review", StatusNoReviews))
	ObserveExtraction("review", StatusNoReviews, 2*time.Second)
	if got := testutil.ToFloat64(extractionsTotal.WithLabelValues("review", StatusNoReviews)); got != before+1 {
		t.Errorf("expected extraction counter to grow by 1, got %f -> %f", before, got)
	}
	if n := testutil.CollectAndCount(extractionDurationSeconds); n <= 0 {
		t.Errorf("expected extraction duration to be observed, got %d", n)
	}
}

func TestObserveSweepSkippedHasNoDuration(t *testing.T) {
	Init()
	before := testutil.CollectAndCount(sweepDurationSeconds)
	ObserveSweep(StatusSkipped, time.Minute)
	if got := testutil.ToFloat64(sweepsTotal.WithLabelValues(StatusSkipped)); got < 1 {
		t.Errorf("expected skipped sweep to be counted, got %f", got)
	}
	if after := testutil.CollectAndCount(sweepDurationSeconds); after != before {
		t.Errorf("expected skipped sweep not to change duration series, %d -> %d", before, after)
	}
}

func TestInflightDeliveries(t *testing.T) {
	Init()
	start := testutil.ToFloat64(inflightDeliveries)
	IncInflightDeliveries()
	IncInflightDeliveries()
	DecInflightDeliveries()
	if got := testutil.ToFloat64(inflightDeliveries); got != start+1 {
		t.Errorf("expected in-flight gauge %f, got %f", start+1, got)
	}
	DecInflightDeliveries()
}
