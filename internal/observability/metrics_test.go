package observability

import (
	"testing"
	"time"

	"github.com/danmuck/courier/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("courier-a", "GET", "/health", 200, 12*time.Millisecond)
	rec := ForStack("courier-a", "reliable")
	rec.Window(3)
	rec.Buffered(1)

	before := testutil.ToFloat64(stackEvents.WithLabelValues("courier-a", "reliable", EventRetransmit))
	rec.Event(EventRetransmit)
	after := testutil.ToFloat64(stackEvents.WithLabelValues("courier-a", "reliable", EventRetransmit))
	if after-before != 1 {
		t.Fatalf("expected retransmit counter +1, got before=%v after=%v", before, after)
	}
	if got := testutil.ToFloat64(stackWindow.WithLabelValues("courier-a")); got != 3 {
		t.Fatalf("unexpected window gauge: %v", got)
	}
}
