package observability

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestAuctionMetricsRecordOperation(t *testing.T) {
	m := Auction()
	if Auction() != m {
		t.Fatalf("expected singleton registry")
	}
	counter := m.operations.WithLabelValues("finalize", "success")
	before := counterValue(t, counter)
	m.RecordOperation("finalize", "", 5*time.Millisecond)
	if got := counterValue(t, counter); got != before+1 {
		t.Fatalf("expected counter to advance by one, got %v -> %v", before, got)
	}

	transfers := m.transfers.WithLabelValues("BID")
	before = counterValue(t, transfers)
	m.RecordTransfer(" bid ")
	if got := counterValue(t, transfers); got != before+1 {
		t.Fatalf("expected normalised token label, got %v -> %v", before, got)
	}

	m.SetSubscribers(3)
	var gauge dto.Metric
	if err := m.subscribers.Write(&gauge); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if gauge.GetGauge().GetValue() != 3 {
		t.Fatalf("unexpected gauge value %v", gauge.GetGauge().GetValue())
	}
}

func TestModuleMetricsCountsErrors(t *testing.T) {
	m := ModuleMetrics()
	errs := m.errors.WithLabelValues("auction", "auction_finalize", "-32031")
	before := counterValue(t, errs)
	m.Observe("auction", "auction_finalize", -32031, time.Millisecond)
	if got := counterValue(t, errs); got != before+1 {
		t.Fatalf("expected error counter to advance, got %v -> %v", before, got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *AuctionMetrics
	m.RecordOperation("create", "success", 0)
	m.RecordTransfer("SALE")
	m.SetSubscribers(1)
	var mod *moduleMetrics
	mod.Observe("", "", 0, 0)
	mod.RecordThrottle("", "")
	var ev *eventMetrics
	ev.RecordEvent("auction.created")
}
