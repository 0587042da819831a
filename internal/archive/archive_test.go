package archive

import (
	"testing"
	"time"

	"github.com/ndrandal/marketgateway/internal/order"
)

func TestGroupByDaySplitsOnUTCDayBoundary(t *testing.T) {
	trades := []order.SimTrade{
		{ID: "a", TS: time.Date(2026, 7, 30, 23, 59, 0, 0, time.UTC)},
		{ID: "b", TS: time.Date(2026, 7, 31, 0, 1, 0, 0, time.UTC)},
		{ID: "c", TS: time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)},
	}

	batches := groupByDay(trades)
	if len(batches) != 2 {
		t.Fatalf("expected 2 day batches, got %d", len(batches))
	}
	if len(batches["2026/07/30"]) != 1 {
		t.Fatalf("expected 1 trade on 2026/07/30, got %d", len(batches["2026/07/30"]))
	}
	if len(batches["2026/07/31"]) != 2 {
		t.Fatalf("expected 2 trades on 2026/07/31, got %d", len(batches["2026/07/31"]))
	}
}
