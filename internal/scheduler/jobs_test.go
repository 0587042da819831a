package scheduler

import (
	"testing"
	"time"

	"github.com/ndrandal/marketgateway/internal/gwconfig"
)

func TestCronAtFormatsHourMinute(t *testing.T) {
	spec, err := cronAt("15:15")
	if err != nil {
		t.Fatalf("cronAt: %v", err)
	}
	if spec != "0 15 15 * *" {
		t.Fatalf("expected '0 15 15 * *', got %q", spec)
	}
}

func TestCronAtRejectsMalformedTime(t *testing.T) {
	if _, err := cronAt("25:99"); err == nil {
		t.Fatal("expected error for malformed time")
	}
}

func TestSchedulesBuildsOneEntryPerExchange(t *testing.T) {
	cfg := gwconfig.Default()
	squareOff, settlement, capitalReset, err := Schedules(cfg)
	if err != nil {
		t.Fatalf("Schedules: %v", err)
	}
	if len(squareOff) != len(cfg.SquareOffTimes) {
		t.Fatalf("expected %d square-off schedules, got %d", len(cfg.SquareOffTimes), len(squareOff))
	}
	if squareOff["NSE"] != "0 15 15 * * *" {
		t.Fatalf("expected NSE square-off at 0 15 15 * * *, got %q", squareOff["NSE"])
	}
	if settlement != "0 0 0 * * *" {
		t.Fatalf("expected daily midnight settlement spec, got %q", settlement)
	}
	if capitalReset != "0 0 0 * * 0" {
		t.Fatalf("expected Sunday midnight reset spec, got %q", capitalReset)
	}
}

func TestNextNineAMRollsToTomorrow(t *testing.T) {
	now := time.Date(2026, 8, 1, 15, 15, 0, 0, gwconfig.IST)
	next := nextNineAM(now)
	if next.Day() != 2 || next.Hour() != 9 || next.Minute() != 0 {
		t.Fatalf("expected 2026-08-02 09:00 IST, got %v", next)
	}
}

// TestStartOfDayIsTodayNotYesterday guards against settling one day late: a
// position filled this morning must be settleable by tonight's run, so the
// cutoff has to be today's midnight, not yesterday's.
func TestStartOfDayIsTodayNotYesterday(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 30, 0, 0, gwconfig.IST)
	cutoff := startOfDay(now)
	if cutoff.Year() != 2026 || cutoff.Month() != time.August || cutoff.Day() != 1 {
		t.Fatalf("expected cutoff on 2026-08-01, got %v", cutoff)
	}
	if cutoff.Hour() != 0 || cutoff.Minute() != 0 || cutoff.Second() != 0 {
		t.Fatalf("expected cutoff at midnight, got %v", cutoff)
	}

	filledThisMorning := time.Date(2026, 8, 1, 10, 30, 0, 0, gwconfig.IST)
	if !filledThisMorning.After(cutoff) {
		t.Fatal("a position filled this morning must not be settleable by a run later the same day")
	}

	filledYesterday := time.Date(2026, 7, 31, 10, 30, 0, 0, gwconfig.IST)
	if filledYesterday.After(cutoff) {
		t.Fatal("a position filled yesterday must be settleable by a run today")
	}
}
