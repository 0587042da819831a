package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ndrandal/marketgateway/internal/execengine"
	"github.com/ndrandal/marketgateway/internal/gwconfig"
	"github.com/ndrandal/marketgateway/internal/store"
)

// SquareOffJob cancels open MIS orders and force-closes open MIS positions
// for a single exchange at its configured time, then blocks new MIS orders
// for that exchange until 09:00 next day (spec.md §4.6).
type SquareOffJob struct {
	Exchange string
	Engine   *execengine.Engine
	Store    *store.Store
}

func (j *SquareOffJob) Name() string { return "squareoff:" + j.Exchange }

func (j *SquareOffJob) Run() error {
	ctx := context.Background()
	dayKey := fmt.Sprintf("squareoff:%s:%s", j.Exchange, time.Now().In(gwconfig.IST).Format("2006-01-02"))
	done, err := j.Store.JobDone(ctx, dayKey)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	blockUntil := nextNineAM(time.Now().In(gwconfig.IST))
	if err := j.Engine.SquareOffExchange(ctx, j.Exchange, blockUntil); err != nil {
		return err
	}
	return j.Store.MarkJobDone(ctx, dayKey)
}

// nextNineAM returns 09:00 IST on the day after now.
func nextNineAM(now time.Time) time.Time {
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 9, 0, 0, 0, gwconfig.IST)
}

// startOfDay returns 00:00 IST on now's calendar day. A position's
// created_at at or before this instant was opened on a previous day and is
// due for T+1 settlement, whether this runs exactly at midnight or later
// the same day via a startup catch-up call.
func startOfDay(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, gwconfig.IST)
}

// SettlementJob moves CNC positions opened on an earlier IST calendar day
// to Holdings (spec.md §4.6 T+1 settlement / catch-up settlement). The same
// job implements both: run on the midnight schedule for T+1, and via
// RunNow at startup for catch-up — the cutoff and the per-day idempotency
// marker make re-running safe either way.
type SettlementJob struct {
	Store *store.Store
}

func (j *SettlementJob) Name() string { return "settlement" }

func (j *SettlementJob) Run() error {
	ctx := context.Background()
	now := time.Now().In(gwconfig.IST)
	dayKey := fmt.Sprintf("settlement:%s", now.Format("2006-01-02"))
	done, err := j.Store.JobDone(ctx, dayKey)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	cutoff := startOfDay(now)

	positions, err := j.Store.SettleableCNCPositions(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if err := j.Store.SettlePosition(ctx, p); err != nil {
			return fmt.Errorf("settle position %s/%s/%s: %w", p.UserID, p.Symbol, p.Exchange, err)
		}
	}
	return j.Store.MarkJobDone(ctx, dayKey)
}

// CapitalResetJob restores every user's funds row to starting capital on
// the configured weekly schedule, preserving Holdings (spec.md §4.6).
type CapitalResetJob struct {
	Store *store.Store
}

func (j *CapitalResetJob) Name() string { return "capital_reset" }

func (j *CapitalResetJob) Run() error {
	ctx := context.Background()
	weekKey := fmt.Sprintf("capital_reset:%s", time.Now().In(gwconfig.IST).Format("2006-01-02"))
	done, err := j.Store.JobDone(ctx, weekKey)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	cfg, err := j.Store.GetConfig(ctx)
	if err != nil {
		return err
	}
	userIDs, err := j.Store.ListFundsUserIDs(ctx)
	if err != nil {
		return err
	}
	for _, userID := range userIDs {
		if err := j.Store.ResetCapital(ctx, userID, cfg.StartingCapital); err != nil {
			return fmt.Errorf("reset capital for %s: %w", userID, err)
		}
	}
	return j.Store.MarkJobDone(ctx, weekKey)
}

// Schedules builds the cron.WithSeconds schedule strings for every
// square-off job plus the fixed T+1 settlement and capital-reset jobs, from
// a loaded Config (spec.md §3's square_off_times, reset_weekday/reset_time).
func Schedules(cfg gwconfig.Config) (squareOff map[string]string, settlement string, capitalReset string, err error) {
	squareOff = make(map[string]string, len(cfg.SquareOffTimes))
	for exchange, hhmm := range cfg.SquareOffTimes {
		spec, err := cronAt(hhmm)
		if err != nil {
			return nil, "", "", fmt.Errorf("square-off time for %s: %w", exchange, err)
		}
		squareOff[exchange] = spec + " *"
	}

	settlement = "0 0 0 * * *" // 00:00 daily, IST (spec.md §4.6)

	resetSpec, err := cronAt(cfg.ResetTime)
	if err != nil {
		return nil, "", "", fmt.Errorf("reset time: %w", err)
	}
	capitalReset = fmt.Sprintf("%s %d", resetSpec, int(cfg.ResetWeekday))
	return squareOff, settlement, capitalReset, nil
}

// cronAt turns "HH:MM" into a "sec min hour day month" 5-field prefix; the
// caller appends the day-of-week field to complete the 6-field
// cron.WithSeconds spec.
func cronAt(hhmm string) (string, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("0 %d %d * *", t.Minute(), t.Hour()), nil
}
