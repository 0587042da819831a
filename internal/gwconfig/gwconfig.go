// Package gwconfig holds the process-wide persisted Config row spec.md §3
// describes: starting capital, leverage, poll intervals, and the
// per-exchange square-off/reset schedule the scheduler reads.
package gwconfig

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/marketgateway/internal/funds"
)

// Config is the single process-wide settings row (spec.md §3 Config).
type Config struct {
	StartingCapital    decimal.Decimal
	ResetWeekday       time.Weekday
	ResetTime          string // "HH:MM" IST
	EquityLeverage     decimal.Decimal
	FuturesLeverage    decimal.Decimal
	OptionBuyLeverage  decimal.Decimal // carried for schema fidelity; option BUY margin is full premium per spec.md §4.5's table, not leveraged.
	OptionSellLeverage decimal.Decimal
	CheckIntervalMs    int
	MTMIntervalMs      int
	SquareOffTimes     map[string]string // exchange -> "HH:MM" IST
}

// IST is the fixed +05:30 offset every scheduled time in spec.md §4.6 is
// interpreted against. The gateway runs a single market (India) so a fixed
// offset, not a tzdata lookup, is sufficient and avoids a tzdata dependency.
var IST = time.FixedZone("IST", 5*3600+30*60)

// Default returns the defaults spec.md §4.6 and §8 specify: NSE/BSE square
// off at 15:15, CDS/BCD at 16:45, MCX at 23:30, NCDEX at 17:00, weekly
// capital reset Sunday 00:00, 5x/10x/5x leverage.
func Default() Config {
	return Config{
		StartingCapital:    decimal.NewFromInt(1000000),
		ResetWeekday:       time.Sunday,
		ResetTime:          "00:00",
		EquityLeverage:     decimal.NewFromInt(5),
		FuturesLeverage:    decimal.NewFromInt(10),
		OptionBuyLeverage:  decimal.NewFromInt(1),
		OptionSellLeverage: decimal.NewFromInt(5),
		CheckIntervalMs:    5000,
		MTMIntervalMs:      5000,
		SquareOffTimes: map[string]string{
			"NSE":    "15:15",
			"BSE":    "15:15",
			"CDS":    "16:45",
			"BCD":    "16:45",
			"MCX":    "23:30",
			"NCDEX":  "17:00",
		},
	}
}

// Leverage projects the leverage fields into the funds package's narrower
// margin-table config.
func (c Config) Leverage() funds.LeverageConfig {
	return funds.LeverageConfig{
		EquityLeverage:     c.EquityLeverage,
		FuturesLeverage:    c.FuturesLeverage,
		OptionSellLeverage: c.OptionSellLeverage,
	}
}

// ParseHHMM parses an "HH:MM" string into today's IST time, or tomorrow's if
// now (in IST) is already past that time-of-day.
func ParseHHMM(hhmm string, now time.Time) (time.Time, error) {
	nowIST := now.In(IST)
	t, err := time.ParseInLocation("15:04", hhmm, IST)
	if err != nil {
		return time.Time{}, err
	}
	candidate := time.Date(nowIST.Year(), nowIST.Month(), nowIST.Day(), t.Hour(), t.Minute(), 0, 0, IST)
	if nowIST.After(candidate) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, nil
}
