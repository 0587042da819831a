package simulated

import (
	"math"
	"sync"

	"github.com/ndrandal/marketgateway/internal/symbol"
)

const (
	baseDailyVol = 0.02
	sectorBlend  = 0.60
	ticksPerDay  = 86400
)

// group is the coarse correlation bucket sector shocks are drawn per. The
// master-contract table carries no sector metadata, so ticks are grouped by
// their broker exchange segment (e.g. NSE_EQ, NSE_FO, MCX_FO) instead —
// instruments on the same segment still get correlated moves.
type group string

// market drives GBM price movement with group-correlated returns, one
// instance per simulated BrokerClient (i.e. per user+broker).
type market struct {
	mu     sync.RWMutex
	rng    *rng
	prices map[symbol.Key]float64
	vol    map[symbol.Key]float64
	tick   map[symbol.Key]float64
	grp    map[symbol.Key]group

	shocks map[group]float64
}

func newMarket(seed int64, contracts []symbol.Contract) *market {
	m := &market{
		rng:    newRNG(seed),
		prices: make(map[symbol.Key]float64, len(contracts)),
		vol:    make(map[symbol.Key]float64, len(contracts)),
		tick:   make(map[symbol.Key]float64, len(contracts)),
		grp:    make(map[symbol.Key]group, len(contracts)),
		shocks: make(map[group]float64),
	}
	for _, c := range contracts {
		k := symbol.Key{Symbol: c.Symbol, Exchange: c.Exchange}
		m.prices[k] = basePrice(c)
		m.vol[k] = 1.0
		m.tick[k] = c.TickSize
		m.grp[k] = group(c.BrokerExchange)
	}
	return m
}

// basePrice picks a plausible seed price by instrument class, since the
// master-contract table doesn't carry one. Equities start at 1500, NSE_FO
// contracts at 22000 and MCX_FO contracts at 6500.
func basePrice(c symbol.Contract) float64 {
	switch c.BrokerExchange {
	case "NSE_FO":
		return 22000
	case "MCX_FO":
		return 6500
	default:
		return 1500
	}
}

// generateShocks draws one Gaussian per correlation group; callers invoke
// this once per tick cycle before ticking individual instruments.
func (m *market) generateShocks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[group]bool, len(m.grp))
	for _, g := range m.grp {
		if seen[g] {
			continue
		}
		seen[g] = true
		m.shocks[g] = m.rng.gaussian()
	}
}

// step advances the price for one instrument and returns the new price.
// GBM: S(t+1) = S(t) * exp(vol * Z), drift held at zero for simulation.
func (m *market) step(k symbol.Key) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, ok := m.prices[k]
	if !ok {
		return 0
	}
	tickSize := m.tick[k]
	if tickSize <= 0 {
		tickSize = 0.05
	}

	tickVol := baseDailyVol / math.Sqrt(ticksPerDay) * m.vol[k]
	groupZ := m.shocks[m.grp[k]]
	idioZ := m.rng.gaussian()
	z := sectorBlend*groupZ + (1-sectorBlend)*idioZ

	price *= math.Exp(tickVol * z)
	price = math.Round(price/tickSize) * tickSize
	if price < tickSize {
		price = tickSize
	}

	m.prices[k] = price
	return price
}

func (m *market) price(k symbol.Key) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prices[k]
}

func (m *market) setPrice(k symbol.Key, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[k] = price
}
