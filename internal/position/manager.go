// Package position implements the per-position state machine governing
// SL/TP hits, partial closures, break-even promotion and trailing stops
// under deterministic tie-break rules: stop-loss wins when a bar spans
// both SL and TP, trailing only ever tightens, break-even fires at most
// once, and each partial level is taken at most once.
package position

import (
	"sort"
	"sync"
	"time"

	berrors "github.com/atlas-desktop/backtestlab/pkg/errors"
	"github.com/atlas-desktop/backtestlab/pkg/types"
	"github.com/shopspring/decimal"
)

// PriceUpdate is one bar's price information for a symbol.
type PriceUpdate struct {
	Close decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
}

// ClosureEvent records a full or partial closure produced by Update.
type ClosureEvent struct {
	PositionID  int64
	Partial     bool
	Level       int
	Volume      decimal.Decimal
	Price       decimal.Decimal
	Time        time.Time
	Reason      types.CloseReason
	RealizedPnL decimal.Decimal
}

// UpdateReport is the result of a single Update call.
type UpdateReport struct {
	Closures []ClosureEvent
}

// Manager owns the set of open positions for one backtest run. It is not
// safe to share across concurrent runs (each run owns its own Manager);
// the mutex guards against a run's own goroutines (e.g. progress
// reporting) reading state concurrently with Update.
type Manager struct {
	mu       sync.RWMutex
	nextID   int64
	open     map[int64]*types.Position
	closed   []types.TradeRecord
	pipValue decimal.Decimal
	pipSize  decimal.Decimal
}

// NewManager creates an empty position manager.
func NewManager(pipValue, pipSize decimal.Decimal) *Manager {
	return &Manager{
		open:     make(map[int64]*types.Position),
		pipValue: pipValue,
		pipSize:  pipSize,
	}
}

// Open creates a new position with a fresh monotonic id. Volume is
// clamped to [minVolume, maxVolume].
func (m *Manager) Open(symbol string, direction types.Direction, volume, entryPrice, sl, tp decimal.Decimal, openTime time.Time, minVolume, maxVolume decimal.Decimal, trailing types.TrailingConfig, breakeven types.BreakevenConfig, partialLevels []types.PartialLevel) (*types.Position, error) {
	if volume.LessThanOrEqual(decimal.Zero) {
		return nil, berrors.New(berrors.InvalidVolume, "volume must be positive")
	}
	clamped := volume
	if clamped.LessThan(minVolume) {
		clamped = minVolume
	}
	if maxVolume.GreaterThan(decimal.Zero) && clamped.GreaterThan(maxVolume) {
		clamped = maxVolume
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	pos := &types.Position{
		ID:                  m.nextID,
		Symbol:              symbol,
		Direction:           direction,
		Volume:              clamped,
		EntryPrice:          entryPrice,
		OpenTime:            openTime,
		StopLoss:            sl,
		TakeProfit:          tp,
		HighestPriceSeen:    entryPrice,
		LowestPriceSeen:     entryPrice,
		Trailing:            trailing,
		Breakeven:           breakeven,
		PartialLevels:       partialLevels,
		PartialClosuresDone: make([]bool, len(partialLevels)),
		Status:              types.PositionOpen,
	}
	m.open[pos.ID] = pos
	return pos, nil
}

// Update advances every open position by one bar, in id order: SL/TP
// detection first, then partial closures, then break-even, then
// trailing. New-signal openings are driven by the caller afterwards.
func (m *Manager) Update(prices map[string]PriceUpdate, t time.Time) UpdateReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report UpdateReport

	ids := make([]int64, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		pos := m.open[id]
		pu, ok := prices[pos.Symbol]
		if !ok {
			continue
		}

		if pos.Direction == types.DirectionBuy {
			pos.HighestPriceSeen = decimal.Max(pos.HighestPriceSeen, pu.High)
		} else {
			pos.LowestPriceSeen = decimal.Min(pos.LowestPriceSeen, pu.Low)
		}

		if closed := m.checkSLTP(pos, pu, t); closed != nil {
			report.Closures = append(report.Closures, *closed)
			delete(m.open, id)
			continue
		}

		report.Closures = append(report.Closures, m.checkPartials(pos, pu, t)...)

		m.checkBreakeven(pos, pu)
		m.checkTrailing(pos, pu)
	}

	return report
}

// checkSLTP implements intra-bar SL/TP detection against [low, high].
// When a single bar spans both levels the stop-loss wins.
func (m *Manager) checkSLTP(pos *types.Position, pu PriceUpdate, t time.Time) *ClosureEvent {
	var slHit, tpHit bool
	if pos.Direction == types.DirectionBuy {
		slHit = pu.Low.LessThanOrEqual(pos.StopLoss)
		tpHit = pu.High.GreaterThanOrEqual(pos.TakeProfit)
	} else {
		slHit = pu.High.GreaterThanOrEqual(pos.StopLoss)
		tpHit = pu.Low.LessThanOrEqual(pos.TakeProfit)
	}

	if !slHit && !tpHit {
		return nil
	}

	price := pos.TakeProfit
	reason := types.CloseReasonTakeProfit
	if slHit {
		price = pos.StopLoss
		reason = types.CloseReasonStopLoss
	}

	pnl := m.realizedPnL(pos, pos.Volume, price)
	pos.Status = types.PositionClosed
	pos.ClosePrice = price
	pos.CloseTime = t
	pos.CloseReason = reason

	record := types.TradeRecord{
		PositionID:      pos.ID,
		Symbol:          pos.Symbol,
		Direction:       pos.Direction,
		Volume:          pos.Volume,
		EntryPrice:      pos.EntryPrice,
		ClosePrice:      price,
		OpenTime:        pos.OpenTime,
		CloseTime:       t,
		CloseReason:     reason,
		ProfitCurrency:  pnl.Add(sumPartialPnL(pos.PartialClosures)),
		ProfitPips:      m.pips(pos.Direction, pos.EntryPrice, price),
		PartialClosures: pos.PartialClosures,
	}
	m.closed = append(m.closed, record)

	return &ClosureEvent{
		PositionID:  pos.ID,
		Price:       price,
		Time:        t,
		Reason:      reason,
		RealizedPnL: pnl,
		Volume:      pos.Volume,
	}
}

// checkPartials closes the configured volume fraction the first time
// profit reaches each not-yet-taken pips level. Several levels may fire
// on the same bar; each reduces the then-remaining volume.
func (m *Manager) checkPartials(pos *types.Position, pu PriceUpdate, t time.Time) []ClosureEvent {
	if len(pos.PartialLevels) == 0 {
		return nil
	}
	profitPips := m.pips(pos.Direction, pos.EntryPrice, pu.Close)

	var events []ClosureEvent
	for i, level := range pos.PartialLevels {
		if pos.PartialClosuresDone[i] {
			continue
		}
		if profitPips.LessThan(level.PipsLevel) {
			continue
		}

		closeVolume := pos.Volume.Mul(level.Percent)
		pnl := m.realizedPnL(pos, closeVolume, pu.Close)
		pos.Volume = pos.Volume.Sub(closeVolume)
		pos.PartialClosuresDone[i] = true

		pc := types.PartialClosure{
			Level:        i,
			PipsLevel:    level.PipsLevel,
			Percent:      level.Percent,
			VolumeClosed: closeVolume,
			Price:        pu.Close,
			Time:         t,
			RealizedPnL:  pnl,
		}
		pos.PartialClosures = append(pos.PartialClosures, pc)

		events = append(events, ClosureEvent{
			PositionID:  pos.ID,
			Partial:     true,
			Level:       i,
			Volume:      closeVolume,
			Price:       pu.Close,
			Time:        t,
			Reason:      types.CloseReasonPartial,
			RealizedPnL: pnl,
		})
	}
	return events
}

// checkBreakeven promotes the stop-loss to entry (plus the configured
// offset) the first time profit reaches the trigger. Irreversible.
func (m *Manager) checkBreakeven(pos *types.Position, pu PriceUpdate) {
	if !pos.Breakeven.Enabled || pos.BreakevenArmed {
		return
	}
	profitPips := m.pips(pos.Direction, pos.EntryPrice, pu.Close)
	if profitPips.LessThan(pos.Breakeven.TriggerPips) {
		return
	}

	offset := pos.Breakeven.BreakevenPlus.Mul(m.pipSize)
	if pos.Direction == types.DirectionBuy {
		pos.StopLoss = pos.EntryPrice.Add(offset)
	} else {
		pos.StopLoss = pos.EntryPrice.Sub(offset)
	}
	pos.BreakevenArmed = true
}

// checkTrailing tightens the stop-loss toward the current price; never
// loosens it.
func (m *Manager) checkTrailing(pos *types.Position, pu PriceUpdate) {
	if !pos.Trailing.Enabled {
		return
	}
	offset := pos.Trailing.TrailingPips.Mul(m.pipSize)

	if pos.Direction == types.DirectionBuy {
		candidate := pu.Close.Sub(offset)
		if candidate.GreaterThan(pos.StopLoss) {
			pos.StopLoss = candidate
			pos.TrailingActive = true
		}
	} else {
		candidate := pu.Close.Add(offset)
		if candidate.LessThan(pos.StopLoss) {
			pos.StopLoss = candidate
			pos.TrailingActive = true
		}
	}
}

// pips converts a price delta to pips for direction.
func (m *Manager) pips(direction types.Direction, entry, current decimal.Decimal) decimal.Decimal {
	delta := current.Sub(entry)
	if direction == types.DirectionSell {
		delta = delta.Neg()
	}
	if m.pipSize.IsZero() {
		return decimal.Zero
	}
	return delta.Div(m.pipSize)
}

// realizedPnL computes currency P&L for closing volume units at price.
func (m *Manager) realizedPnL(pos *types.Position, volume, price decimal.Decimal) decimal.Decimal {
	pips := m.pips(pos.Direction, pos.EntryPrice, price)
	return pips.Mul(m.pipValue).Mul(volume)
}

func sumPartialPnL(partials []types.PartialClosure) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range partials {
		sum = sum.Add(p.RealizedPnL)
	}
	return sum
}

// Close force-closes a position (used by the engine at end-of-test).
func (m *Manager) Close(id int64, price decimal.Decimal, t time.Time, reason types.CloseReason) (*types.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.open[id]
	if !ok {
		return nil, berrors.New(berrors.UnknownPosition, "unknown position id")
	}

	pnl := m.realizedPnL(pos, pos.Volume, price)
	pos.Status = types.PositionClosed
	pos.ClosePrice = price
	pos.CloseTime = t
	pos.CloseReason = reason

	record := types.TradeRecord{
		PositionID:      pos.ID,
		Symbol:          pos.Symbol,
		Direction:       pos.Direction,
		Volume:          pos.Volume,
		EntryPrice:      pos.EntryPrice,
		ClosePrice:      price,
		OpenTime:        pos.OpenTime,
		CloseTime:       t,
		CloseReason:     reason,
		ProfitCurrency:  pnl.Add(sumPartialPnL(pos.PartialClosures)),
		ProfitPips:      m.pips(pos.Direction, pos.EntryPrice, price),
		PartialClosures: pos.PartialClosures,
	}
	m.closed = append(m.closed, record)
	delete(m.open, id)
	return &record, nil
}

// Active returns a snapshot of currently open positions.
func (m *Manager) Active() []types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Closed returns all trades closed so far.
func (m *Manager) Closed() []types.TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.TradeRecord, len(m.closed))
	copy(out, m.closed)
	return out
}

// FloatingProfit sums unrealized P&L across all open positions at the
// given prices.
func (m *Manager) FloatingProfit(prices map[string]PriceUpdate) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, pos := range m.open {
		pu, ok := prices[pos.Symbol]
		if !ok {
			continue
		}
		total = total.Add(m.realizedPnL(pos, pos.Volume, pu.Close))
	}
	return total
}
