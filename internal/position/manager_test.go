package position_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/backtestlab/internal/position"
	"github.com/atlas-desktop/backtestlab/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newManager() *position.Manager {
	return position.NewManager(decimal.NewFromInt(10), d("0.0001"))
}

// Scenario 3: SL precedence on a wick that spans both SL and TP.
func TestUpdate_StopLossWinsTieBreak(t *testing.T) {
	m := newManager()
	open := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pos, err := m.Open("EURUSD", types.DirectionBuy, decimal.NewFromInt(1), d("1.1500"), d("1.1000"), d("1.2000"), open,
		decimal.NewFromFloat(0.01), decimal.NewFromInt(100), types.TrailingConfig{}, types.BreakevenConfig{}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	next := open.Add(time.Hour)
	report := m.Update(map[string]position.PriceUpdate{
		"EURUSD": {Close: d("1.1600"), High: d("1.2000"), Low: d("1.0900")},
	}, next)

	if len(report.Closures) != 1 {
		t.Fatalf("expected 1 closure, got %d", len(report.Closures))
	}
	ev := report.Closures[0]
	if ev.PositionID != pos.ID {
		t.Fatalf("closure for wrong position")
	}
	if ev.Reason != types.CloseReasonStopLoss {
		t.Fatalf("expected StopLoss reason, got %s", ev.Reason)
	}
	if !ev.Price.Equal(d("1.1000")) {
		t.Fatalf("expected close at SL 1.1000, got %s", ev.Price)
	}

	closed := m.Closed()
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(closed))
	}
	if !closed[0].CloseTime.After(closed[0].OpenTime) {
		t.Fatalf("close_time must be after open_time")
	}
}

// Scenario 4: trailing stop tightens only, never loosens.
func TestUpdate_TrailingTightensOnly(t *testing.T) {
	m := newManager()
	open := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	trailing := types.TrailingConfig{Enabled: true, TrailingPips: decimal.NewFromInt(50)}
	pos, err := m.Open("EURUSD", types.DirectionBuy, decimal.NewFromInt(1), d("1.1000"), d("1.0900"), d("1.3000"), open,
		decimal.NewFromFloat(0.01), decimal.NewFromInt(100), trailing, types.BreakevenConfig{}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !pos.StopLoss.Equal(d("1.0900")) {
		t.Fatalf("initial SL = %s, want 1.0900", pos.StopLoss)
	}

	// The entry bar itself closes at 1.1000; subsequent bars drive the
	// trailing sequence. The retreat bar stays above the trailed SL so it
	// is not stopped out, and its own candidate (1.1030) would loosen.
	closes := []string{"1.1100", "1.1080", "1.1200"}
	wantSL := []string{"1.1050", "1.1050", "1.1150"}

	for i, c := range closes {
		tick := open.Add(time.Duration(i+1) * time.Hour)
		m.Update(map[string]position.PriceUpdate{
			"EURUSD": {Close: d(c), High: d(c), Low: d(c)},
		}, tick)

		active := m.Active()
		if len(active) != 1 {
			t.Fatalf("step %d: expected 1 active position, got %d", i, len(active))
		}
		if !active[0].StopLoss.Equal(d(wantSL[i])) {
			t.Fatalf("step %d: SL = %s, want %s", i, active[0].StopLoss, wantSL[i])
		}
	}
}

// Scenario 5: partial close fires once per level.
func TestUpdate_PartialCloseOncePerLevel(t *testing.T) {
	m := newManager()
	open := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	levels := []types.PartialLevel{{PipsLevel: decimal.NewFromInt(50), Percent: decimal.NewFromFloat(0.5)}}
	_, err := m.Open("EURUSD", types.DirectionBuy, decimal.NewFromInt(2), d("1.1000"), d("1.0900"), d("1.3000"), open,
		decimal.NewFromFloat(0.01), decimal.NewFromInt(100), types.TrailingConfig{}, types.BreakevenConfig{}, levels)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	t1 := open.Add(time.Hour)
	report := m.Update(map[string]position.PriceUpdate{"EURUSD": {Close: d("1.1050"), High: d("1.1050"), Low: d("1.1050")}}, t1)
	if len(report.Closures) != 1 || !report.Closures[0].Partial {
		t.Fatalf("expected one partial closure event, got %+v", report.Closures)
	}
	active := m.Active()
	if len(active) != 1 || !active[0].Volume.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected remaining volume 1, got %+v", active)
	}

	t2 := open.Add(2 * time.Hour)
	report2 := m.Update(map[string]position.PriceUpdate{"EURUSD": {Close: d("1.1060"), High: d("1.1060"), Low: d("1.1060")}}, t2)
	for _, ev := range report2.Closures {
		if ev.Partial {
			t.Fatalf("level should not fire twice")
		}
	}
}

// Two partial levels reached within the same bar both fire, each against
// the then-remaining volume.
func TestUpdate_MultiplePartialLevelsSameBar(t *testing.T) {
	m := newManager()
	open := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	levels := []types.PartialLevel{
		{PipsLevel: decimal.NewFromInt(20), Percent: decimal.NewFromFloat(0.5)},
		{PipsLevel: decimal.NewFromInt(40), Percent: decimal.NewFromFloat(0.5)},
	}
	_, err := m.Open("EURUSD", types.DirectionBuy, decimal.NewFromInt(4), d("1.1000"), d("1.0900"), d("1.3000"), open,
		decimal.NewFromFloat(0.01), decimal.NewFromInt(100), types.TrailingConfig{}, types.BreakevenConfig{}, levels)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	report := m.Update(map[string]position.PriceUpdate{"EURUSD": {Close: d("1.1050"), High: d("1.1050"), Low: d("1.1050")}}, open.Add(time.Hour))
	partials := 0
	for _, ev := range report.Closures {
		if ev.Partial {
			partials++
		}
	}
	if partials != 2 {
		t.Fatalf("expected both levels to fire in one bar, got %d", partials)
	}
	active := m.Active()
	if len(active) != 1 || !active[0].Volume.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected remaining volume 1 after 50%% then 50%% of remainder, got %+v", active)
	}
}

// Break-even promotion fires once and never reverts, even when price
// falls back below the trigger afterwards.
func TestUpdate_BreakevenFiresOnce(t *testing.T) {
	m := newManager()
	open := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	be := types.BreakevenConfig{Enabled: true, TriggerPips: decimal.NewFromInt(30), BreakevenPlus: decimal.NewFromInt(5)}
	_, err := m.Open("EURUSD", types.DirectionBuy, decimal.NewFromInt(1), d("1.1000"), d("1.0900"), d("1.3000"), open,
		decimal.NewFromFloat(0.01), decimal.NewFromInt(100), types.TrailingConfig{}, be, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	m.Update(map[string]position.PriceUpdate{"EURUSD": {Close: d("1.1040"), High: d("1.1040"), Low: d("1.1040")}}, open.Add(time.Hour))
	active := m.Active()
	if len(active) != 1 {
		t.Fatalf("expected position still open")
	}
	if !active[0].StopLoss.Equal(d("1.1005")) {
		t.Fatalf("SL after break-even = %s, want 1.1005", active[0].StopLoss)
	}
	if !active[0].BreakevenArmed {
		t.Fatalf("break-even flag not set")
	}

	// Price retreats below the trigger but stays above the promoted SL;
	// the SL must not move back.
	m.Update(map[string]position.PriceUpdate{"EURUSD": {Close: d("1.1010"), High: d("1.1010"), Low: d("1.1010")}}, open.Add(2*time.Hour))
	active = m.Active()
	if len(active) != 1 || !active[0].StopLoss.Equal(d("1.1005")) {
		t.Fatalf("break-even SL moved after firing: %+v", active)
	}
}

func TestOpen_InvalidVolumeRejected(t *testing.T) {
	m := newManager()
	_, err := m.Open("EURUSD", types.DirectionBuy, decimal.Zero, d("1.1000"), d("1.0900"), d("1.2000"), time.Now(),
		decimal.NewFromFloat(0.01), decimal.NewFromInt(100), types.TrailingConfig{}, types.BreakevenConfig{}, nil)
	if err == nil {
		t.Fatalf("expected error for non-positive volume")
	}
}
