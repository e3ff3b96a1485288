package risk

import (
	"path/filepath"
	"testing"
	"time"
)

func testGate() *Gate {
	return NewGate(Limits{MaxContracts: 5, MaxDailyLoss: 1500}, nil)
}

func TestEvaluateAllowsWithinCap(t *testing.T) {
	g := testGate()
	d := g.Evaluate(3)
	if d.Outcome != Allow {
		t.Fatalf("expected Allow, got %v (reason %q)", d.Outcome, d.Reason)
	}
	if d.Qty != 3 {
		t.Errorf("expected qty 3, got %d", d.Qty)
	}
}

func TestEvaluateClampsOverCap(t *testing.T) {
	g := testGate()
	d := g.Evaluate(10)
	if d.Outcome != Clamp {
		t.Fatalf("expected Clamp, got %v", d.Outcome)
	}
	if d.Qty != 5 {
		t.Errorf("expected clamped qty 5, got %d", d.Qty)
	}
}

func TestEvaluateRejectsWhenDisabled(t *testing.T) {
	g := testGate()
	g.Disable()
	d := g.Evaluate(1)
	if d.Outcome != Reject {
		t.Fatalf("expected Reject, got %v", d.Outcome)
	}
	if d.Reason != ReasonDisabled {
		t.Errorf("expected reason %q, got %q", ReasonDisabled, d.Reason)
	}
}

func TestDailyLossTripIsOneWay(t *testing.T) {
	g := testGate()
	tripped := make(chan float64, 1)
	g.OnTrip = func(pnl float64) { tripped <- pnl }

	g.SetDailyPnL(-2000)
	d := g.Evaluate(1)
	if d.Outcome != Reject || d.Reason != ReasonDailyLoss {
		t.Fatalf("expected daily-loss reject, got %v %q", d.Outcome, d.Reason)
	}
	if g.Enabled() {
		t.Fatal("expected trading disabled after trip")
	}
	select {
	case pnl := <-tripped:
		if pnl != -2000 {
			t.Errorf("expected trip pnl -2000, got %.2f", pnl)
		}
	case <-time.After(time.Second):
		t.Error("expected OnTrip callback")
	}

	// PnL recovering does not re-enable trading.
	g.SetDailyPnL(0)
	d = g.Evaluate(1)
	if d.Outcome != Reject || d.Reason != ReasonDisabled {
		t.Fatalf("expected disabled reject after recovery, got %v %q", d.Outcome, d.Reason)
	}
}

func TestResetDailyClearsTrip(t *testing.T) {
	g := testGate()
	g.SetDailyPnL(-2000)
	g.Evaluate(1)
	if g.Enabled() {
		t.Fatal("expected disabled after trip")
	}

	g.ResetDaily()
	if !g.Enabled() {
		t.Fatal("expected enabled after reset")
	}
	if g.DailyPnL() != 0 {
		t.Errorf("expected zero daily pnl, got %.2f", g.DailyPnL())
	}
	if d := g.Evaluate(1); d.Outcome != Allow {
		t.Errorf("expected Allow after reset, got %v", d.Outcome)
	}
}

func TestZeroCapsDisableChecks(t *testing.T) {
	g := NewGate(Limits{}, nil)
	if d := g.Evaluate(1000); d.Outcome != Allow || d.Qty != 1000 {
		t.Errorf("expected unlimited Allow, got %v qty=%d", d.Outcome, d.Qty)
	}
	g.SetDailyPnL(-1e9)
	if d := g.Evaluate(1); d.Outcome != Allow {
		t.Errorf("expected Allow with no loss cap, got %v", d.Outcome)
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	g := NewGate(Limits{MaxContracts: 5, MaxDailyLoss: 1500}, store)
	g.SetDailyPnL(-2000)
	g.Evaluate(1) // trips and persists
	store.Close()

	store2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("store reopen: %v", err)
	}
	defer store2.Close()

	g2 := NewGate(Limits{MaxContracts: 5, MaxDailyLoss: 1500}, store2)
	if g2.Enabled() {
		t.Error("expected disabled state restored")
	}
	if g2.DailyPnL() != -2000 {
		t.Errorf("expected daily pnl -2000 restored, got %.2f", g2.DailyPnL())
	}
}
