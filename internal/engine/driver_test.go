package engine

import (
	"encoding/json"
	"testing"

	"shadowdesk/internal/domain"
	"shadowdesk/internal/shadow"
)

func TestDriverRejectsUnknownTradeMode(t *testing.T) {
	e := newEnv(t)
	if err := e.driver.Run(e.ctx, ShadowNoop, TradeMode("BOGUS")); err == nil {
		t.Fatal("unknown trade mode did not error")
	}
}

func TestDriverEntryPromotesShadowBook(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)

	doc := shadow.NewDoc()
	doc.Legs = []shadow.Leg{liveLeg(inst, domain.SideBuy, 250, 5000)}
	doc.Long.Tracking = []float64{1000, 1000}
	e.putShadowDoc(doc)

	if err := e.driver.Run(e.ctx, ShadowNoop, TradeModeEntry); err != nil {
		t.Fatalf("Run: %v", err)
	}

	positions := e.activePositions()
	if len(positions) != 1 {
		t.Fatalf("got %d active positions, want 1", len(positions))
	}
	if positions[0].InstrumentID != inst.ID || positions[0].Side != domain.SideBuy {
		t.Errorf("position = %+v, want BUY on %d", positions[0], inst.ID)
	}
	got := e.shadowDoc()
	if got.Long.Status != shadow.StatusEntered {
		t.Errorf("long status = %s, want ENTERED", got.Long.Status)
	}
	// The session-open entry does not count against the re-entry cap.
	if got.Long.EntryCount != 0 {
		t.Errorf("EntryCount = %d, want 0", got.Long.EntryCount)
	}
}

func TestDriverEntryIsIdempotent(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)

	doc := shadow.NewDoc()
	doc.Legs = []shadow.Leg{liveLeg(inst, domain.SideBuy, 250, 5000)}
	doc.Long.Tracking = []float64{1000, 1000}
	e.putShadowDoc(doc)

	for range 2 {
		if err := e.driver.Run(e.ctx, ShadowNoop, TradeModeEntry); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if got := e.activePositions(); len(got) != 1 {
		t.Fatalf("got %d active positions after rerun, want 1", len(got))
	}
}

func TestDriverEntryBlocksOnHalt(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)

	doc := shadow.NewDoc()
	doc.Legs = []shadow.Leg{liveLeg(inst, domain.SideBuy, 250, 5000)}
	doc.Long.Tracking = []float64{1000, 1000}
	doc.Halted = true
	e.putShadowDoc(doc)

	if err := e.driver.Run(e.ctx, ShadowNoop, TradeModeEntry); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := e.activePositions(); len(got) != 0 {
		t.Fatalf("halted document still opened %d positions", len(got))
	}
}

func TestDriverCheckExitsOnLoss(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)

	if _, err := e.gateway.Entry(e.ctx, &e.sub, inst, 250, domain.SideBuy, 1000, false); err != nil {
		t.Fatalf("Entry: %v", err)
	}

	doc := shadow.NewDoc()
	doc.Legs = []shadow.Leg{liveLeg(inst, domain.SideBuy, 250, -5000)}
	doc.Long.Status = shadow.StatusEntered
	doc.Long.Tracking = []float64{1000, 1000}
	e.putShadowDoc(doc)

	if err := e.driver.Run(e.ctx, ShadowNoop, TradeModeCheck); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := e.activePositions(); len(got) != 0 {
		t.Fatalf("losing side still holds %d positions", len(got))
	}
	got := e.shadowDoc()
	if got.Long.Status != shadow.StatusExited {
		t.Errorf("long status = %s, want EXITED", got.Long.Status)
	}
	if got.Long.ExitCount != 1 {
		t.Errorf("ExitCount = %d, want 1", got.Long.ExitCount)
	}
}

func TestDriverCheckEntryCountsAndKillSwitch(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)

	doc := shadow.NewDoc()
	doc.Legs = []shadow.Leg{liveLeg(inst, domain.SideBuy, 250, 5000)}
	doc.Long.Tracking = []float64{1000, 1000}
	doc.Long.KillSwitch = true
	e.putShadowDoc(doc)

	// Kill switch suppresses the intraday entry.
	if err := e.driver.Run(e.ctx, ShadowNoop, TradeModeCheck); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := e.activePositions(); len(got) != 0 {
		t.Fatalf("kill-switched side opened %d positions", len(got))
	}

	// Cleared, the same tick enters and counts it.
	doc = e.shadowDoc()
	doc.Long.KillSwitch = false
	e.putShadowDoc(doc)
	if err := e.driver.Run(e.ctx, ShadowNoop, TradeModeCheck); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := e.activePositions(); len(got) != 1 {
		t.Fatalf("got %d active positions, want 1", len(got))
	}
	got := e.shadowDoc()
	if got.Long.Status != shadow.StatusEntered {
		t.Errorf("long status = %s, want ENTERED", got.Long.Status)
	}
	if got.Long.EntryCount != 1 {
		t.Errorf("EntryCount = %d, want 1", got.Long.EntryCount)
	}
}

func TestDriverExitOnlyLeavesExitCountAlone(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)

	if _, err := e.gateway.Entry(e.ctx, &e.sub, inst, 250, domain.SideBuy, 1000, false); err != nil {
		t.Fatalf("Entry: %v", err)
	}

	doc := shadow.NewDoc()
	doc.Legs = []shadow.Leg{liveLeg(inst, domain.SideBuy, 250, -5000)}
	doc.Long.Status = shadow.StatusEntered
	doc.Long.OnGoing = true
	doc.Long.Tracking = []float64{1000, 1000}
	e.putShadowDoc(doc)

	if err := e.driver.Run(e.ctx, ShadowNoop, TradeModeCheckExit); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := e.activePositions(); len(got) != 0 {
		t.Fatalf("wind-down left %d positions open", len(got))
	}
	got := e.shadowDoc()
	if got.Long.Status != shadow.StatusExited {
		t.Errorf("long status = %s, want EXITED", got.Long.Status)
	}
	// The wind-down exit drops the on-going flag but does not count.
	if got.Long.ExitCount != 0 {
		t.Errorf("ExitCount = %d, want 0", got.Long.ExitCount)
	}
	if got.Long.OnGoing {
		t.Error("OnGoing still set after wind-down exit")
	}
}

func TestDriverSessionExitFlattensEverything(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)

	if _, err := e.gateway.Entry(e.ctx, &e.sub, inst, 250, domain.SideBuy, 1000, false); err != nil {
		t.Fatalf("Entry: %v", err)
	}

	// A stale position with no shadow leg behind it.
	stale := e.addContract("TCS", 175, 3000)
	if _, err := e.gateway.Entry(e.ctx, &e.sub, stale, 175, domain.SideBuy, 3000, false); err != nil {
		t.Fatalf("Entry: %v", err)
	}

	doc := shadow.NewDoc()
	doc.Legs = []shadow.Leg{liveLeg(inst, domain.SideBuy, 250, -5000)}
	doc.Long.Status = shadow.StatusEntered
	doc.Long.Tracking = []float64{1000, 1000}
	e.putShadowDoc(doc)

	if err := e.driver.Run(e.ctx, ShadowNoop, TradeModeExit); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := e.activePositions(); len(got) != 0 {
		t.Fatalf("session exit left %d positions open", len(got))
	}
	if got := e.shadowDoc(); got.Long.Status != shadow.StatusExited {
		t.Errorf("long status = %s, want EXITED", got.Long.Status)
	}
}

func TestDriverValuesResetClearsDayState(t *testing.T) {
	e := newEnv(t)

	doc := shadow.NewDoc()
	doc.Long.Status = shadow.StatusEntered
	doc.Long.Tracking = []float64{1000, 2000}
	doc.Long.EntryCount = 2
	doc.Long.KillSwitch = true
	doc.BannedStocks = []string{"RELIANCE"}
	e.putShadowDoc(doc)

	if err := e.driver.Run(e.ctx, ShadowValuesReset, TradeModeNoop); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := e.shadowDoc()
	if len(got.Long.Tracking) != 0 || got.Long.EntryCount != 0 || got.Long.KillSwitch {
		t.Errorf("day state not cleared: %+v", got.Long)
	}
	if len(got.BannedStocks) != 0 {
		t.Errorf("ban list survived the reset: %v", got.BannedStocks)
	}
	if !got.Long.OnGoing {
		t.Error("carried-over entered side not flagged on-going")
	}
}

func TestDriverSkipsOtherAlgos(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)

	other := domain.Subscription{AccountID: e.account.ID, Algo: "momentum", Active: true, StartDate: testNow}
	if err := e.db.SaveSubscription(e.ctx, &other); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	if err := e.db.SetInvestment(e.ctx, other.ID, 15_000_000); err != nil {
		t.Fatalf("SetInvestment: %v", err)
	}

	doc := shadow.NewDoc()
	doc.Legs = []shadow.Leg{liveLeg(inst, domain.SideBuy, 250, 5000)}
	doc.Long.Tracking = []float64{1000, 1000}
	buf, _ := json.Marshal(doc)
	if err := e.db.PutDoc(e.ctx, other.ID, shadow.DocKey, buf); err != nil {
		t.Fatalf("PutDoc: %v", err)
	}

	if err := e.driver.Run(e.ctx, ShadowNoop, TradeModeEntry); err != nil {
		t.Fatalf("Run: %v", err)
	}
	positions, err := e.db.ListPositions(e.ctx, other.ID, true)
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("driver traded a foreign algo's subscription")
	}
}

func TestDriverReversalRoundTrip(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)

	if _, err := e.gateway.Entry(e.ctx, &e.sub, inst, 250, domain.SideBuy, 1000, false); err != nil {
		t.Fatalf("Entry: %v", err)
	}

	// A small loss after a bigger give-back since open trips the reversal.
	doc := shadow.NewDoc()
	doc.Legs = []shadow.Leg{liveLeg(inst, domain.SideBuy, 250, -2000)}
	doc.Long.Status = shadow.StatusEntered
	doc.Long.Tracking = []float64{1000, 1000}
	e.putShadowDoc(doc)

	if err := e.driver.Run(e.ctx, ShadowNoop, TradeModeCheckReverse); err != nil {
		t.Fatalf("Run: %v", err)
	}

	positions := e.activePositions()
	if len(positions) != 1 {
		t.Fatalf("got %d active positions after reversal, want 1", len(positions))
	}
	if positions[0].Side != domain.SideSell || !positions[0].Reversal {
		t.Errorf("position = %+v, want a SELL reversal", positions[0])
	}
	got := e.shadowDoc()
	if got.Long.Status != shadow.StatusReversed {
		t.Fatalf("long status = %s, want REVERSED", got.Long.Status)
	}

	// Both MTM and the move since open back positive: the reversal comes off.
	got.Legs[0].MTM = 5000
	e.putShadowDoc(got)
	if err := e.driver.Run(e.ctx, ShadowNoop, TradeModeCheckReverse); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := e.activePositions(); len(got) != 0 {
		t.Fatalf("reversal still holds %d positions", len(got))
	}
	if got := e.shadowDoc(); got.Long.Status != shadow.StatusExited {
		t.Errorf("long status = %s, want EXITED", got.Long.Status)
	}
}

func TestDriverIndexExitForcesSideFlat(t *testing.T) {
	e := newEnv(t)
	inst := e.addContract("RELIANCE", 250, 1000)

	if _, err := e.gateway.Entry(e.ctx, &e.sub, inst, 250, domain.SideBuy, 1000, false); err != nil {
		t.Fatalf("Entry: %v", err)
	}
	e.account.LongIndexExit = true
	if err := e.db.SetAccountFlags(e.ctx, &e.account); err != nil {
		t.Fatalf("SetAccountFlags: %v", err)
	}

	doc := shadow.NewDoc()
	doc.Legs = []shadow.Leg{liveLeg(inst, domain.SideBuy, 250, 5000)}
	doc.Long.Status = shadow.StatusEntered
	doc.Long.Tracking = []float64{1000, 1000}
	e.putShadowDoc(doc)

	if err := e.driver.Run(e.ctx, ShadowNoop, TradeModeEntry); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := e.activePositions(); len(got) != 0 {
		t.Fatalf("index-exited side still holds %d positions", len(got))
	}
	if got := e.shadowDoc(); got.Long.Status != shadow.StatusExited {
		t.Errorf("long status = %s, want EXITED", got.Long.Status)
	}

	// The flag also blocks intraday re-entry.
	if err := e.driver.Run(e.ctx, ShadowNoop, TradeModeCheck); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := e.activePositions(); len(got) != 0 {
		t.Fatalf("index-exited side re-entered %d positions", len(got))
	}
}
