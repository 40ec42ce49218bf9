package optioneval

import (
	"testing"
	"time"
)

func baseInputs() Inputs {
	return Inputs{
		VIXLevel:               14,
		VIXTrend3d:             0,
		VIXPercentile1y:        50,
		RealizedImpliedRatio5d: 0.8,
		AvgDailyRange5d:        1.0,
	}
}

func TestEvaluate_VetoesIVRankFloor(t *testing.T) {
	in := baseInputs()
	in.VIXPercentile1y = 10 // below the default floor of 15
	e := New(DefaultVetoThresholds(), nil)

	res := e.Evaluate(in)
	if res.Veto != VetoIVRankFloor {
		t.Fatalf("expected VetoIVRankFloor, got %v", res.Veto)
	}
	if res.Signal != SignalAvoid || res.Score != 0 {
		t.Fatalf("expected AVOID/0 on veto, got %+v", res)
	}
}

func TestEvaluate_VetoesRVIVCap(t *testing.T) {
	in := baseInputs()
	in.RealizedImpliedRatio5d = 1.5 // above the default cap of 1.2
	e := New(DefaultVetoThresholds(), nil)

	res := e.Evaluate(in)
	if res.Veto != VetoRVIVCap {
		t.Fatalf("expected VetoRVIVCap, got %v", res.Veto)
	}
}

func TestEvaluate_VetoesRangeCap(t *testing.T) {
	in := baseInputs()
	in.AvgDailyRange5d = 2.0 // above the default cap of 1.5
	e := New(DefaultVetoThresholds(), nil)

	res := e.Evaluate(in)
	if res.Veto != VetoRangeCap {
		t.Fatalf("expected VetoRangeCap, got %v", res.Veto)
	}
}

func TestEvaluate_VetoOrderIVRankFirst(t *testing.T) {
	in := baseInputs()
	in.VIXPercentile1y = 10   // would veto
	in.RealizedImpliedRatio5d = 1.5 // would also veto
	e := New(DefaultVetoThresholds(), nil)

	res := e.Evaluate(in)
	if res.Veto != VetoIVRankFloor {
		t.Fatalf("expected the IV rank floor veto to take priority, got %v", res.Veto)
	}
}

func TestEvaluate_PassesVetoesUsesScoreFunc(t *testing.T) {
	in := baseInputs()
	e := New(DefaultVetoThresholds(), func(in Inputs) (Signal, float64) { return SignalSell, 80 })

	res := e.Evaluate(in)
	if res.Veto != VetoNone {
		t.Fatalf("expected no veto, got %v", res.Veto)
	}
	if res.Signal != SignalSell || res.Score != 80 {
		t.Fatalf("expected the injected ScoreFunc's result, got %+v", res)
	}
}

func TestDefaultScore_FavorsThetaDecay(t *testing.T) {
	in := baseInputs()
	in.ATMGreeks.Theta = -1 // strong decay, favors selling
	sig, score := DefaultScore(in)
	if sig != SignalSell {
		t.Fatalf("expected SignalSell for strong negative theta, got %v (score %v)", sig, score)
	}
}

func TestDefaultScore_PenalizesRisingVIXTrend(t *testing.T) {
	calm := baseInputs()
	_, calmScore := DefaultScore(calm)

	rising := baseInputs()
	rising.VIXTrend3d = 20
	_, risingScore := DefaultScore(rising)

	if risingScore >= calmScore {
		t.Fatalf("expected a rising VIX trend to lower the score: calm=%v rising=%v", calmScore, risingScore)
	}
}

func TestMonitor_ExitsOnReVeto(t *testing.T) {
	e := New(DefaultVetoThresholds(), func(in Inputs) (Signal, float64) { return SignalHold, 60 })
	state := EntryState{EntryScore: 60}
	in := baseInputs()
	in.VIXPercentile1y = 5 // now vetoes

	trigger, res := e.Monitor(state, in, 0, time.Now(), DefaultMonitorThresholds())
	if trigger != TriggerExit {
		t.Fatalf("expected TriggerExit on re-veto, got %v", trigger)
	}
	if res.Veto != VetoIVRankFloor {
		t.Fatalf("expected VetoIVRankFloor, got %v", res.Veto)
	}
}

func TestMonitor_ExitsOnScoreDrop(t *testing.T) {
	e := New(DefaultVetoThresholds(), func(in Inputs) (Signal, float64) { return SignalHold, 30 })
	state := EntryState{EntryScore: 60} // drop of 30 >= default ExitScoreDrop of 20

	trigger, _ := e.Monitor(state, baseInputs(), 0, time.Now(), DefaultMonitorThresholds())
	if trigger != TriggerExit {
		t.Fatalf("expected TriggerExit on a large score drop, got %v", trigger)
	}
}

func TestMonitor_ExitsOnPointsMoved(t *testing.T) {
	e := New(DefaultVetoThresholds(), func(in Inputs) (Signal, float64) { return SignalHold, 55 })
	state := EntryState{EntryScore: 55}

	trigger, _ := e.Monitor(state, baseInputs(), 150, time.Now(), DefaultMonitorThresholds())
	if trigger != TriggerExit {
		t.Fatalf("expected TriggerExit on a large underlying move, got %v", trigger)
	}
}

func TestMonitor_AddsLayerOnScoreGain(t *testing.T) {
	e := New(DefaultVetoThresholds(), func(in Inputs) (Signal, float64) { return SignalSell, 80 })
	now := time.Now()
	state := EntryState{EntryScore: 60, Layers: 1, LastAddAt: now.Add(-time.Hour)}

	trigger, _ := e.Monitor(state, baseInputs(), 0, now, DefaultMonitorThresholds())
	if trigger != TriggerAdd {
		t.Fatalf("expected TriggerAdd when the score gain clears the threshold, got %v", trigger)
	}
}

func TestMonitor_NoAddWhenMaxLayersReached(t *testing.T) {
	e := New(DefaultVetoThresholds(), func(in Inputs) (Signal, float64) { return SignalSell, 80 })
	now := time.Now()
	th := DefaultMonitorThresholds()
	state := EntryState{EntryScore: 60, Layers: th.MaxLayers, LastAddAt: now.Add(-time.Hour)}

	trigger, _ := e.Monitor(state, baseInputs(), 0, now, th)
	if trigger != TriggerNone {
		t.Fatalf("expected TriggerNone once MaxLayers is reached, got %v", trigger)
	}
}

func TestMonitor_NoAddBeforeMinInterval(t *testing.T) {
	e := New(DefaultVetoThresholds(), func(in Inputs) (Signal, float64) { return SignalSell, 80 })
	now := time.Now()
	state := EntryState{EntryScore: 60, Layers: 0, LastAddAt: now.Add(-5 * time.Minute)}

	trigger, _ := e.Monitor(state, baseInputs(), 0, now, DefaultMonitorThresholds())
	if trigger != TriggerNone {
		t.Fatalf("expected TriggerNone before AddMinInterval has elapsed, got %v", trigger)
	}
}

func TestNew_NilScoreFallsBackToDefault(t *testing.T) {
	e := New(DefaultVetoThresholds(), nil)
	res := e.Evaluate(baseInputs())
	wantSig, wantScore := DefaultScore(baseInputs())
	if res.Signal != wantSig || res.Score != wantScore {
		t.Fatalf("expected a nil ScoreFunc to fall back to DefaultScore, got %+v want (%v, %v)", res, wantSig, wantScore)
	}
}
