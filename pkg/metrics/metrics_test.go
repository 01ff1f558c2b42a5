package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestPhaseCode_KnownPhases(t *testing.T) {
	cases := map[string]float64{
		"IDLE":         0,
		"AWAITING_UPC": 1,
		"PRODUCING":    2,
		"DRAINING":     3,
		"ERROR":        4,
		"BOGUS":        -1,
	}
	for phase, want := range cases {
		if got := phaseCode(phase); got != want {
			t.Errorf("phaseCode(%q) = %v, want %v", phase, got, want)
		}
	}
}

func TestObservePhase_SetsGauge(t *testing.T) {
	ObservePhase("PRODUCING")

	var m dto.Metric
	if err := EnginePhase.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.Gauge.GetValue() != 2 {
		t.Fatalf("expected gauge value 2, got %v", m.Gauge.GetValue())
	}
}

func TestElapsed_ReportsPositiveDuration(t *testing.T) {
	start := time.Now().Add(-10 * time.Millisecond)
	if got := Elapsed(start); got <= 0 {
		t.Fatalf("expected positive elapsed seconds, got %v", got)
	}
}
