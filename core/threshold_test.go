package core

import "testing"

type firing struct {
	index int
	s     Sample
}

func collect(fired *[]firing) func(int, Sample) {
	return func(index int, s Sample) {
		*fired = append(*fired, firing{index, s})
	}
}

func TestThresholdProgramReject(t *testing.T) {
	var ts ThresholdSet
	if !ts.Program([]int16{10, 20}) {
		t.Fatal("Program of 2 thresholds should succeed")
	}

	nine := make([]int16, 9)
	if ts.Program(nine) {
		t.Error("Program of 9 thresholds should fail")
	}
	// The previous set stays untouched on rejection.
	if ts.Count != 2 || ts.Value[0] != 10 || ts.Value[1] != 20 {
		t.Errorf("Prior set mutated by rejected program: %+v", ts)
	}
}

func TestThresholdScenario(t *testing.T) {
	var ts ThresholdSet
	ts.Program([]int16{-100, 300})

	batch := []Sample{
		{Position: 50, Time: 1},
		{Position: -150, Time: 2},
		{Position: 350, Time: 3},
	}
	var fired []firing
	ts.Detect(batch, collect(&fired))

	if len(fired) != 2 {
		t.Fatalf("Expected 2 firings, got %d", len(fired))
	}
	// Threshold order, each latching on its own crossing sample.
	if fired[0].index != 0 || fired[0].s.Position != -150 {
		t.Errorf("First firing: expected threshold 0 on -150, got %d on %d", fired[0].index, fired[0].s.Position)
	}
	if fired[1].index != 1 || fired[1].s.Position != 350 {
		t.Errorf("Second firing: expected threshold 1 on 350, got %d on %d", fired[1].index, fired[1].s.Position)
	}
	if ts.Enabled[0] || ts.Enabled[1] {
		t.Error("Both thresholds should be latched off after firing")
	}
}

func TestThresholdLatchesOncePerEnableCycle(t *testing.T) {
	var ts ThresholdSet
	ts.Program([]int16{100})

	batch := []Sample{{Position: 150, Time: 1}}
	var fired []firing

	ts.Detect(batch, collect(&fired))
	ts.Detect(batch, collect(&fired))
	ts.Detect(batch, collect(&fired))
	if len(fired) != 1 {
		t.Fatalf("Expected exactly 1 firing before re-enable, got %d", len(fired))
	}

	ts.EnableAll()
	ts.Detect(batch, collect(&fired))
	if len(fired) != 2 {
		t.Errorf("Expected a second firing after re-enable, got %d total", len(fired))
	}
}

func TestThresholdSignSemantics(t *testing.T) {
	var ts ThresholdSet

	// A negative threshold fires only on samples <= its value.
	ts.Program([]int16{-50})
	var fired []firing
	ts.Detect([]Sample{{Position: -49, Time: 1}, {Position: 0, Time: 2}}, collect(&fired))
	if len(fired) != 0 {
		t.Errorf("Negative threshold fired above its value: %+v", fired)
	}
	ts.Detect([]Sample{{Position: -50, Time: 3}}, collect(&fired))
	if len(fired) != 1 {
		t.Errorf("Negative threshold should fire at its value, got %d firings", len(fired))
	}

	// A non-negative threshold fires only on samples >= its value.
	ts.Program([]int16{50})
	fired = fired[:0]
	ts.Detect([]Sample{{Position: 49, Time: 1}, {Position: -200, Time: 2}}, collect(&fired))
	if len(fired) != 0 {
		t.Errorf("Non-negative threshold fired below its value: %+v", fired)
	}
	ts.Detect([]Sample{{Position: 50, Time: 3}}, collect(&fired))
	if len(fired) != 1 {
		t.Errorf("Non-negative threshold should fire at its value, got %d firings", len(fired))
	}
}

func TestThresholdZeroFiresOnAnyNonNegative(t *testing.T) {
	var ts ThresholdSet
	ts.Program([]int16{0})

	var fired []firing
	ts.Detect([]Sample{{Position: -1, Time: 1}}, collect(&fired))
	if len(fired) != 0 {
		t.Error("Zero threshold should not fire on negative positions")
	}
	ts.Detect([]Sample{{Position: 0, Time: 2}}, collect(&fired))
	if len(fired) != 1 {
		t.Error("Zero threshold should fire on position 0")
	}
}

func TestThresholdEnableMask(t *testing.T) {
	var ts ThresholdSet
	ts.Program([]int16{10, 20, 30})

	ts.EnableMask(0b101)
	if !ts.Enabled[0] || ts.Enabled[1] || !ts.Enabled[2] {
		t.Errorf("Mask 0b101 misapplied: %v", ts.Enabled[:3])
	}

	var fired []firing
	ts.Detect([]Sample{{Position: 25, Time: 1}}, collect(&fired))
	if len(fired) != 1 || fired[0].index != 0 {
		t.Errorf("Expected only threshold 0 to fire, got %+v", fired)
	}
}
