package core

import "testing"

// driveCW/driveCCW feed edges until n steps confirm. A direction change
// costs one arming edge that never advances position.
func driveCW(d *Decoder, n int) {
	for confirmed := 0; confirmed < n; {
		if _, ok := d.Edge(true, false); ok {
			confirmed++
		}
	}
}

func driveCCW(d *Decoder, n int) {
	for confirmed := 0; confirmed < n; {
		if _, ok := d.Edge(false, false); ok {
			confirmed++
		}
	}
}

func TestDecoderDirectionConfirmation(t *testing.T) {
	var d Decoder
	d.SetWrapPoint(512)

	// First edge of a fresh direction only arms it.
	if pos, ok := d.Edge(true, false); ok {
		t.Errorf("First edge should not confirm a step, got position %d", pos)
	}
	// Second agreeing edge confirms and advances.
	pos, ok := d.Edge(true, false)
	if !ok || pos != 1 {
		t.Errorf("Expected confirmed step to 1, got (%d, %v)", pos, ok)
	}

	// Reversing direction re-arms without stepping.
	if pos, ok := d.Edge(false, false); ok {
		t.Errorf("Direction change should not step, got position %d", pos)
	}
	pos, ok = d.Edge(false, false)
	if !ok || pos != 0 {
		t.Errorf("Expected confirmed step back to 0, got (%d, %v)", pos, ok)
	}
}

func TestDecoderBipolarWrapScenario(t *testing.T) {
	var d Decoder
	d.SetWrapPoint(512)
	d.SetPosition(510)

	d.Edge(true, false) // arm clockwise
	d.Edge(true, false) // 511
	pos, ok := d.Edge(true, false)

	if !ok || pos != -512 {
		t.Errorf("Expected wrap to -512, got (%d, %v)", pos, ok)
	}
	if d.Wraps() != 1 {
		t.Errorf("Expected wrap count 1, got %d", d.Wraps())
	}
}

func TestDecoderBipolarRange(t *testing.T) {
	var d Decoder
	d.SetWrapPoint(100)

	check := func(a, b bool) {
		if pos, ok := d.Edge(a, b); ok {
			if pos < -100 || pos > 100 {
				t.Fatalf("Position %d escaped [-100, 100]", pos)
			}
		}
	}
	for i := 0; i < 1001; i++ {
		check(true, false)
	}
	for i := 0; i < 1001; i++ {
		check(false, false)
	}
}

func TestDecoderBipolarWrapAccounting(t *testing.T) {
	var d Decoder
	d.SetWrapPoint(100)

	// From zero, the first wrap lands after 100 steps, then every 200.
	driveCW(&d, 1000)
	if d.Wraps() != 5 {
		t.Errorf("Expected 5 wraps after 1000 steps, got %d", d.Wraps())
	}
	if d.Position() != 0 {
		t.Errorf("Expected position 0 after 1000 steps, got %d", d.Position())
	}
}

func TestDecoderUnipolarRange(t *testing.T) {
	var d Decoder
	d.SetUnipolar(true)
	d.SetWrapPoint(100)

	// The unipolar cycle is 101 steps: 1..100 then past 100 to 0.
	driveCW(&d, 500)
	if pos := d.Position(); pos < 0 || pos > 100 {
		t.Fatalf("Position %d escaped [0, 100]", pos)
	}
	if d.Wraps() != 4 {
		t.Errorf("Expected 4 wraps after 500 steps, got %d", d.Wraps())
	}
	if d.Position() != 96 {
		t.Errorf("Expected position 96, got %d", d.Position())
	}

	// Stepping below zero wraps to the wrap point.
	d.SetPosition(0)
	driveCCW(&d, 1)
	if d.Position() != 100 {
		t.Errorf("Expected wrap to 100, got %d", d.Position())
	}
	if d.Wraps() != -1 {
		t.Errorf("Expected wrap count -1, got %d", d.Wraps())
	}
}

func TestDecoderWrapDisabled(t *testing.T) {
	var d Decoder
	d.SetWrapPoint(0)

	driveCW(&d, 2000)
	if d.Position() != 2000 {
		t.Errorf("Expected unbounded position 2000, got %d", d.Position())
	}
	if d.Wraps() != 0 {
		t.Errorf("Expected wrap count to stay 0, got %d", d.Wraps())
	}

	driveCCW(&d, 4000)
	if d.Position() != -2000 {
		t.Errorf("Expected unbounded position -2000, got %d", d.Position())
	}
	if d.Wraps() != 0 {
		t.Errorf("Expected wrap count to stay 0, got %d", d.Wraps())
	}
}

func TestDecoderSetWrapPointClamps(t *testing.T) {
	var d Decoder
	d.SetWrapPoint(512)
	d.SetPosition(400)

	d.SetWrapPoint(100)
	if d.Position() != 100 {
		t.Errorf("Expected clamp to 100, got %d", d.Position())
	}

	d.SetPosition(-400)
	d.SetWrapPoint(100)
	if d.Position() != -100 {
		t.Errorf("Expected clamp to -100, got %d", d.Position())
	}

	// Unipolar clamps against zero instead of the negative bound.
	d.SetUnipolar(true)
	d.SetPosition(-50)
	d.SetWrapPoint(100)
	if d.Position() != 0 {
		t.Errorf("Expected clamp to 0 in unipolar mode, got %d", d.Position())
	}
}

func TestDecoderResetsClearWraps(t *testing.T) {
	var d Decoder
	d.SetWrapPoint(100)
	driveCW(&d, 150)
	if d.Wraps() == 0 {
		t.Fatal("Expected wraps to accumulate before reset")
	}

	d.SetUnipolar(false)
	if d.Wraps() != 0 {
		t.Errorf("Mode change should zero wraps, got %d", d.Wraps())
	}

	driveCW(&d, 150)
	d.SetPosition(5)
	if d.Wraps() != 0 {
		t.Errorf("SetPosition should zero wraps, got %d", d.Wraps())
	}

	driveCW(&d, 150)
	d.ResetWraps()
	if d.Wraps() != 0 {
		t.Errorf("ResetWraps should zero wraps, got %d", d.Wraps())
	}
}
