package core

// MaxThresholds is the size of the programmable threshold set.
const MaxThresholds = 8

// ThresholdSet holds the programmed threshold values and their
// enabled/latched flags. The set is only ever replaced whole by Program;
// individual flags drop when a crossing latches and come back through
// the enable operations. Owned by the module loop, no locking.
type ThresholdSet struct {
	Count   int
	Value   [MaxThresholds]int16
	Enabled [MaxThresholds]bool
}

// Program replaces the whole set and enables every new threshold. Returns
// false, leaving the previous set untouched, when values exceeds the
// maximum.
func (t *ThresholdSet) Program(values []int16) bool {
	if len(values) > MaxThresholds {
		return false
	}
	t.Count = len(values)
	for i := range t.Value {
		if i < len(values) {
			t.Value[i] = values[i]
			t.Enabled[i] = true
		} else {
			t.Value[i] = 0
			t.Enabled[i] = false
		}
	}
	return true
}

// EnableMask sets each threshold's enabled flag from the corresponding
// bit of mask.
func (t *ThresholdSet) EnableMask(mask byte) {
	for i := 0; i < t.Count; i++ {
		t.Enabled[i] = mask&(1<<i) != 0
	}
}

// EnableAll re-arms every programmed threshold.
func (t *ThresholdSet) EnableAll() {
	for i := 0; i < t.Count; i++ {
		t.Enabled[i] = true
	}
}

// Detect scans a drained batch against the enabled thresholds. A negative
// threshold crosses on a sample position <= its value, a non-negative one
// on a position >= its value. The first crossing latches the threshold off
// and reports it through fire with the crossing sample; each threshold
// fires at most once per enable cycle, in threshold-index order.
//
// Callers gate Detect on event transmission being enabled and the wrap
// count being zero; crossings are undefined once the position has
// wrapped.
func (t *ThresholdSet) Detect(batch []Sample, fire func(index int, s Sample)) {
	for i := 0; i < t.Count; i++ {
		if !t.Enabled[i] {
			continue
		}
		v := t.Value[i]
		for _, s := range batch {
			crossed := s.Position >= v
			if v < 0 {
				crossed = s.Position <= v
			}
			if crossed {
				t.Enabled[i] = false
				fire(i, s)
				break
			}
		}
	}
}
