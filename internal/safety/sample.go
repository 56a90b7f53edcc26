package safety

// SampleSize is the number of observations kept by a RollingSample.
const SampleSize = 6

// RollingSample keeps the most recent observations of a signal and their
// extremes. Unfilled slots count as zero.
type RollingSample struct {
	values [SampleSize]int
	Min    int
	Max    int
}

// Update pushes a new observation and recomputes Min and Max.
func (s *RollingSample) Update(v int) {
	copy(s.values[1:], s.values[:SampleSize-1])
	s.values[0] = v

	s.Min, s.Max = s.values[0], s.values[0]
	for _, x := range s.values[1:] {
		if x < s.Min {
			s.Min = x
		}
		if x > s.Max {
			s.Max = x
		}
	}
}

// Values returns the window, newest first.
func (s *RollingSample) Values() [SampleSize]int {
	return s.values
}

// Reset zeroes the window.
func (s *RollingSample) Reset() {
	*s = RollingSample{}
}
