package caret

// smoothing factor for the exponentially weighted typing gauges
const smoothingAlpha = 0.2

// characters per word used for WPM
const charsPerWord = 5

func ewma(prev, sample float64) float64 {
	if prev <= 0 {
		prev = sample
	}
	return prev + smoothingAlpha*(sample-prev)
}

// observeInterval folds one inter-key interval dt (ms) into the typing gauges.
func (s *Stats) observeInterval(dt float64, shortPauseMS uint64) {
	s.AvgInterKeyMS = ewma(s.AvgInterKeyMS, dt)

	var cps float64
	if dt > 0 {
		cps = 1000 / dt
	}
	s.EPSSmoothed = ewma(s.EPSSmoothed, cps)
	s.WPMSmoothed = s.EPSSmoothed * 60 / charsPerWord

	if dt <= float64(shortPauseMS) {
		if s.BurstLenCurrent < ^uint32(0) {
			s.BurstLenCurrent++
		}
		s.BurstLenMax = max(s.BurstLenMax, s.BurstLenCurrent)
	} else {
		s.BurstLenCurrent = 1
	}
}
