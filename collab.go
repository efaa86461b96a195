package pwrmeter

// AttenuationSource is a frequency to S21 table.
type AttenuationSource interface {
	// Len returns the number of samples.
	Len() int
	// AverageInRange returns the mean S21 in dB of the samples whose frequency
	// lies in [startHz, endHz], and false when there is none.
	AverageInRange(startHz, endHz float64) (float64, bool)
}

// PresetSource is a store of named frequency ranges.
type PresetSource interface {
	// Lookup returns the range of the named preset in MHz.
	Lookup(name string) (startMHz, endMHz float64, ok bool)
}

// AttenuationForRange returns the attenuation over [startMHz, endMHz]. S21 is
// an insertion loss, so the attenuation is the negated average.
func AttenuationForRange(src AttenuationSource, startMHz, endMHz float64) (float64, bool) {
	avg, ok := src.AverageInRange(startMHz*1e6, endMHz*1e6)
	if !ok {
		return 0, false
	}
	return -avg, true
}
