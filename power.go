package pwrmeter

import (
	"fmt"
	"math"
)

// PowerModel holds the last measured power and the operator attenuation offset.
type PowerModel struct {
	lastDbm       float64
	attenuationDb float64
	hasReading    bool
}

// SetMeasured stores a power reading in dBm.
func (p *PowerModel) SetMeasured(dbm float64) {
	p.lastDbm = dbm
	p.hasReading = true
}

// Measured returns the last reading and whether one was received.
func (p *PowerModel) Measured() (float64, bool) {
	return p.lastDbm, p.hasReading
}

// SetAttenuation sets the offset added to every reading.
func (p *PowerModel) SetAttenuation(db float64) {
	p.attenuationDb = db
}

// Attenuation returns the offset in dB.
func (p *PowerModel) Attenuation() float64 {
	return p.attenuationDb
}

// FinalDbm returns the measured power corrected by the attenuation.
func (p *PowerModel) FinalDbm() float64 {
	return p.lastDbm + p.attenuationDb
}

// Watts returns FinalDbm converted to watts.
func (p *PowerModel) Watts() float64 {
	return DbmToWatts(p.FinalDbm())
}

// Reset forgets the last reading. The attenuation is an operator setting and is kept.
func (p *PowerModel) Reset() {
	p.lastDbm = 0
	p.hasReading = false
}

// Reading returns the display values. Without a reading and while not
// measuring the texts are placeholders, so that a true 0 dBm reading stays
// distinguishable from no data.
func (p *PowerModel) Reading(measuring bool) PowerReading {
	if !p.hasReading && !measuring {
		return PowerReading{DbmText: "- dBm", WattText: "- W"}
	}
	dbm := p.FinalDbm()
	w := DbmToWatts(dbm)
	return PowerReading{
		Valid:    true,
		Dbm:      dbm,
		Watts:    w,
		DbmText:  FormatDbm(dbm),
		WattText: FormatWatts(w),
	}
}

// PowerReading is a displayable power value.
type PowerReading struct {
	Valid    bool
	Dbm      float64
	Watts    float64
	DbmText  string
	WattText string
}

func (r PowerReading) String() string {
	return r.DbmText + " (" + r.WattText + ")"
}

// DbmToWatts converts a level in dBm to watts.
func DbmToWatts(dbm float64) float64 {
	return math.Pow(10, dbm/10) / 1000
}

// FormatDbm formats a level with two decimals.
func FormatDbm(dbm float64) string {
	return fmt.Sprintf("%.2f dBm", dbm)
}

var wattUnits = []struct {
	min    float64
	scale  float64
	prec   int
	suffix string
}{
	{1000, 1e-3, 2, "kW"},
	{1, 1, 2, "W"},
	{1e-3, 1e3, 3, "mW"},
	{1e-6, 1e6, 3, "µW"},
	{1e-9, 1e9, 3, "nW"},
	{1e-12, 1e12, 3, "pW"},
	{1e-15, 1e15, 3, "fW"},
}

// FormatWatts formats a power in the largest unit not exceeding it, from
// kilowatts down to femtowatts. Smaller values use scientific notation.
func FormatWatts(w float64) string {
	for _, u := range wattUnits {
		if w >= u.min {
			return fmt.Sprintf("%.*f %s", u.prec, w*u.scale, u.suffix)
		}
	}
	return fmt.Sprintf("%.3e W", w)
}
