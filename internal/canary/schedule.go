package canary

// CapitalPct is the scheduled capital percentage for a 1-based day count.
// Days before the first step get the first step's percentage.
func CapitalPct(steps []RampStep, day int) float64 {
	if len(steps) == 0 {
		return 0
	}
	pct := steps[0].Pct
	for _, s := range steps {
		if day >= s.FromDay {
			pct = s.Pct
		}
	}
	return pct
}
