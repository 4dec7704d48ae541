package timer

// Band is the colour shown for the remaining time.
type Band string

const (
	BandGreen  Band = "#4caf50"
	BandYellow Band = "#ffc107"
	BandRed    Band = "#f44336"
)

// BandFor returns the colour band for the remaining seconds.
func BandFor(remaining int) Band {
	switch {
	case remaining >= 10:
		return BandGreen
	case remaining >= 5:
		return BandYellow
	default:
		return BandRed
	}
}

// Progress returns the remaining time as a percentage of ceiling.
func Progress(remaining, ceiling int) float64 {
	if ceiling <= 0 {
		return 0
	}
	if remaining < 0 {
		remaining = 0
	}
	return float64(remaining) / float64(ceiling) * 100
}
