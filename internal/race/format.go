package race

import (
	"fmt"
	"math"
	"time"

	"github.com/aaron-iles/ultra-tracker/internal/geo"
)

// formatDuration renders a duration as H:MM'SS".
func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%d:%02d'%02d\"", hours, minutes, seconds)
}

// formatPace renders a decimal minutes-per-mile pace as mm'ss".
func formatPace(minPerMile float64) string {
	total := int(minPerMile * 60)
	return fmt.Sprintf("%d'%02d\"", total/60, total%60)
}

// formatDistance renders feet, switching to miles above one mile unless
// forceFeet is set.
func formatDistance(feet float64, forceFeet bool) string {
	if feet >= geo.FeetPerMile && !forceFeet {
		return fmt.Sprintf("%.1f mi", feet/geo.FeetPerMile)
	}
	return fmt.Sprintf("%.1f ft", feet)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
