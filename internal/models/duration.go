package models

import (
	"math"
	"time"
)

// ElapsedMinutes is the time between start and end in whole minutes,
// rounded half up. Negative spans count as zero. Downtime and work logs
// share this rounding.
func ElapsedMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(math.Floor(d.Minutes() + 0.5))
}
