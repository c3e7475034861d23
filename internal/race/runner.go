package race

import (
	"log"
	"time"

	"github.com/aaron-iles/ultra-tracker/internal/course"
	"github.com/aaron-iles/ultra-tracker/internal/geo"
)

// startedThresholdMiles is how far down the course the runner must be before
// the race counts as started; the same tolerance decides the finish.
const startedThresholdMiles = 0.11

// Runner holds the mutable per-runner state. It is mutated only by CheckIn,
// which the Race serializes, so no internal locking is needed.
type Runner struct {
	MileMark      float64
	Elevation     float64
	CurrentPace   float64 // minutes per mile, from the tracker speed
	LastPing      Ping
	EstimatePoint geo.Point // route point the mile mark resolved to
	Pings         int
	LowBattery    bool
	TrackInterval int // seconds between tracker reports

	course        *course.Course
	startTime     time.Time
	paceFloorMin  float64 // fastest plausible pace in minutes per mile
	markerUpdater MarkerUpdater
	markerUpdates bool
}

// NewRunner creates the runner for a race. paceFloorMin is the fastest pace
// (minutes per mile) considered physically plausible between two fixes;
// computed mile marks implying a faster pace are discarded.
func NewRunner(c *course.Course, startTime time.Time, paceFloorMin float64) *Runner {
	if paceFloorMin <= 0 {
		paceFloorMin = 4.0
	}
	return &Runner{
		CurrentPace:   10,
		TrackInterval: 300,
		course:        c,
		startTime:     startTime,
		paceFloorMin:  paceFloorMin,
	}
}

// SetMarkerUpdater wires the optional map-marker boundary.
func (r *Runner) SetMarkerUpdater(mu MarkerUpdater, enabled bool) {
	r.markerUpdater = mu
	r.markerUpdates = enabled
}

// CurrentMileMark implements course.RunnerView.
func (r *Runner) CurrentMileMark() float64 { return r.MileMark }

// RaceStartTime implements course.RunnerView.
func (r *Runner) RaceStartTime() time.Time { return r.startTime }

// LastFixTime implements course.RunnerView.
func (r *Runner) LastFixTime() time.Time { return r.LastPing.Timestamp }

// HasStarted reports whether the runner has progressed past the start
// tolerance.
func (r *Runner) HasStarted() bool {
	return r.MileMark > startedThresholdMiles
}

// HasFinished reports whether the runner is within the finish tolerance of
// the end of the route.
func (r *Runner) HasFinished() bool {
	if !r.HasStarted() {
		return false
	}
	diff := r.course.Route.Length - r.MileMark
	if diff < 0 {
		diff = -diff
	}
	return diff < startedThresholdMiles
}

// InProgress reports whether the runner is on the course.
func (r *Runner) InProgress() bool {
	return r.HasStarted() && !r.HasFinished()
}

// ElapsedTime is the race clock at the last accepted fix.
func (r *Runner) ElapsedTime() time.Duration {
	if !r.HasStarted() {
		return 0
	}
	return r.LastPing.Timestamp.Sub(r.startTime)
}

// StoppageTime is the total time observed stopped at aid stations.
func (r *Runner) StoppageTime() time.Duration {
	return r.course.TotalStoppageTime()
}

// MovingTime is elapsed time excluding aid station stops.
func (r *Runner) MovingTime() time.Duration {
	return r.ElapsedTime() - r.StoppageTime()
}

// AverageOverallPace is minutes per mile including stops. Before the start
// it falls back to a nominal 10 min/mi.
func (r *Runner) AverageOverallPace() float64 {
	if !r.HasStarted() {
		return 10.0
	}
	return r.ElapsedTime().Minutes() / r.MileMark
}

// AverageMovingPace implements course.RunnerView: minutes per mile excluding
// stops.
func (r *Runner) AverageMovingPace() float64 {
	if !r.HasStarted() {
		return 10.0
	}
	return r.MovingTime().Minutes() / r.MileMark
}

// AverageStoppageTime implements course.RunnerView: mean stop duration over
// the aid stations passed so far.
func (r *Runner) AverageStoppageTime() time.Duration {
	stops := r.course.PassedAidStations()
	if stops == 0 {
		return 0
	}
	return r.StoppageTime() / time.Duration(stops)
}

// EstimatedFinishTime is the projected total race duration.
func (r *Runner) EstimatedFinishTime() time.Duration {
	if !r.HasStarted() {
		return 0
	}
	finishIdx := len(r.course.Elements) - 1
	return r.course.EstimatedArrivalTime(finishIdx).Sub(r.startTime)
}

// EstimatedFinishDate is the projected wall-clock finish.
func (r *Runner) EstimatedFinishDate() time.Time {
	if !r.HasStarted() {
		return time.Time{}
	}
	return r.startTime.Add(r.EstimatedFinishTime())
}

// CourseDeviation is the distance in feet between the raw fix and the point
// on the route the mile mark resolved to.
func (r *Runner) CourseDeviation() float64 {
	return geo.HaversineFeet(r.LastPing.LatLon(), r.EstimatePoint)
}

// CheckIn folds a new ping into the runner state: mile mark, elevation,
// pace, and the course element state machine. The pace used for mile-mark
// disambiguation is the one computed from the previous state, never the
// post-update pace.
func (r *Runner) CheckIn(ping Ping) {
	lastTimestamp := r.LastPing.Timestamp
	r.Pings++
	r.LowBattery = ping.LowBattery
	if ping.IntervalChange != 0 {
		r.TrackInterval = ping.IntervalChange
	}

	if lastTimestamp.After(ping.Timestamp) {
		log.Printf("incoming timestamp %s older than last timestamp %s", ping.Timestamp, lastTimestamp)
		return
	}

	lastOverallPace := r.AverageOverallPace()
	r.LastPing = ping
	r.CurrentPace = geo.KphToMinPerMile(ping.Speed)

	lastMileMark := r.MileMark
	// The race clock only runs once the runner is on course; pre-start
	// loitering must not inflate the expected distance used by the
	// mile-mark disambiguation.
	elapsedMinutes := 0.0
	if r.HasStarted() {
		elapsedMinutes = ping.Timestamp.Sub(r.startTime).Minutes()
	}
	mileMark, point, elevation := estimateLocation(r.course.Route, ping.LatLon(), elapsedMinutes, lastOverallPace)

	if r.plausible(mileMark, lastMileMark, lastTimestamp, ping.Timestamp) {
		if mileMark-lastMileMark < -0.1 {
			log.Printf("runner has moved backward from %v to %v", lastMileMark, mileMark)
		}
		r.MileMark = mileMark
		r.Elevation = elevation
		r.EstimatePoint = point
	}

	if !r.HasStarted() {
		log.Printf("race not in progress; started: %v finished: %v", r.HasStarted(), r.HasFinished())
		return
	}

	// The fix that ends the race still flows through the element state
	// machine so everything behind the finish line gets marked passed; only
	// marker updates stop.
	if r.InProgress() && r.markerUpdates && r.markerUpdater != nil {
		r.markerUpdater.UpdateRunnerMarkers(ping.LatLon(), r.EstimatePoint, ping.Heading)
	}
	log.Printf("runner %.2f mi @ %.2f min/mi (%s elapsed)", r.MileMark, r.AverageOverallPace(), r.ElapsedTime())
	r.course.UpdateElements(r)
}

// plausible rejects a mile-mark advance that would imply a pace faster than
// the configured floor between consecutive fixes; such a reading is a
// localization error and the previous mile mark is kept.
func (r *Runner) plausible(mileMark, lastMileMark float64, lastTimestamp, current time.Time) bool {
	delta := mileMark - lastMileMark
	if delta <= 0 || lastTimestamp.IsZero() {
		return true
	}
	impliedPace := current.Sub(lastTimestamp).Minutes() / delta
	if impliedPace < r.paceFloorMin {
		log.Printf("discarding mile mark %v: implies %.2f min/mi from %v (floor %.2f)",
			mileMark, impliedPace, lastMileMark, r.paceFloorMin)
		return false
	}
	return true
}
