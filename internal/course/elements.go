package course

import (
	"log"
	"time"
)

// Kind discriminates the two course element variants.
type Kind int

const (
	KindAidStation Kind = iota
	KindLeg
)

func (k Kind) String() string {
	if k == KindAidStation {
		return "aid_station"
	}
	return "leg"
}

// Element is a single entry in the course arena: either an aid station
// (point-like, MileMark == EndMileMark) or a leg (the interval between two
// adjacent aid stations). Neighbours are addressed by arena index rather
// than pointer so the element graph stays acyclic.
type Element struct {
	Kind        Kind
	Name        string
	DisplayName string
	MileMark    float64
	EndMileMark float64
	IsPassed    bool

	// Aid station fields. Zero times mean "not yet observed".
	Altitude           float64
	Comments           string
	GmapsURL           string
	arrival            time.Time
	departure          time.Time
	estimatedArrival   time.Time
	estimatedDeparture time.Time

	// Leg fields.
	Distance          float64
	Gain              float64
	Loss              float64
	EstimatedDuration time.Duration

	prev, next int
}

// RunnerView is the read-only view of the runner the state machine needs.
type RunnerView interface {
	CurrentMileMark() float64
	HasStarted() bool
	HasFinished() bool
	LastFixTime() time.Time
	AverageMovingPace() float64 // minutes per mile
	AverageStoppageTime() time.Duration
	RaceStartTime() time.Time
}

// runnerHasArrived reports whether the runner has reached the element. An
// aid station counts as reached within 0.11 miles of (or past) its mark; a
// leg only once the runner is more than 0.11 miles into it.
func (e *Element) runnerHasArrived(r RunnerView) bool {
	if e.Kind == KindAidStation {
		return r.CurrentMileMark()-e.MileMark >= -0.11
	}
	return r.CurrentMileMark()-e.MileMark > 0.11
}

// runnerHasDeparted reports whether the runner has left the element behind.
// An aid station is departed once the runner is more than 0.11 miles past
// it; a leg once the runner is within 0.11 miles of its end.
func (e *Element) runnerHasDeparted(r RunnerView) bool {
	if e.Kind == KindAidStation {
		return r.CurrentMileMark()-e.EndMileMark > 0.11
	}
	return e.EndMileMark-r.CurrentMileMark() <= 0.11
}

// ArrivalTime is the observed arrival at element i. For a leg this is the
// departure from the aid station that precedes it.
func (c *Course) ArrivalTime(i int) time.Time {
	e := c.Elements[i]
	if e.Kind == KindLeg && e.prev >= 0 {
		return c.Elements[e.prev].departure
	}
	return e.arrival
}

// DepartureTime is the observed departure from element i. For a leg this is
// the arrival at the aid station that follows it.
func (c *Course) DepartureTime(i int) time.Time {
	e := c.Elements[i]
	if e.Kind == KindLeg && e.next >= 0 {
		return c.Elements[e.next].arrival
	}
	return e.departure
}

// EstimatedArrivalTime is the projected arrival at element i.
func (c *Course) EstimatedArrivalTime(i int) time.Time {
	e := c.Elements[i]
	if e.Kind == KindLeg && e.prev >= 0 {
		return c.Elements[e.prev].estimatedDeparture
	}
	return e.estimatedArrival
}

// EstimatedDepartureTime is the projected departure from element i.
func (c *Course) EstimatedDepartureTime(i int) time.Time {
	e := c.Elements[i]
	if e.Kind == KindLeg && e.next >= 0 {
		return c.Elements[e.next].estimatedArrival
	}
	return e.estimatedDeparture
}

// TransitTime is the observed time spent on or at element i, zero until both
// boundary times have been observed.
func (c *Course) TransitTime(i int) time.Duration {
	arrival := c.ArrivalTime(i)
	departure := c.DepartureTime(i)
	if arrival.IsZero() || departure.IsZero() {
		return 0
	}
	return departure.Sub(arrival)
}

// isTransiting reports whether the runner is currently between the arrival
// and departure boundaries of element i.
func (c *Course) isTransiting(i int, r RunnerView) bool {
	if r.HasFinished() || !r.HasStarted() {
		return false
	}
	e := c.Elements[i]
	return e.runnerHasArrived(r) && !e.runnerHasDeparted(r)
}

// estimateTransitTime projects how long the runner will spend on element i:
// one average stop for an aid station, distance at moving pace for a leg.
func (c *Course) estimateTransitTime(i int, r RunnerView) time.Duration {
	e := c.Elements[i]
	if e.Kind == KindAidStation {
		return r.AverageStoppageTime()
	}
	return minutesToDuration(e.Distance * r.AverageMovingPace())
}

// refresh updates the passed flag and estimated duration of element i from
// the runner's latest position.
func (c *Course) refresh(i int, r RunnerView) {
	e := c.Elements[i]
	if r.HasFinished() {
		e.IsPassed = true
		return
	}
	// The start line is pinned to the race clock rather than detected.
	if e.MileMark == 0 && e.Kind == KindAidStation {
		e.estimatedArrival = r.RaceStartTime()
		e.IsPassed = r.HasStarted()
		e.arrival = r.RaceStartTime()
		e.departure = r.RaceStartTime()
		return
	}
	if e.runnerHasDeparted(r) {
		e.IsPassed = true
		e.EstimatedDuration = c.TransitTime(i)
		return
	}
	e.EstimatedDuration = c.estimateTransitTime(i, r)
}

// detectArrivalTime records the aid station arrival exactly once: either the
// runner is transiting it now, or a data gap put them past it and the
// then-current estimate is backfilled.
func (c *Course) detectArrivalTime(i int, r RunnerView) {
	e := c.Elements[i]
	if !e.arrival.IsZero() {
		return
	}
	if c.isTransiting(i, r) || (e.runnerHasArrived(r) && e.runnerHasDeparted(r)) {
		e.arrival = e.estimatedArrival
		log.Printf("runner entered %s at %s", e.DisplayName, e.arrival)
	}
}

// detectDepartureTime records the aid station departure exactly once,
// backdating it by the estimated travel time since the station.
func (c *Course) detectDepartureTime(i int, r RunnerView) {
	e := c.Elements[i]
	if !e.departure.IsZero() {
		return
	}
	if !c.isTransiting(i, r) && e.runnerHasDeparted(r) {
		distTraveled := r.CurrentMileMark() - e.MileMark
		approxTravel := minutesToDuration(distTraveled * r.AverageMovingPace())
		e.departure = r.LastFixTime().Add(-approxTravel)
		log.Printf("runner departed %s at %s", e.DisplayName, e.departure)
	}
}

// UpdateElements runs the state machine over every course element with the
// runner's latest state. Aid station arrivals/departures imply the boundary
// times of the surrounding legs, so only stations are detected. ETAs for
// unreached stations include one average stop for each preceding unvisited
// aid station.
func (c *Course) UpdateElements(r RunnerView) {
	precedingAids := 0
	for i, e := range c.Elements {
		c.refresh(i, r)
		if e.Kind == KindAidStation {
			c.detectArrivalTime(i, r)
			c.detectDepartureTime(i, r)

			if !e.runnerHasArrived(r) {
				milesToStation := e.MileMark - r.CurrentMileMark()
				movingTime := minutesToDuration(milesToStation * r.AverageMovingPace())
				stoppingTime := time.Duration(precedingAids) * r.AverageStoppageTime()
				e.estimatedArrival = r.LastFixTime().Add(movingTime + stoppingTime)
			}
			if !e.runnerHasDeparted(r) {
				e.estimatedDeparture = e.estimatedArrival.Add(c.estimateTransitTime(i, r))
			}
		}
		if e.Kind == KindAidStation && e.Name != "Start" && !e.IsPassed {
			precedingAids++
		}
	}
}

// RestoreAidTimes reapplies persisted boundary times to the aid station at
// arena index i, keeping estimates consistent with the observations.
func (c *Course) RestoreAidTimes(i int, arrival, departure time.Time) {
	e := c.Elements[i]
	e.arrival = arrival
	e.estimatedArrival = arrival
	e.departure = departure
	e.estimatedDeparture = departure
}

// AidStationIndices returns the arena indices of all aid stations in course
// order.
func (c *Course) AidStationIndices() []int {
	var indices []int
	for i, e := range c.Elements {
		if e.Kind == KindAidStation {
			indices = append(indices, i)
		}
	}
	return indices
}

// TotalStoppageTime sums the observed transit time of every aid station.
func (c *Course) TotalStoppageTime() time.Duration {
	var total time.Duration
	for i, e := range c.Elements {
		if e.Kind == KindAidStation {
			total += c.TransitTime(i)
		}
	}
	return total
}

// PassedAidStations counts aid stations the runner has already passed.
func (c *Course) PassedAidStations() int {
	count := 0
	for _, e := range c.Elements {
		if e.Kind == KindAidStation && e.IsPassed {
			count++
		}
	}
	return count
}

func minutesToDuration(minutes float64) time.Duration {
	return time.Duration(minutes * float64(time.Minute))
}
