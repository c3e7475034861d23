package race

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/aaron-iles/ultra-tracker/internal/course"
	"github.com/aaron-iles/ultra-tracker/internal/geo"
)

// MarkerUpdater pushes the runner's true and estimated positions to an
// external map. Implementations must be fire-and-forget: failures are theirs
// to log, never to surface.
type MarkerUpdater interface {
	UpdateRunnerMarkers(actual, estimated geo.Point, heading float64)
}

// Broadcaster fans a runner update out to live listeners.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// Race orchestrates a single runner over a single course. Check-ins are
// serialized: one fix is fully folded into state before its side effects are
// dispatched and before the next fix is considered.
type Race struct {
	Name      string
	Course    *course.Course
	Runner    *Runner
	StartTime time.Time
	MapURL    string

	mu          sync.Mutex
	store       Store
	broadcaster Broadcaster
	lastPingRaw json.RawMessage
}

// NewRace wires the orchestration layer. store and broadcaster may be nil.
func NewRace(name string, c *course.Course, startTime time.Time, runner *Runner, store Store, broadcaster Broadcaster, mapURL string) *Race {
	return &Race{
		Name:        name,
		Course:      c,
		Runner:      runner,
		StartTime:   startTime,
		MapURL:      mapURL,
		store:       store,
		broadcaster: broadcaster,
	}
}

// IngestPing is the ingestion entry point: it parses a raw tracker payload
// and folds it into the race. Every per-fix problem is absorbed here; the
// stream must stay available for the next fix no matter what this one held.
func (ra *Race) IngestPing(raw []byte) {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	ping, err := ParsePing(raw, ra.Course.Timezone)
	if err != nil {
		log.Printf("dropping unparseable ping: %v", err)
		return
	}
	ra.lastPingRaw = append(json.RawMessage(nil), raw...)
	log.Printf("%s", ping)

	if !ping.HasFix() {
		log.Printf("ping does not contain GPS coordinates, skipping")
		ra.Runner.Pings++
		return
	}
	if ping.Timestamp.Before(ra.StartTime) {
		log.Printf("incoming timestamp %s before race start time %s", ping.Timestamp, ra.StartTime)
		ra.Runner.Pings++
		return
	}
	if ra.Runner.HasFinished() {
		log.Printf("runner already finished; ignoring ping")
		return
	}

	ra.Runner.CheckIn(ping)
	ra.persist()
	ra.publishUpdate()
}

// Checkpoint persists the current state outside the ping path, so a quiet
// course still gets periodic snapshots. Nothing is written until the first
// ping has arrived; there is no state worth restoring before that.
func (ra *Race) Checkpoint() {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	if ra.lastPingRaw == nil {
		return
	}
	ra.persist()
}

func (ra *Race) persist() {
	if ra.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ra.store.Save(ctx, ra.snapshot()); err != nil {
		log.Printf("state save failed: %v", err)
	}
}

func (ra *Race) publishUpdate() {
	if ra.broadcaster == nil {
		return
	}
	payload, err := json.Marshal(ra.statsLocked())
	if err != nil {
		log.Printf("stats marshal failed: %v", err)
		return
	}
	ra.broadcaster.Broadcast(ra.Name, payload)
}

func (ra *Race) snapshot() Snapshot {
	var aidStations []AidStationTimes
	for _, i := range ra.Course.AidStationIndices() {
		aidStations = append(aidStations, AidStationTimes{
			Name:          ra.Course.Elements[i].Name,
			ArrivalTime:   ra.Course.ArrivalTime(i),
			DepartureTime: ra.Course.DepartureTime(i),
		})
	}
	return Snapshot{
		RaceName:    ra.Name,
		MileMark:    ra.Runner.MileMark,
		Pings:       ra.Runner.Pings,
		LastPing:    ra.lastPingRaw,
		AidStations: aidStations,
	}
}

// Restore rebuilds runner and course element state from the persistence
// boundary, then replays the stored last ping through check-in so passed
// flags and ETAs are re-derived before any new fix is accepted. A missing
// snapshot initializes a fresh race.
func (ra *Race) Restore(ctx context.Context) error {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	if ra.store == nil {
		ra.Runner.Elevation = ra.Course.Route.Elevations[0]
		return nil
	}
	snap, found, err := ra.store.Restore(ctx, ra.Name)
	if err != nil {
		return err
	}
	if !found {
		ra.Runner.Elevation = ra.Course.Route.Elevations[0]
		return nil
	}

	ping, err := ParsePing(snap.LastPing, ra.Course.Timezone)
	if err != nil {
		return err
	}
	// A snapshot whose last ping carries no GPS fix has no position to
	// replay; treat it like a fresh race with the counter carried over.
	if !ping.HasFix() {
		ra.Runner.Pings = snap.Pings
		ra.Runner.Elevation = ra.Course.Route.Elevations[0]
		return nil
	}

	ra.Runner.MileMark = snap.MileMark
	// Subtract 1 because the stored last ping is about to check in again.
	ra.Runner.Pings = snap.Pings - 1
	ra.Runner.LastPing = ping
	ra.lastPingRaw = snap.LastPing

	aidIndices := ra.Course.AidStationIndices()
	for i, station := range snap.AidStations {
		if i >= len(aidIndices) {
			break
		}
		ra.Course.RestoreAidTimes(aidIndices[i], station.ArrivalTime, station.DepartureTime)
	}

	ra.Runner.CheckIn(ping)
	log.Printf("restore success: %s", ra.Runner.LastPing)
	return nil
}

// Stats is the externally reported view of the race.
type Stats struct {
	RaceName           string                `json:"race_name"`
	Distances          []float64             `json:"distances"`
	Elevations         []float64             `json:"elevations"`
	RunnerMileMark     float64               `json:"mile_mark"`
	RunnerElevation    float64               `json:"runner_elevation"`
	AverageOverallPace string                `json:"average_overall_pace"`
	AverageMovingPace  string                `json:"average_moving_pace"`
	CurrentPace        string                `json:"current_pace"`
	Altitude           string                `json:"altitude"`
	ElapsedTime        string                `json:"elapsed_time"`
	StoppageTime       string                `json:"stoppage_time"`
	MovingTime         string                `json:"moving_time"`
	LastUpdate         time.Time             `json:"last_update"`
	EstFinishDate      time.Time             `json:"est_finish_date"`
	EstFinishTime      string                `json:"est_finish_time"`
	StartTime          time.Time             `json:"start_time"`
	MapURL             string                `json:"map_url"`
	CourseElements     []course.ElementState `json:"course_elements"`
	AidAnnotations     []map[string]any      `json:"aid_station_annotations"`
	CourseDeviation    string                `json:"course_deviation"`
	Pings              int                   `json:"pings"`
	TrackInterval      int                   `json:"track_interval"`
	LowBattery         bool                  `json:"low_battery"`
	CourseLength       float64               `json:"course_length"`
	CourseGain         float64               `json:"course_gain"`
	CourseLoss         float64               `json:"course_loss"`
}

// Stats returns a consistent snapshot of race and runner state.
func (ra *Race) Stats() Stats {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	return ra.statsLocked()
}

func (ra *Race) statsLocked() Stats {
	r := ra.Runner
	return Stats{
		RaceName:           ra.Name,
		Distances:          ra.Course.Route.Distances,
		Elevations:         ra.Course.Route.Elevations,
		RunnerMileMark:     round2(r.MileMark),
		RunnerElevation:    r.Elevation,
		AverageOverallPace: formatPace(r.AverageOverallPace()),
		AverageMovingPace:  formatPace(r.AverageMovingPace()),
		CurrentPace:        formatPace(r.CurrentPace),
		Altitude:           formatDistance(r.LastPing.Altitude, true),
		ElapsedTime:        formatDuration(r.ElapsedTime()),
		StoppageTime:       formatDuration(r.StoppageTime()),
		MovingTime:         formatDuration(r.MovingTime()),
		LastUpdate:         r.LastPing.Timestamp,
		EstFinishDate:      r.EstimatedFinishDate(),
		EstFinishTime:      formatDuration(r.EstimatedFinishTime()),
		StartTime:          ra.StartTime,
		MapURL:             ra.MapURL,
		CourseElements:     ra.Course.ElementStates(),
		AidAnnotations:     ra.Course.AidStationAnnotations(),
		CourseDeviation:    formatDistance(r.CourseDeviation(), false),
		Pings:              r.Pings,
		TrackInterval:      r.TrackInterval,
		LowBattery:         r.LowBattery,
		CourseLength:       ra.Course.Route.Length,
		CourseGain:         ra.Course.Route.Gain(),
		CourseLoss:         ra.Course.Route.Loss(),
	}
}
