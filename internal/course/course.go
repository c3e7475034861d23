package course

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aaron-iles/ultra-tracker/internal/geo"
)

// AidStationDef is a configured aid station: its marker title on the map and
// the mile mark at which the course reaches it.
type AidStationDef struct {
	Name     string
	MileMark float64
	Comments string
}

// Course is the race's physical model: the route plus the ordered arena of
// aid stations and legs. Built once at startup; elements are mutated in
// place on every fix but never added, removed, or reordered.
type Course struct {
	Route    *Route
	Elements []*Element
	Timezone *time.Location
}

// NewCourse extracts the named route from the map features, builds the route
// model, and assembles the alternating aid station / leg arena from the
// configured stations plus synthesized Start and Finish stations.
func NewCourse(features MapFeatures, routeName string, defs []AidStationDef, minFt, maxFt float64, ep ElevationProvider, tz *time.Location) (*Course, error) {
	var raw []geo.Point
	found := false
	for _, shape := range features.Shapes {
		if shape.Title == routeName {
			raw = shape.Points
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no shape called %q on map", ErrRouteNotFound, routeName)
	}

	rt, err := NewRoute(routeName, raw, minFt, maxFt, ep)
	if err != nil {
		return nil, err
	}

	if tz == nil {
		tz = time.UTC
	}
	c := &Course{Route: rt, Timezone: tz}
	if err := c.buildElements(features.Markers, defs); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Course) buildElements(markers []Marker, defs []AidStationDef) error {
	rt := c.Route

	stations := []*Element{
		newAidStation("Start", 0, rt.Elevations[0], ""),
		newAidStation("Finish", math.Round(rt.Length*10)/10, rt.Elevations[len(rt.Elevations)-1], ""),
	}
	for _, def := range defs {
		stations = append(stations, newAidStation(def.Name, def.MileMark, 0, def.Comments))
	}
	sort.SliceStable(stations, func(i, j int) bool {
		return stations[i].MileMark < stations[j].MileMark
	})

	markersByTitle := map[string]Marker{}
	for _, m := range markers {
		markersByTitle[m.Title] = m
	}
	for _, station := range stations[1 : len(stations)-1] {
		marker, ok := markersByTitle[station.Name]
		if !ok {
			return fmt.Errorf("%w: no marker called %q on map", ErrAidStationNotFound, station.Name)
		}
		station.GmapsURL = geo.GmapsURL(marker.Location)
	}
	stations[0].GmapsURL = geo.GmapsURL(rt.Start())
	stations[len(stations)-1].GmapsURL = geo.GmapsURL(rt.Finish())

	var legs []*Element
	prev := stations[0]
	prevGain, prevLoss := 0.0, 0.0
	for _, station := range stations[1:] {
		idx := rt.IndexAtMileMark(station.MileMark)
		station.Altitude = rt.Elevations[idx]
		legs = append(legs, newLeg(
			fmt.Sprintf("%s ➤ %s", prev.Name, station.Name),
			prev.MileMark,
			station.MileMark,
			rt.Gains[idx]-prevGain,
			rt.Losses[idx]-prevLoss,
		))
		prev = station
		prevGain = rt.Gains[idx]
		prevLoss = rt.Losses[idx]
	}

	// Stations precede legs in the combined slice, so the stable sort keeps
	// an aid station ahead of the leg that starts at the same mile mark.
	elements := append(append([]*Element{}, stations...), legs...)
	sort.SliceStable(elements, func(i, j int) bool {
		return elements[i].MileMark < elements[j].MileMark
	})
	for i, e := range elements {
		e.prev = i - 1
		e.next = i + 1
		if i == len(elements)-1 {
			e.next = -1
		}
	}
	c.Elements = elements
	return nil
}

func newAidStation(name string, mileMark, altitude float64, comments string) *Element {
	return &Element{
		Kind:        KindAidStation,
		Name:        name,
		DisplayName: fmt.Sprintf("%s (mile %v)", name, mileMark),
		MileMark:    mileMark,
		EndMileMark: mileMark,
		Altitude:    altitude,
		Comments:    comments,
		prev:        -1,
		next:        -1,
	}
}

func newLeg(name string, startMileMark, endMileMark, gain, loss float64) *Element {
	return &Element{
		Kind:        KindLeg,
		Name:        name,
		DisplayName: name,
		MileMark:    startMileMark,
		EndMileMark: endMileMark,
		Distance:    endMileMark - startMileMark,
		Gain:        gain,
		Loss:        loss,
		prev:        -1,
		next:        -1,
	}
}

// ElementState is the externally visible snapshot of one course element.
type ElementState struct {
	Kind               string    `json:"kind"`
	Name               string    `json:"name"`
	DisplayName        string    `json:"display_name"`
	MileMark           float64   `json:"mile_mark"`
	EndMileMark        float64   `json:"end_mile_mark"`
	IsPassed           bool      `json:"is_passed"`
	Altitude           float64   `json:"altitude,omitempty"`
	GmapsURL           string    `json:"gmaps_url,omitempty"`
	Distance           float64   `json:"distance,omitempty"`
	Gain               float64   `json:"gain,omitempty"`
	Loss               float64   `json:"loss,omitempty"`
	ArrivalTime        time.Time `json:"arrival_time"`
	DepartureTime      time.Time `json:"departure_time"`
	EstimatedArrival   time.Time `json:"estimated_arrival_time"`
	EstimatedDeparture time.Time `json:"estimated_departure_time"`
	EstimatedDuration  string    `json:"estimated_duration"`
}

// ElementStates returns a snapshot of every course element in order.
func (c *Course) ElementStates() []ElementState {
	states := make([]ElementState, len(c.Elements))
	for i, e := range c.Elements {
		states[i] = ElementState{
			Kind:               e.Kind.String(),
			Name:               e.Name,
			DisplayName:        e.DisplayName,
			MileMark:           e.MileMark,
			EndMileMark:        e.EndMileMark,
			IsPassed:           e.IsPassed,
			Altitude:           e.Altitude,
			GmapsURL:           e.GmapsURL,
			Distance:           e.Distance,
			Gain:               e.Gain,
			Loss:               e.Loss,
			ArrivalTime:        c.ArrivalTime(i),
			DepartureTime:      c.DepartureTime(i),
			EstimatedArrival:   c.EstimatedArrivalTime(i),
			EstimatedDeparture: c.EstimatedDepartureTime(i),
			EstimatedDuration:  e.EstimatedDuration.String(),
		}
	}
	return states
}

// AidStationAnnotations returns name/x/y tuples for the intermediate aid
// stations, used to annotate the elevation chart.
func (c *Course) AidStationAnnotations() []map[string]any {
	indices := c.AidStationIndices()
	var annotations []map[string]any
	for _, i := range indices[1 : len(indices)-1] {
		e := c.Elements[i]
		annotations = append(annotations, map[string]any{
			"name": e.Name,
			"x":    e.MileMark,
			"y":    e.Altitude,
		})
	}
	return annotations
}
