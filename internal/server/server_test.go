package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aaron-iles/ultra-tracker/internal/config"
	"github.com/aaron-iles/ultra-tracker/internal/course"
	"github.com/aaron-iles/ultra-tracker/internal/geo"
	"github.com/aaron-iles/ultra-tracker/internal/race"
	"github.com/aaron-iles/ultra-tracker/internal/stream"
)

type flatElevations struct{}

func (flatElevations) Elevations(points []geo.Point) ([]float64, error) {
	elevs := make([]float64, len(points))
	for i := range elevs {
		elevs[i] = 1000
	}
	return elevs, nil
}

func newTestRace(t *testing.T) *race.Race {
	t.Helper()
	raw := make([]geo.Point, 60)
	for i := range raw {
		raw[i] = geo.Point{Lat: 39.0 + float64(i)*0.000137, Lon: -76.0}
	}
	features := course.MapFeatures{
		Shapes: []course.Shape{{ID: "route-1", Title: "Route", Points: raw}},
	}

	c, err := course.NewCourse(features, "Route", nil, 5, 75, flatElevations{}, time.UTC)
	if err != nil {
		t.Fatalf("course build: %v", err)
	}
	start := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	runner := race.NewRunner(c, start, 4.0)
	return race.NewRace("test-race", c, start, runner, nil, nil, "https://caltopo.com/m/TEST")
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(config.Config{}, newTestRace(t), stream.NewHub(nil))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}

func TestIngestPingAlwaysAcknowledges(t *testing.T) {
	s := newTestServer(t)

	bodies := []string{
		`not json at all`,
		`{}`,
		`{"Events":[]}`,
	}
	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/api/ping", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.App.Test(req)
		if err != nil {
			t.Fatalf("request error: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 for body %q, got %d", body, resp.StatusCode)
		}
	}
}

func TestRaceStats(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/api/race/stats", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	var stats race.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.RaceName != "test-race" {
		t.Fatalf("unexpected race name %q", stats.RaceName)
	}
	if stats.CourseLength <= 0 {
		t.Fatalf("expected positive course length, got %v", stats.CourseLength)
	}
	if len(stats.CourseElements) < 3 {
		t.Fatalf("expected start, leg, and finish elements, got %d", len(stats.CourseElements))
	}
}

func TestIngestPingAdvancesRunner(t *testing.T) {
	s := newTestServer(t)

	body := fmt.Sprintf(`{"Version":"2.0","Events":[{"imei":100000000000000,"messageCode":0,"timeStamp":%d,"point":{"latitude":39.004,"longitude":-76.0,"altitude":305,"gpsFix":2,"course":0,"speed":6.0},"status":{"autonomous":0,"lowBattery":0,"intervalChange":0,"resetDetected":0}}]}`,
		time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC).UnixMilli())
	req := httptest.NewRequest(http.MethodPost, "/api/ping", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	stats := s.Race.Stats()
	if stats.Pings != 1 {
		t.Fatalf("expected 1 ping, got %d", stats.Pings)
	}
	if stats.RunnerMileMark <= 0 {
		t.Fatalf("expected runner past the start, got %v", stats.RunnerMileMark)
	}
}
