package caltopo

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/aaron-iles/ultra-tracker/internal/course"
	"github.com/aaron-iles/ultra-tracker/internal/geo"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("MAP01", "JSESSIONID=abc")
	c.BaseURL = srv.URL
	return c, srv
}

const mapFeaturesBody = `{
  "result": {
    "state": {
      "features": [
        {
          "id": "folder-1",
          "properties": {"class": "Folder", "title": "Live Tracking"}
        },
        {
          "id": "shape-1",
          "properties": {"class": "Shape", "title": "Route"},
          "geometry": {"type": "LineString", "coordinates": [[-76.77481, 39.25694], [-76.77265, 39.25633, 412.0]]}
        },
        {
          "id": "marker-1",
          "properties": {"class": "Marker", "title": "Tacoma Pass"},
          "geometry": {"type": "Point", "coordinates": [-121.3920, 47.2712]}
        }
      ]
    }
  }
}`

func TestMapFeatures(t *testing.T) {
	var gotPath, gotCookie string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCookie = r.Header.Get("Cookie")
		_, _ = w.Write([]byte(mapFeaturesBody))
	}))

	features, err := client.MapFeatures()
	if err != nil {
		t.Fatalf("MapFeatures error: %v", err)
	}
	if gotPath != "/api/v1/map/MAP01/since/0" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotCookie != "JSESSIONID=abc" {
		t.Fatalf("unexpected cookie %q", gotCookie)
	}

	if len(features.Shapes) != 1 {
		t.Fatalf("expected 1 shape, got %d", len(features.Shapes))
	}
	shape := features.Shapes[0]
	if shape.Title != "Route" || len(shape.Points) != 2 {
		t.Fatalf("unexpected shape %+v", shape)
	}
	if shape.Points[0].Lat != 39.25694 || shape.Points[0].Lon != -76.77481 {
		t.Fatalf("coordinates not swapped to lat/lon: %+v", shape.Points[0])
	}

	if len(features.Markers) != 1 {
		t.Fatalf("expected 1 marker, got %d", len(features.Markers))
	}
	marker := features.Markers[0]
	if marker.Title != "Tacoma Pass" || marker.Location.Lat != 47.2712 {
		t.Fatalf("unexpected marker %+v", marker)
	}
}

func TestMapFeaturesNestedShape(t *testing.T) {
	body := `{"result":{"state":{"features":[
		{"id":"s","properties":{"class":"Shape","title":"Area"},
		 "geometry":{"type":"Polygon","coordinates":[[[-75.1, 40.1],[-75.2, 40.2]]]}}
	]}}}`
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))

	features, err := client.MapFeatures()
	if err != nil {
		t.Fatalf("MapFeatures error: %v", err)
	}
	if len(features.Shapes) != 1 || len(features.Shapes[0].Points) != 2 {
		t.Fatalf("expected nested ring decoded, got %+v", features.Shapes)
	}
	if features.Shapes[0].Points[1].Lat != 40.2 {
		t.Fatalf("unexpected point %+v", features.Shapes[0].Points[1])
	}
}

func TestMapFeaturesHTTPError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	if _, err := client.MapFeatures(); err == nil {
		t.Fatalf("expected error on 403")
	}
}

func TestElevations(t *testing.T) {
	var gotForm url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dem/pointstats" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = r.PostForm
		_, _ = w.Write([]byte(`{"result":[[39.25694,-76.77481,100.0],[39.25633,-76.77265,200.0]]}`))
	}))

	elevs, err := client.Elevations([]geo.Point{
		{Lat: 39.25694, Lon: -76.77481},
		{Lat: 39.25633, Lon: -76.77265},
	})
	if err != nil {
		t.Fatalf("Elevations error: %v", err)
	}
	if len(elevs) != 2 {
		t.Fatalf("expected 2 elevations, got %d", len(elevs))
	}
	if elevs[0] != geo.MetersToFeet(100.0) {
		t.Fatalf("expected meters converted to feet, got %v", elevs[0])
	}

	var payload struct {
		Geometry struct {
			Type        string      `json:"type"`
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	}
	if err := json.Unmarshal([]byte(gotForm.Get("json")), &payload); err != nil {
		t.Fatalf("unmarshal form json: %v", err)
	}
	if payload.Geometry.Type != "LineString" {
		t.Fatalf("unexpected geometry type %q", payload.Geometry.Type)
	}
	// longitude first on the wire
	if payload.Geometry.Coordinates[0][0] != -76.77481 {
		t.Fatalf("expected lon first, got %v", payload.Geometry.Coordinates[0])
	}
}

func TestElevationsBadResult(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":[[1.0]]}`))
	}))
	if _, err := client.Elevations([]geo.Point{{Lat: 1, Lon: 2}}); err == nil {
		t.Fatalf("expected error for short result entry")
	}
}

func TestGetOrCreateMarkerExisting(t *testing.T) {
	client := NewClient("MAP01", "")
	features := course.MapFeatures{
		Markers: []course.Marker{{ID: "m-1", Title: "Aaron"}},
	}
	id, err := client.GetOrCreateMarker(features, "Aaron", geo.Point{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "m-1" {
		t.Fatalf("expected existing marker id, got %q", id)
	}
}

func TestGetOrCreateMarkerCreates(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"result":{"id":"m-new"}}`))
	}))

	id, err := client.GetOrCreateMarker(course.MapFeatures{}, "Aaron", geo.Point{Lat: 47.0, Lon: -121.0})
	if err != nil {
		t.Fatalf("GetOrCreateMarker error: %v", err)
	}
	if id != "m-new" {
		t.Fatalf("unexpected id %q", id)
	}
	if gotPath != "/api/v1/map/MAP01/Marker" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestUpdateMarker(t *testing.T) {
	var gotPath string
	var gotPayload markerPayload
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = r.ParseForm()
		_ = json.Unmarshal([]byte(r.PostForm.Get("json")), &gotPayload)
		_, _ = w.Write([]byte(`{}`))
	}))

	err := client.UpdateMarker("m-1", "Aaron", "desc", geo.Point{Lat: 47.0, Lon: -121.0}, 90)
	if err != nil {
		t.Fatalf("UpdateMarker error: %v", err)
	}
	if gotPath != "/api/v1/map/MAP01/Marker/m-1" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotPayload.Properties.Rotation != 90 {
		t.Fatalf("expected rotation forwarded, got %v", gotPayload.Properties.Rotation)
	}
	if gotPayload.Geometry.Coordinates[0] != -121.0 {
		t.Fatalf("expected lon first, got %v", gotPayload.Geometry.Coordinates)
	}
}

func TestMarkerUpdaterDispatch(t *testing.T) {
	var mu sync.Mutex
	var gotPayload markerPayload
	updated := make(chan struct{}, 1)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		_ = json.Unmarshal([]byte(r.PostForm.Get("json")), &gotPayload)
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
		updated <- struct{}{}
	}))

	worker := NewPostWorker(2, 8)
	defer worker.Stop()
	updater := NewMarkerUpdater(client, worker, "m-1", "Aaron")

	updater.UpdateRunnerMarkers(
		geo.Point{Lat: 47.001, Lon: -121.001},
		geo.Point{Lat: 47.0, Lon: -121.0},
		180,
	)

	select {
	case <-updated:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for marker update")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPayload.Properties.Rotation != 180 {
		t.Fatalf("unexpected rotation %v", gotPayload.Properties.Rotation)
	}
	if gotPayload.Geometry.Coordinates[1] != 47.0 {
		t.Fatalf("marker should sit at the estimated point, got %v", gotPayload.Geometry.Coordinates)
	}
}
