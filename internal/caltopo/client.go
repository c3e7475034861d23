package caltopo

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aaron-iles/ultra-tracker/internal/course"
	"github.com/aaron-iles/ultra-tracker/internal/geo"
)

const defaultBaseURL = "https://caltopo.com"

// Client talks to the CalTopo API for one map: feature listing, the DEM
// elevation service, and marker updates. Authentication is the session
// cookie from a logged-in browser session.
type Client struct {
	BaseURL string
	MapID   string
	Cookie  string

	http *http.Client
}

func NewClient(mapID, cookie string) *Client {
	return &Client{
		BaseURL: defaultBaseURL,
		MapID:   mapID,
		Cookie:  cookie,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) headers(req *http.Request) {
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	if c.Cookie != "" {
		req.Header.Set("Cookie", c.Cookie)
	}
}

func (c *Client) get(endpoint string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+endpoint, nil)
	if err != nil {
		return err
	}
	c.headers(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("caltopo GET %s: status %d: %s", endpoint, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// post sends the payload the way the CalTopo API expects it: a form body
// with the JSON document under the "json" key.
func (c *Client) post(endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	form := url.Values{"json": {string(body)}}
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	c.headers(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("caltopo POST %s: status %d: %s", endpoint, resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type featureEnvelope struct {
	Result struct {
		State struct {
			Features []feature `json:"features"`
		} `json:"state"`
	} `json:"result"`
}

type feature struct {
	ID         string `json:"id"`
	Properties struct {
		Class string `json:"class"`
		Title string `json:"title"`
	} `json:"properties"`
	Geometry struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"geometry"`
}

// MapFeatures implements course.MapFeatureProvider: it fetches every feature
// on the map and classifies shapes and markers. CalTopo serves coordinates
// in longitude, latitude order; they are swapped here.
func (c *Client) MapFeatures() (course.MapFeatures, error) {
	var envelope featureEnvelope
	if err := c.get(fmt.Sprintf("/api/v1/map/%s/since/0", c.MapID), &envelope); err != nil {
		return course.MapFeatures{}, err
	}

	var features course.MapFeatures
	for _, f := range envelope.Result.State.Features {
		switch f.Properties.Class {
		case "Shape":
			points, err := decodeShapeCoordinates(f.Geometry.Coordinates)
			if err != nil {
				log.Printf("skipping shape %q: %v", f.Properties.Title, err)
				continue
			}
			features.Shapes = append(features.Shapes, course.Shape{
				ID:     f.ID,
				Title:  f.Properties.Title,
				Points: points,
			})
		case "Marker":
			var coords []float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &coords); err != nil || len(coords) < 2 {
				log.Printf("skipping marker %q: bad coordinates", f.Properties.Title)
				continue
			}
			features.Markers = append(features.Markers, course.Marker{
				ID:       f.ID,
				Title:    f.Properties.Title,
				Location: geo.Point{Lat: coords[1], Lon: coords[0]},
			})
		}
	}
	return features, nil
}

// decodeShapeCoordinates handles both a plain line ([[lon,lat,...], ...])
// and a one-level nested ring ([[[lon,lat], ...]]) geometry. Points may
// carry a third altitude element which is dropped.
func decodeShapeCoordinates(raw json.RawMessage) ([]geo.Point, error) {
	var line [][]float64
	if err := json.Unmarshal(raw, &line); err != nil {
		var rings [][][]float64
		if err := json.Unmarshal(raw, &rings); err != nil || len(rings) == 0 {
			return nil, fmt.Errorf("unrecognized coordinate geometry")
		}
		line = rings[0]
	}
	points := make([]geo.Point, 0, len(line))
	for _, pair := range line {
		if len(pair) < 2 {
			return nil, fmt.Errorf("coordinate with fewer than 2 elements")
		}
		points = append(points, geo.Point{Lat: pair[1], Lon: pair[0]})
	}
	return points, nil
}

type demResponse struct {
	Result [][]float64 `json:"result"`
}

// Elevations implements course.ElevationProvider via the CalTopo DEM point
// stats service. Values come back in meters and are converted to feet.
func (c *Client) Elevations(points []geo.Point) ([]float64, error) {
	coordinates := make([][]float64, len(points))
	for i, p := range points {
		coordinates[i] = []float64{p.Lon, p.Lat}
	}
	payload := map[string]any{
		"geometry": map[string]any{
			"type":        "LineString",
			"coordinates": coordinates,
		},
	}

	var resp demResponse
	if err := c.post("/dem/pointstats", payload, &resp); err != nil {
		return nil, err
	}

	elevations := make([]float64, 0, len(resp.Result))
	for _, triple := range resp.Result {
		if len(triple) < 3 {
			return nil, fmt.Errorf("dem result entry with fewer than 3 elements")
		}
		elevations = append(elevations, geo.MetersToFeet(triple[2]))
	}
	return elevations, nil
}

type markerPayload struct {
	Type       string           `json:"type"`
	ID         string           `json:"id,omitempty"`
	Geometry   markerGeometry   `json:"geometry"`
	Properties markerProperties `json:"properties"`
}

type markerGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type markerProperties struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	MarkerSize   string  `json:"marker-size"`
	MarkerSymbol string  `json:"marker-symbol"`
	MarkerColor  string  `json:"marker-color"`
	Rotation     float64 `json:"marker-rotation"`
	Class        string  `json:"class"`
}

func newMarkerPayload(id, title, description string, pt geo.Point, rotation float64) markerPayload {
	return markerPayload{
		Type: "Feature",
		ID:   id,
		Geometry: markerGeometry{
			Type:        "Point",
			Coordinates: []float64{pt.Lon, pt.Lat},
		},
		Properties: markerProperties{
			Title:        title,
			Description:  description,
			MarkerSize:   "1.5",
			MarkerSymbol: "a:4",
			MarkerColor:  "A200FF",
			Rotation:     rotation,
			Class:        "Marker",
		},
	}
}

type createResponse struct {
	Result struct {
		ID string `json:"id"`
	} `json:"result"`
}

// GetOrCreateMarker returns the ID of the marker with the given title,
// creating it at the given location when the map has none.
func (c *Client) GetOrCreateMarker(features course.MapFeatures, title string, at geo.Point) (string, error) {
	for _, m := range features.Markers {
		if m.Title == title {
			return m.ID, nil
		}
	}

	payload := newMarkerPayload("", title, "", at, 0)
	var resp createResponse
	endpoint := fmt.Sprintf("/api/v1/map/%s/Marker", c.MapID)
	if err := c.post(endpoint, payload, &resp); err != nil {
		return "", err
	}
	if resp.Result.ID == "" {
		return "", fmt.Errorf("caltopo returned no marker id for %q", title)
	}
	return resp.Result.ID, nil
}

// UpdateMarker moves an existing marker, sets its rotation, and replaces
// its description.
func (c *Client) UpdateMarker(markerID, title, description string, pt geo.Point, rotation float64) error {
	endpoint := fmt.Sprintf("/api/v1/map/%s/Marker/%s", c.MapID, markerID)
	return c.post(endpoint, newMarkerPayload(markerID, title, description, pt, rotation), nil)
}

// MarkerUpdater moves the runner marker as fixes arrive. Updates are
// dispatched through the post worker so a slow CalTopo round trip never
// delays ping handling.
type MarkerUpdater struct {
	client   *Client
	worker   *PostWorker
	markerID string
	title    string
}

func NewMarkerUpdater(client *Client, worker *PostWorker, markerID, title string) *MarkerUpdater {
	return &MarkerUpdater{client: client, worker: worker, markerID: markerID, title: title}
}

// UpdateRunnerMarkers implements the race marker boundary. The marker is
// placed at the on-route estimate; the raw fix is linked in the description.
func (m *MarkerUpdater) UpdateRunnerMarkers(actual, estimated geo.Point, heading float64) {
	description := "Last fix: " + geo.GmapsURL(actual)
	m.worker.Enqueue(func() {
		if err := m.client.UpdateMarker(m.markerID, m.title, description, estimated, heading); err != nil {
			log.Printf("marker update failed: %v", err)
		}
	})
}
