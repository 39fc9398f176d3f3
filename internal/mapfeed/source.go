// Package mapfeed reconciles live telemetry and registered-sensor feeds into
// one merged list for map display, polling on an adaptive interval.
package mapfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tynys-aq/telemetry/internal/geo"
)

// MapSensor is one normalized map entry, comparable across both feeds.
type MapSensor struct {
	ID         string             `json:"id"`
	Name       string             `json:"name,omitempty"`
	Site       string             `json:"site,omitempty"`
	Lat        float64            `json:"lat"`
	Lng        float64            `json:"lng"`
	AQI        int                `json:"aqi"`
	Owned      bool               `json:"owned"`
	Timestamp  time.Time          `json:"timestamp,omitempty"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
}

// Source is one upstream feed of map sensors.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]MapSensor, error)
}

// NewClient builds the shared HTTP client for API sources.
func NewClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}

type liveEnvelope struct {
	Success bool `json:"success"`
	Data    []struct {
		SensorID   string             `json:"sensor_id"`
		Site       string             `json:"site"`
		Lat        float64            `json:"lat"`
		Lng        float64            `json:"lng"`
		AQI        int                `json:"aqi"`
		Timestamp  time.Time          `json:"timestamp"`
		Parameters map[string]float64 `json:"parameters"`
	} `json:"data"`
}

type liveSource struct {
	client *resty.Client
}

// NewLiveSource reads the live readings feed.
func NewLiveSource(client *resty.Client) Source {
	return &liveSource{client: client}
}

func (s *liveSource) Name() string { return "live" }

func (s *liveSource) Fetch(ctx context.Context) ([]MapSensor, error) {
	var envelope liveEnvelope
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&envelope).
		Get("/api/v1/map/live")
	if err != nil {
		return nil, fmt.Errorf("fetch live feed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("live feed: unexpected status %s", resp.Status())
	}
	if !envelope.Success {
		return nil, fmt.Errorf("live feed: upstream reported failure")
	}

	out := make([]MapSensor, 0, len(envelope.Data))
	for _, rec := range envelope.Data {
		if !geo.Finite(rec.Lat, rec.Lng) {
			continue
		}
		out = append(out, MapSensor{
			ID:         rec.SensorID,
			Site:       rec.Site,
			Lat:        rec.Lat,
			Lng:        rec.Lng,
			AQI:        rec.AQI,
			Timestamp:  rec.Timestamp,
			Parameters: rec.Parameters,
		})
	}
	return out, nil
}

type sensorsEnvelope struct {
	Success bool `json:"success"`
	Data    []struct {
		DeviceID  string   `json:"device_id"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		IsActive  bool     `json:"is_active"`
	} `json:"data"`
}

type ownedSource struct {
	client *resty.Client
}

// NewOwnedSource reads the registered-sensor feed.
func NewOwnedSource(client *resty.Client) Source {
	return &ownedSource{client: client}
}

func (s *ownedSource) Name() string { return "owned" }

func (s *ownedSource) Fetch(ctx context.Context) ([]MapSensor, error) {
	var envelope sensorsEnvelope
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&envelope).
		Get("/api/v1/map/sensors")
	if err != nil {
		return nil, fmt.Errorf("fetch sensor feed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("sensor feed: unexpected status %s", resp.Status())
	}
	if !envelope.Success {
		return nil, fmt.Errorf("sensor feed: upstream reported failure")
	}

	out := make([]MapSensor, 0, len(envelope.Data))
	for _, rec := range envelope.Data {
		if rec.Latitude == nil || rec.Longitude == nil || !geo.Finite(*rec.Latitude, *rec.Longitude) {
			continue
		}
		out = append(out, MapSensor{
			ID:    rec.DeviceID,
			Lat:   *rec.Latitude,
			Lng:   *rec.Longitude,
			Owned: true,
		})
	}
	return out, nil
}
