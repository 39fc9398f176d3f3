// Package query is the read-only aggregation layer over the reading store:
// rollups, proximity search, threshold scans and health summaries. Queries
// run concurrently with ingestion without extra coordination.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/tynys-aq/telemetry/internal/aqi"
	"github.com/tynys-aq/telemetry/internal/cache"
	"github.com/tynys-aq/telemetry/internal/db"
	"github.com/tynys-aq/telemetry/internal/geo"
)

// Store is the subset of db.Store the query layer reads from.
type Store interface {
	LatestReadings(ctx context.Context, limit int) ([]db.ReadingRow, error)
	DeviceReadings(ctx context.Context, deviceID string, start, end time.Time) ([]db.ReadingRow, error)
	Rollups(ctx context.Context, sensorID int64, bucket string, start, end time.Time) ([]db.Rollup, error)
	ThresholdReadings(ctx context.Context, q db.ThresholdQuery) ([]db.ReadingRow, error)
	LowBatteryReadings(ctx context.Context, threshold float64) ([]db.BatteryRow, error)
	SensorsWithCoordinates(ctx context.Context) ([]db.Sensor, error)
	HealthRecords(ctx context.Context, sensorID int64, since time.Time) ([]db.HealthRecord, error)
	LiveReadings(ctx context.Context, limit int) ([]db.LiveRow, error)
}

// Service exposes the aggregation queries.
type Service struct {
	store Store
	cache *cache.Cache
	log   *zap.Logger
	now   func() time.Time
}

// New constructs the query service. cache may be nil.
func New(store Store, c *cache.Cache, log *zap.Logger) *Service {
	return &Service{store: store, cache: c, log: log, now: time.Now}
}

// Latest returns the most recent readings across all active sensors.
func (s *Service) Latest(ctx context.Context, limit int) ([]db.ReadingRow, error) {
	return s.store.LatestReadings(ctx, limit)
}

// DeviceWindow returns one device's readings within an inclusive range.
func (s *Service) DeviceWindow(ctx context.Context, deviceID string, start, end time.Time) ([]db.ReadingRow, error) {
	return s.store.DeviceReadings(ctx, deviceID, start, end)
}

// Rollups returns hour or day buckets for one sensor over a date range.
func (s *Service) Rollups(ctx context.Context, sensorID int64, bucket string, start, end time.Time) ([]db.Rollup, error) {
	if bucket != "hour" && bucket != "day" {
		return nil, fmt.Errorf("invalid rollup bucket %q", bucket)
	}
	return s.store.Rollups(ctx, sensorID, bucket, start, end)
}

// Exceedances returns readings over any of the requested thresholds.
func (s *Service) Exceedances(ctx context.Context, q db.ThresholdQuery) ([]db.ReadingRow, error) {
	return s.store.ThresholdReadings(ctx, q)
}

// NearbySensor is a sensor annotated with its distance from a search center.
type NearbySensor struct {
	db.Sensor
	DistanceKm float64 `json:"distance_km"`
}

// Nearby returns sensors with known coordinates within radiusKm of the
// center, ordered by ascending great-circle distance.
func (s *Service) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]NearbySensor, error) {
	sensors, err := s.store.SensorsWithCoordinates(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]NearbySensor, 0, len(sensors))
	for _, sensor := range sensors {
		if sensor.Latitude == nil || sensor.Longitude == nil {
			continue
		}
		d := geo.Haversine(lat, lon, *sensor.Latitude, *sensor.Longitude)
		if d <= radiusKm {
			out = append(out, NearbySensor{Sensor: sensor, DistanceKm: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

// LowBattery returns the most recent low-battery reading per sensor.
// Rows arrive newest-first, so first-seen wins.
func (s *Service) LowBattery(ctx context.Context, threshold float64) ([]db.BatteryRow, error) {
	rows, err := s.store.LowBatteryReadings(ctx, threshold)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(rows))
	out := make([]db.BatteryRow, 0, len(rows))
	for _, row := range rows {
		if seen[row.SensorID] {
			continue
		}
		seen[row.SensorID] = true
		out = append(out, row)
	}
	return out, nil
}

// MapSensors returns the registered sensors that can be placed on a map.
func (s *Service) MapSensors(ctx context.Context) ([]db.Sensor, error) {
	return s.store.SensorsWithCoordinates(ctx)
}

// HealthSummary returns one sensor's health records over a trailing window.
func (s *Service) HealthSummary(ctx context.Context, sensorID int64, days int) ([]db.HealthRecord, error) {
	since := s.now().UTC().AddDate(0, 0, -days)
	return s.store.HealthRecords(ctx, sensorID, since)
}

// LiveRecord is one normalized live map entry: latest reading per device,
// with position and a computed AQI.
type LiveRecord struct {
	SensorID   string             `json:"sensor_id"`
	Site       string             `json:"site,omitempty"`
	Lat        float64            `json:"lat"`
	Lng        float64            `json:"lng"`
	AQI        int                `json:"aqi"`
	Category   string             `json:"category"`
	Timestamp  time.Time          `json:"timestamp"`
	Parameters map[string]float64 `json:"parameters"`
}

// LiveMap returns the live feed: the newest reading per positioned device,
// normalized for map display. Results are cached briefly when Redis is
// configured since every map client polls this on a short interval.
func (s *Service) LiveMap(ctx context.Context, limit int) ([]LiveRecord, error) {
	if data, ok := s.cache.GetLiveFeed(ctx); ok {
		var records []LiveRecord
		if err := json.Unmarshal(data, &records); err == nil {
			return records, nil
		}
		// Corrupt cache entry: fall through to the store.
	}

	rows, err := s.store.LiveReadings(ctx, limit)
	if err != nil {
		return nil, err
	}

	records := make([]LiveRecord, 0, len(rows))
	for _, row := range rows {
		// Entries without a usable position never reach map consumers.
		if row.Latitude == nil || row.Longitude == nil || !geo.Finite(*row.Latitude, *row.Longitude) {
			continue
		}
		pm25 := 0.0
		if row.PM25 != nil {
			pm25 = *row.PM25
		}
		value := aqi.FromPM25(pm25)
		rec := LiveRecord{
			SensorID:   row.DeviceID,
			Lat:        *row.Latitude,
			Lng:        *row.Longitude,
			AQI:        value,
			Category:   aqi.Category(value),
			Timestamp:  row.Timestamp,
			Parameters: liveParameters(row),
		}
		if row.SiteName != nil {
			rec.Site = *row.SiteName
		}
		records = append(records, rec)
	}

	if data, err := json.Marshal(records); err == nil {
		s.cache.SetLiveFeed(ctx, data)
	}
	return records, nil
}

func liveParameters(row db.LiveRow) map[string]float64 {
	params := make(map[string]float64)
	put := func(name string, v *float64) {
		if v != nil {
			params[name] = *v
		}
	}
	put("pm1", row.PM1)
	put("pm25", row.PM25)
	put("pm10", row.PM10)
	put("co2", row.CO2)
	put("co", row.CO)
	put("o3", row.O3)
	put("no2", row.NO2)
	put("voc", row.VOC)
	put("ch2o", row.CH2O)
	put("temp", row.Temp)
	put("hum", row.Hum)
	return params
}
