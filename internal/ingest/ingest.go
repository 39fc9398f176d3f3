// Package ingest implements the telemetry write pipeline: validate,
// fingerprint, duplicate-check, identity-resolve, insert. Each call is
// stateless and request-scoped; the store is the only shared resource.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tynys-aq/telemetry/internal/cache"
	"github.com/tynys-aq/telemetry/internal/db"
	"github.com/tynys-aq/telemetry/internal/validate"
)

// Store is the subset of db.Store the pipeline writes through.
type Store interface {
	HasReading(ctx context.Context, hash string) (bool, error)
	ResolveSite(ctx context.Context, name string) (int64, error)
	ResolveSensor(ctx context.Context, p db.SensorParams) (db.Sensor, error)
	InsertReading(ctx context.Context, r db.NewReading) (int64, error)
	InsertHealthRecord(ctx context.Context, h db.NewHealthRecord) error
}

// ValidationError carries the ordered rule violations for a rejected payload.
type ValidationError struct {
	Errors   []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// Outcome reports the result of one accepted ingestion call.
type Outcome struct {
	Duplicate bool
	ReadingID int64
	SensorID  int64
	DeviceID  string
	Timestamp string
	Warnings  []string
}

// Service runs the ingestion pipeline.
type Service struct {
	store Store
	cache *cache.Cache
	log   *zap.Logger
	now   func() time.Time
}

// New constructs the ingestion service. cache may be nil.
func New(store Store, c *cache.Cache, log *zap.Logger) *Service {
	return &Service{store: store, cache: c, log: log, now: time.Now}
}

// Ingest processes one candidate reading. It returns a *ValidationError for
// client input faults; any other error is an infrastructure failure. A
// duplicate fingerprint is a successful no-op outcome, not an error.
func (s *Service) Ingest(ctx context.Context, p *validate.ReadingPayload) (Outcome, error) {
	res := validate.Reading(p, s.now().UTC())
	if !res.Valid {
		return Outcome{}, &ValidationError{Errors: res.Errors, Warnings: res.Warnings}
	}

	hash := validate.Fingerprint(p)

	dup, err := s.store.HasReading(ctx, hash)
	if err != nil {
		return Outcome{}, fmt.Errorf("duplicate check: %w", err)
	}
	if dup {
		return Outcome{Duplicate: true, DeviceID: p.DeviceID, Timestamp: p.Timestamp, Warnings: res.Warnings}, nil
	}

	var siteID *int64
	if strings.TrimSpace(p.Site) != "" {
		id, err := s.store.ResolveSite(ctx, p.Site)
		if err != nil {
			return Outcome{}, fmt.Errorf("resolve site: %w", err)
		}
		siteID = &id
	}

	var firmware string
	if p.Metadata != nil {
		firmware = p.Metadata.Firmware
	}
	sensor, err := s.store.ResolveSensor(ctx, db.SensorParams{
		DeviceID: p.DeviceID,
		SiteID:   siteID,
		Firmware: firmware,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve sensor: %w", err)
	}

	reading := buildReading(sensor.ID, res.Timestamp, p, hash, qualityScore(res.Warnings))
	readingID, err := s.store.InsertReading(ctx, reading)
	if errors.Is(err, db.ErrDuplicateReading) {
		// Lost the race against a concurrent retry of the same sample.
		return Outcome{Duplicate: true, DeviceID: p.DeviceID, Timestamp: p.Timestamp, Warnings: res.Warnings}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("insert reading: %w", err)
	}

	if p.Metadata != nil && (p.Metadata.Battery != nil || p.Metadata.Signal != nil) {
		health := db.NewHealthRecord{
			SensorID:       sensor.ID,
			CheckTimestamp: res.Timestamp,
			BatteryLevel:   p.Metadata.Battery,
			SignalStrength: p.Metadata.Signal,
			HealthStatus:   healthStatus(p.Metadata.Battery, p.Metadata.Signal),
		}
		if err := s.store.InsertHealthRecord(ctx, health); err != nil {
			// The reading is already durable; a failed health append is not
			// worth failing the whole call over.
			s.log.Warn("health record insert failed",
				zap.String("device_id", p.DeviceID), zap.Error(err))
		}
	}

	s.cache.InvalidateLiveFeed(ctx)

	return Outcome{
		ReadingID: readingID,
		SensorID:  sensor.ID,
		DeviceID:  p.DeviceID,
		Timestamp: p.Timestamp,
		Warnings:  res.Warnings,
	}, nil
}

func buildReading(sensorID int64, ts time.Time, p *validate.ReadingPayload, hash string, score float64) db.NewReading {
	r := db.NewReading{
		SensorID:         sensorID,
		Timestamp:        ts,
		PM1:              p.Readings.PM1,
		PM25:             p.Readings.PM25,
		PM10:             p.Readings.PM10,
		CO2:              p.Readings.CO2,
		CO:               p.Readings.CO,
		O3:               p.Readings.O3,
		NO2:              p.Readings.NO2,
		VOC:              p.Readings.VOC,
		CH2O:             p.Readings.CH2O,
		Temperature:      p.Readings.Temp,
		Humidity:         p.Readings.Hum,
		Pressure:         p.Readings.Pressure,
		DataQualityScore: score,
		DataHash:         hash,
	}
	if p.Metadata != nil {
		r.BatteryLevel = p.Metadata.Battery
		r.SignalStrength = p.Metadata.Signal
		if p.Metadata.ErrorCode != "" {
			code := p.Metadata.ErrorCode
			r.ErrorCode = &code
		}
	}
	return r
}

// qualityScore penalizes each near-saturation warning; a warning-free sample
// scores 1.0, and the floor is 0.5.
func qualityScore(warnings []string) float64 {
	score := 1.0 - 0.1*float64(len(warnings))
	if score < 0.5 {
		return 0.5
	}
	return score
}

func healthStatus(battery, signal *float64) string {
	if (battery != nil && *battery < 10) || (signal != nil && *signal < -110) {
		return "critical"
	}
	if (battery != nil && *battery < 25) || (signal != nil && *signal < -100) {
		return "degraded"
	}
	return "ok"
}
