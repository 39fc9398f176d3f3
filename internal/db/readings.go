package db

import (
	"context"
	"fmt"
	"time"
)

// NewReading is a validated, fingerprinted sample ready for insertion.
type NewReading struct {
	SensorID         int64
	Timestamp        time.Time
	PM1              *float64
	PM25             *float64
	PM10             *float64
	CO2              *float64
	CO               *float64
	O3               *float64
	NO2              *float64
	VOC              *float64
	CH2O             *float64
	Temperature      *float64
	Humidity         *float64
	Pressure         *float64
	BatteryLevel     *float64
	SignalStrength   *float64
	ErrorCode        *string
	DataQualityScore float64
	DataHash         string
}

const hasReadingSQL = `
    SELECT EXISTS (SELECT 1 FROM sensor_readings WHERE data_hash = $1)
`

// HasReading reports whether a reading with the given fingerprint exists.
func (s *Store) HasReading(ctx context.Context, hash string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, hasReadingSQL, hash).Scan(&exists); err != nil {
		return false, fmt.Errorf("check fingerprint: %w", err)
	}
	return exists, nil
}

const insertReadingSQL = `
    INSERT INTO sensor_readings (
        sensor_id, ts, server_received_at,
        pm1, pm25, pm10, co2, co, o3, no2, voc, ch2o,
        temperature, humidity, pressure,
        battery_level, signal_strength, error_code,
        data_quality_score, data_hash
    )
    VALUES ($1, $2, NOW(), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
    RETURNING reading_id
`

// InsertReading appends one reading row. A fingerprint collision with a
// concurrent insert surfaces as ErrDuplicateReading; the pre-insert
// HasReading check is only the fast path.
func (s *Store) InsertReading(ctx context.Context, r NewReading) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, insertReadingSQL,
		r.SensorID, r.Timestamp,
		r.PM1, r.PM25, r.PM10, r.CO2, r.CO, r.O3, r.NO2, r.VOC, r.CH2O,
		r.Temperature, r.Humidity, r.Pressure,
		r.BatteryLevel, r.SignalStrength, r.ErrorCode,
		r.DataQualityScore, r.DataHash,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateReading
		}
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	return id, nil
}

// NewHealthRecord is one periodic device self-report.
type NewHealthRecord struct {
	SensorID       int64
	CheckTimestamp time.Time
	UptimeSeconds  *int64
	BatteryLevel   *float64
	SignalStrength *float64
	MemoryUsage    *int64
	LastReboot     *time.Time
	HealthStatus   string
}

const insertHealthSQL = `
    INSERT INTO sensor_health (
        sensor_id, check_timestamp, uptime_seconds, battery_level,
        signal_strength, memory_usage, last_reboot, health_status
    )
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// InsertHealthRecord appends one health row.
func (s *Store) InsertHealthRecord(ctx context.Context, h NewHealthRecord) error {
	_, err := s.pool.Exec(ctx, insertHealthSQL,
		h.SensorID, h.CheckTimestamp, h.UptimeSeconds, h.BatteryLevel,
		h.SignalStrength, h.MemoryUsage, h.LastReboot, h.HealthStatus,
	)
	if err != nil {
		return fmt.Errorf("insert health record: %w", err)
	}
	return nil
}
