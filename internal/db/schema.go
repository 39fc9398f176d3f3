package db

import (
	"context"
	"fmt"
)

const createSitesSQL = `
CREATE TABLE IF NOT EXISTS sites (
    site_id          BIGSERIAL PRIMARY KEY,
    site_name        TEXT NOT NULL UNIQUE,
    city             TEXT,
    country          TEXT DEFAULT 'KZ',
    site_description TEXT,
    contact_person   TEXT,
    contact_email    TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createSensorsSQL = `
CREATE TABLE IF NOT EXISTS sensors (
    sensor_id             BIGSERIAL PRIMARY KEY,
    device_id             TEXT NOT NULL UNIQUE,
    site_id               BIGINT REFERENCES sites(site_id),
    sensor_type           TEXT NOT NULL,
    hardware_version      TEXT,
    firmware_version      TEXT,
    installation_date     TIMESTAMPTZ,
    last_calibration_date TIMESTAMPTZ,
    latitude              DOUBLE PRECISION,
    longitude             DOUBLE PRECISION,
    altitude              DOUBLE PRECISION,
    is_active             BOOLEAN NOT NULL DEFAULT TRUE,
    metadata_json         JSONB,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createReadingsSQL = `
CREATE TABLE IF NOT EXISTS sensor_readings (
    reading_id         BIGSERIAL PRIMARY KEY,
    sensor_id          BIGINT NOT NULL REFERENCES sensors(sensor_id),
    ts                 TIMESTAMPTZ NOT NULL,
    server_received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    pm1                DOUBLE PRECISION,
    pm25               DOUBLE PRECISION,
    pm10               DOUBLE PRECISION,
    co2                DOUBLE PRECISION,
    co                 DOUBLE PRECISION,
    o3                 DOUBLE PRECISION,
    no2                DOUBLE PRECISION,
    voc                DOUBLE PRECISION,
    ch2o               DOUBLE PRECISION,
    temperature        DOUBLE PRECISION,
    humidity           DOUBLE PRECISION,
    pressure           DOUBLE PRECISION,
    battery_level      DOUBLE PRECISION,
    signal_strength    DOUBLE PRECISION,
    error_code         TEXT,
    data_quality_score DOUBLE PRECISION,
    data_hash          TEXT NOT NULL
)`

const createHealthSQL = `
CREATE TABLE IF NOT EXISTS sensor_health (
    health_id       BIGSERIAL PRIMARY KEY,
    sensor_id       BIGINT NOT NULL REFERENCES sensors(sensor_id),
    check_timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    uptime_seconds  BIGINT,
    battery_level   DOUBLE PRECISION,
    signal_strength DOUBLE PRECISION,
    memory_usage    BIGINT,
    last_reboot     TIMESTAMPTZ,
    health_status   TEXT NOT NULL DEFAULT 'unknown'
)`

var schemaIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS sensor_readings_data_hash_idx ON sensor_readings (data_hash)`,
	`CREATE INDEX IF NOT EXISTS sensor_readings_sensor_ts_idx ON sensor_readings (sensor_id, ts DESC)`,
	`CREATE INDEX IF NOT EXISTS sensor_readings_ts_idx ON sensor_readings (ts DESC)`,
	`CREATE INDEX IF NOT EXISTS sensors_site_id_idx ON sensors (site_id)`,
	`CREATE INDEX IF NOT EXISTS sensor_health_sensor_ts_idx ON sensor_health (sensor_id, check_timestamp DESC)`,
}

// EnsureSchema applies the table and index definitions. Statements are
// idempotent so startup can run this unconditionally.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{createSitesSQL, createSensorsSQL, createReadingsSQL, createHealthSQL}
	stmts = append(stmts, schemaIndexes...)
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
