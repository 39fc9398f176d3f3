package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const selectSiteSQL = `
    SELECT site_id FROM sites WHERE site_name = $1
`

const insertSiteSQL = `
    INSERT INTO sites (site_name, created_at, updated_at)
    VALUES ($1, NOW(), NOW())
    RETURNING site_id
`

// ResolveSite finds the site with the given name, creating it if absent.
// A concurrent first-contact insert losing the unique-constraint race falls
// back to re-reading the winner's row.
func (s *Store) ResolveSite(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, selectSiteSQL, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("lookup site %q: %w", name, err)
	}

	err = s.pool.QueryRow(ctx, insertSiteSQL, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if isUniqueViolation(err) {
		if rerr := s.pool.QueryRow(ctx, selectSiteSQL, name).Scan(&id); rerr == nil {
			return id, nil
		} else {
			return 0, fmt.Errorf("re-read site %q after conflict: %w", name, rerr)
		}
	}
	return 0, fmt.Errorf("create site %q: %w", name, err)
}

const selectSensorSQL = `
    SELECT sensor_id, device_id, site_id, sensor_type, firmware_version,
           latitude, longitude, altitude, is_active, created_at, updated_at
    FROM sensors
    WHERE device_id = $1
`

const insertSensorSQL = `
    INSERT INTO sensors (device_id, site_id, sensor_type, firmware_version, is_active, created_at, updated_at)
    VALUES ($1, $2, 'air_quality', $3, TRUE, NOW(), NOW())
    RETURNING sensor_id, device_id, site_id, sensor_type, firmware_version,
              latitude, longitude, altitude, is_active, created_at, updated_at
`

const updateSensorFirmwareSQL = `
    UPDATE sensors
    SET firmware_version = $2, updated_at = NOW()
    WHERE sensor_id = $1
`

// SensorParams carries the identity inputs for sensor resolution.
type SensorParams struct {
	DeviceID string
	SiteID   *int64
	Firmware string
}

// ResolveSensor finds the sensor with the given device id, creating it if
// absent. Firmware is the only field updated on an existing row, and only
// when the incoming value differs from the stored one.
func (s *Store) ResolveSensor(ctx context.Context, p SensorParams) (Sensor, error) {
	sensor, err := s.scanSensor(s.pool.QueryRow(ctx, selectSensorSQL, p.DeviceID))
	if err == nil {
		return s.maybeUpdateFirmware(ctx, sensor, p.Firmware)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Sensor{}, fmt.Errorf("lookup sensor %q: %w", p.DeviceID, err)
	}

	var firmware *string
	if p.Firmware != "" {
		firmware = &p.Firmware
	}
	sensor, err = s.scanSensor(s.pool.QueryRow(ctx, insertSensorSQL, p.DeviceID, p.SiteID, firmware))
	if err == nil {
		return sensor, nil
	}
	if isUniqueViolation(err) {
		sensor, rerr := s.scanSensor(s.pool.QueryRow(ctx, selectSensorSQL, p.DeviceID))
		if rerr != nil {
			return Sensor{}, fmt.Errorf("re-read sensor %q after conflict: %w", p.DeviceID, rerr)
		}
		return s.maybeUpdateFirmware(ctx, sensor, p.Firmware)
	}
	return Sensor{}, fmt.Errorf("create sensor %q: %w", p.DeviceID, err)
}

func (s *Store) maybeUpdateFirmware(ctx context.Context, sensor Sensor, firmware string) (Sensor, error) {
	if firmware == "" {
		return sensor, nil
	}
	if sensor.FirmwareVersion != nil && *sensor.FirmwareVersion == firmware {
		return sensor, nil
	}
	if _, err := s.pool.Exec(ctx, updateSensorFirmwareSQL, sensor.ID, firmware); err != nil {
		return Sensor{}, fmt.Errorf("update sensor %d firmware: %w", sensor.ID, err)
	}
	sensor.FirmwareVersion = &firmware
	return sensor, nil
}

func (s *Store) scanSensor(row pgx.Row) (Sensor, error) {
	var sensor Sensor
	err := row.Scan(
		&sensor.ID,
		&sensor.DeviceID,
		&sensor.SiteID,
		&sensor.SensorType,
		&sensor.FirmwareVersion,
		&sensor.Latitude,
		&sensor.Longitude,
		&sensor.Altitude,
		&sensor.IsActive,
		&sensor.CreatedAt,
		&sensor.UpdatedAt,
	)
	return sensor, err
}
