package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// ReadingRow is one stored reading joined to its sensor and site.
type ReadingRow struct {
	ID             int64     `json:"id"`
	SensorID       int64     `json:"sensor_id"`
	DeviceID       string    `json:"device_id"`
	SiteName       *string   `json:"site_name,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	PM1            *float64  `json:"pm1,omitempty"`
	PM25           *float64  `json:"pm25,omitempty"`
	PM10           *float64  `json:"pm10,omitempty"`
	CO2            *float64  `json:"co2,omitempty"`
	CO             *float64  `json:"co,omitempty"`
	O3             *float64  `json:"o3,omitempty"`
	NO2            *float64  `json:"no2,omitempty"`
	VOC            *float64  `json:"voc,omitempty"`
	CH2O           *float64  `json:"ch2o,omitempty"`
	Temperature    *float64  `json:"temperature,omitempty"`
	Humidity       *float64  `json:"humidity,omitempty"`
	Pressure       *float64  `json:"pressure,omitempty"`
	BatteryLevel   *float64  `json:"battery_level,omitempty"`
	SignalStrength *float64  `json:"signal_strength,omitempty"`
}

const readingColumns = `
        r.reading_id, r.sensor_id, s.device_id, st.site_name, r.ts,
        r.pm1, r.pm25, r.pm10, r.co2, r.co, r.o3, r.no2, r.voc, r.ch2o,
        r.temperature, r.humidity, r.pressure, r.battery_level, r.signal_strength
`

const latestReadingsSQL = `
    SELECT ` + readingColumns + `
    FROM sensor_readings r
    JOIN sensors s ON s.sensor_id = r.sensor_id
    LEFT JOIN sites st ON st.site_id = s.site_id
    WHERE s.is_active
    ORDER BY r.ts DESC
    LIMIT $1
`

// LatestReadings returns the most recent readings across all active sensors.
func (s *Store) LatestReadings(ctx context.Context, limit int) ([]ReadingRow, error) {
	rows, err := s.pool.Query(ctx, latestReadingsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("latest readings: %w", err)
	}
	return scanReadingRows(rows)
}

const deviceReadingsSQL = `
    SELECT ` + readingColumns + `
    FROM sensor_readings r
    JOIN sensors s ON s.sensor_id = r.sensor_id
    LEFT JOIN sites st ON st.site_id = s.site_id
    WHERE s.device_id = $1 AND r.ts >= $2 AND r.ts <= $3
    ORDER BY r.ts DESC
`

// DeviceReadings returns all readings for one device within an inclusive
// timestamp range, newest first.
func (s *Store) DeviceReadings(ctx context.Context, deviceID string, start, end time.Time) ([]ReadingRow, error) {
	rows, err := s.pool.Query(ctx, deviceReadingsSQL, deviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("device readings: %w", err)
	}
	return scanReadingRows(rows)
}

// Rollup is one time bucket of aggregated readings for a sensor.
type Rollup struct {
	Bucket      time.Time `json:"bucket"`
	AvgPM25     *float64  `json:"avg_pm25,omitempty"`
	MinPM25     *float64  `json:"min_pm25,omitempty"`
	MaxPM25     *float64  `json:"max_pm25,omitempty"`
	AvgPM10     *float64  `json:"avg_pm10,omitempty"`
	AvgCO2      *float64  `json:"avg_co2,omitempty"`
	AvgTemp     *float64  `json:"avg_temp,omitempty"`
	AvgHumidity *float64  `json:"avg_humidity,omitempty"`
	Count       int64     `json:"count"`
}

const rollupsSQL = `
    SELECT date_trunc($1, ts) AS bucket,
           AVG(pm25), MIN(pm25), MAX(pm25),
           AVG(pm10), AVG(co2), AVG(temperature), AVG(humidity),
           COUNT(*)
    FROM sensor_readings
    WHERE sensor_id = $2 AND ts >= $3 AND ts <= $4
    GROUP BY bucket
    ORDER BY bucket
`

// Rollups groups one sensor's readings into hour or day buckets. bucket must
// be "hour" or "day"; the caller validates it.
func (s *Store) Rollups(ctx context.Context, sensorID int64, bucket string, start, end time.Time) ([]Rollup, error) {
	rows, err := s.pool.Query(ctx, rollupsSQL, bucket, sensorID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s rollups: %w", bucket, err)
	}
	defer rows.Close()

	out := make([]Rollup, 0)
	for rows.Next() {
		var r Rollup
		if err := rows.Scan(
			&r.Bucket,
			&r.AvgPM25, &r.MinPM25, &r.MaxPM25,
			&r.AvgPM10, &r.AvgCO2, &r.AvgTemp, &r.AvgHumidity,
			&r.Count,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ThresholdQuery selects readings where any requested pollutant exceeds its
// threshold, optionally bounded by a date range.
type ThresholdQuery struct {
	PM25  *float64
	PM10  *float64
	CO2   *float64
	Start *time.Time
	End   *time.Time
}

// ThresholdReadings scans for exceedances, newest first.
func (s *Store) ThresholdReadings(ctx context.Context, q ThresholdQuery) ([]ReadingRow, error) {
	base := `
    SELECT ` + readingColumns + `
    FROM sensor_readings r
    JOIN sensors s ON s.sensor_id = r.sensor_id
    LEFT JOIN sites st ON st.site_id = s.site_id
    WHERE (`

	args := []any{}
	argPos := 1
	exceed := ""
	appendExceed := func(column string, threshold *float64) {
		if threshold == nil {
			return
		}
		if exceed != "" {
			exceed += " OR "
		}
		exceed += column + " > $" + strconv.Itoa(argPos)
		args = append(args, *threshold)
		argPos++
	}
	appendExceed("r.pm25", q.PM25)
	appendExceed("r.pm10", q.PM10)
	appendExceed("r.co2", q.CO2)
	if exceed == "" {
		return []ReadingRow{}, nil
	}

	clause := ""
	if q.Start != nil {
		clause += " AND r.ts >= $" + strconv.Itoa(argPos)
		args = append(args, *q.Start)
		argPos++
	}
	if q.End != nil {
		clause += " AND r.ts <= $" + strconv.Itoa(argPos)
		args = append(args, *q.End)
	}

	sql := base + exceed + ")" + clause + " ORDER BY r.ts DESC"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("threshold readings: %w", err)
	}
	return scanReadingRows(rows)
}

// BatteryRow is one low-battery reading for a sensor.
type BatteryRow struct {
	SensorID     int64     `json:"sensor_id"`
	DeviceID     string    `json:"device_id"`
	SiteName     *string   `json:"site_name,omitempty"`
	BatteryLevel float64   `json:"battery_level"`
	Timestamp    time.Time `json:"timestamp"`
}

const lowBatterySQL = `
    SELECT r.sensor_id, s.device_id, st.site_name, r.battery_level, r.ts
    FROM sensor_readings r
    JOIN sensors s ON s.sensor_id = r.sensor_id
    LEFT JOIN sites st ON st.site_id = s.site_id
    WHERE s.is_active AND r.battery_level IS NOT NULL AND r.battery_level < $1
    ORDER BY r.ts DESC
`

// LowBatteryReadings returns readings below the battery threshold, newest
// first, possibly several per sensor. The query service deduplicates.
func (s *Store) LowBatteryReadings(ctx context.Context, threshold float64) ([]BatteryRow, error) {
	rows, err := s.pool.Query(ctx, lowBatterySQL, threshold)
	if err != nil {
		return nil, fmt.Errorf("low battery readings: %w", err)
	}
	defer rows.Close()

	out := make([]BatteryRow, 0)
	for rows.Next() {
		var b BatteryRow
		if err := rows.Scan(&b.SensorID, &b.DeviceID, &b.SiteName, &b.BatteryLevel, &b.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const sensorsWithCoordsSQL = `
    SELECT s.sensor_id, s.device_id, s.site_id, s.sensor_type, s.firmware_version,
           s.latitude, s.longitude, s.altitude, s.is_active, s.created_at, s.updated_at
    FROM sensors s
    WHERE s.is_active AND s.latitude IS NOT NULL AND s.longitude IS NOT NULL
`

// SensorsWithCoordinates returns active sensors that have a known position.
func (s *Store) SensorsWithCoordinates(ctx context.Context) ([]Sensor, error) {
	rows, err := s.pool.Query(ctx, sensorsWithCoordsSQL)
	if err != nil {
		return nil, fmt.Errorf("sensors with coordinates: %w", err)
	}
	defer rows.Close()

	out := make([]Sensor, 0)
	for rows.Next() {
		sensor, err := s.scanSensor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sensor)
	}
	return out, rows.Err()
}

// HealthRecord is one stored device self-report.
type HealthRecord struct {
	ID             int64      `json:"id"`
	SensorID       int64      `json:"sensor_id"`
	CheckTimestamp time.Time  `json:"check_timestamp"`
	UptimeSeconds  *int64     `json:"uptime_seconds,omitempty"`
	BatteryLevel   *float64   `json:"battery_level,omitempty"`
	SignalStrength *float64   `json:"signal_strength,omitempty"`
	MemoryUsage    *int64     `json:"memory_usage,omitempty"`
	LastReboot     *time.Time `json:"last_reboot,omitempty"`
	HealthStatus   string     `json:"health_status"`
}

const healthRecordsSQL = `
    SELECT health_id, sensor_id, check_timestamp, uptime_seconds, battery_level,
           signal_strength, memory_usage, last_reboot, health_status
    FROM sensor_health
    WHERE sensor_id = $1 AND check_timestamp >= $2
    ORDER BY check_timestamp DESC
`

// HealthRecords returns one sensor's health reports since the given instant,
// newest first.
func (s *Store) HealthRecords(ctx context.Context, sensorID int64, since time.Time) ([]HealthRecord, error) {
	rows, err := s.pool.Query(ctx, healthRecordsSQL, sensorID, since)
	if err != nil {
		return nil, fmt.Errorf("health records: %w", err)
	}
	defer rows.Close()

	out := make([]HealthRecord, 0)
	for rows.Next() {
		var h HealthRecord
		if err := rows.Scan(
			&h.ID, &h.SensorID, &h.CheckTimestamp, &h.UptimeSeconds, &h.BatteryLevel,
			&h.SignalStrength, &h.MemoryUsage, &h.LastReboot, &h.HealthStatus,
		); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// LiveRow is the newest reading per active device, with position, feeding the
// live map endpoint.
type LiveRow struct {
	DeviceID  string
	SiteName  *string
	Latitude  *float64
	Longitude *float64
	Timestamp time.Time
	PM1       *float64
	PM25      *float64
	PM10      *float64
	CO2       *float64
	CO        *float64
	O3        *float64
	NO2       *float64
	VOC       *float64
	CH2O      *float64
	Temp      *float64
	Hum       *float64
}

const liveReadingsSQL = `
    SELECT DISTINCT ON (r.sensor_id)
        s.device_id, st.site_name, s.latitude, s.longitude, r.ts,
        r.pm1, r.pm25, r.pm10, r.co2, r.co, r.o3, r.no2, r.voc, r.ch2o,
        r.temperature, r.humidity
    FROM sensor_readings r
    JOIN sensors s ON s.sensor_id = r.sensor_id
    LEFT JOIN sites st ON st.site_id = s.site_id
    WHERE s.is_active
    ORDER BY r.sensor_id, r.ts DESC
    LIMIT $1
`

// LiveReadings returns the latest reading per active sensor.
func (s *Store) LiveReadings(ctx context.Context, limit int) ([]LiveRow, error) {
	rows, err := s.pool.Query(ctx, liveReadingsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("live readings: %w", err)
	}
	defer rows.Close()

	out := make([]LiveRow, 0)
	for rows.Next() {
		var l LiveRow
		if err := rows.Scan(
			&l.DeviceID, &l.SiteName, &l.Latitude, &l.Longitude, &l.Timestamp,
			&l.PM1, &l.PM25, &l.PM10, &l.CO2, &l.CO, &l.O3, &l.NO2, &l.VOC, &l.CH2O,
			&l.Temp, &l.Hum,
		); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanReadingRows(rows pgx.Rows) ([]ReadingRow, error) {
	defer rows.Close()

	out := make([]ReadingRow, 0)
	for rows.Next() {
		var r ReadingRow
		if err := rows.Scan(
			&r.ID, &r.SensorID, &r.DeviceID, &r.SiteName, &r.Timestamp,
			&r.PM1, &r.PM25, &r.PM10, &r.CO2, &r.CO, &r.O3, &r.NO2, &r.VOC, &r.CH2O,
			&r.Temperature, &r.Humidity, &r.Pressure, &r.BatteryLevel, &r.SignalStrength,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
