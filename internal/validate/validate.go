package validate

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Measurements is the fixed set of optional pollutant and environmental
// fields a device may report. Absent fields stay nil.
type Measurements struct {
	PM1      *float64 `json:"pm1,omitempty"`
	PM25     *float64 `json:"pm25,omitempty"`
	PM10     *float64 `json:"pm10,omitempty"`
	CO2      *float64 `json:"co2,omitempty"`
	CO       *float64 `json:"co,omitempty"`
	O3       *float64 `json:"o3,omitempty"`
	NO2      *float64 `json:"no2,omitempty"`
	VOC      *float64 `json:"voc,omitempty"`
	CH2O     *float64 `json:"ch2o,omitempty"`
	Temp     *float64 `json:"temp,omitempty"`
	Hum      *float64 `json:"hum,omitempty"`
	Pressure *float64 `json:"pressure,omitempty"`
}

// Metadata carries optional device health fields alongside a reading.
type Metadata struct {
	Battery   *float64 `json:"battery,omitempty"`
	Signal    *float64 `json:"signal,omitempty"`
	Firmware  string   `json:"firmware,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
}

// ReadingPayload is one candidate telemetry sample as posted by a device.
type ReadingPayload struct {
	DeviceID  string       `json:"device_id"`
	Site      string       `json:"site,omitempty"`
	Timestamp string       `json:"timestamp"`
	Readings  Measurements `json:"readings"`
	Metadata  *Metadata    `json:"metadata,omitempty"`
}

// Result is the outcome of validating one payload. Errors are fatal;
// warnings are advisory and never block ingestion.
type Result struct {
	Valid     bool
	Errors    []string
	Warnings  []string
	Timestamp time.Time
}

const (
	maxAge    = 5 * time.Minute
	maxFuture = time.Hour
	// Values in the top 10% of their range warn about near-saturation.
	warnFraction = 0.9
)

type fieldRange struct {
	min float64
	max float64
}

var valueRanges = map[string]fieldRange{
	"pm1":      {0, 1000},
	"pm25":     {0, 1000},
	"pm10":     {0, 1000},
	"co2":      {300, 5000},
	"co":       {0, 100},
	"o3":       {0, 500},
	"no2":      {0, 500},
	"voc":      {0, 100},
	"ch2o":     {0, 10},
	"temp":     {-40, 60},
	"hum":      {0, 100},
	"pressure": {800, 1200},
	"battery":  {0, 100},
	"signal":   {-120, 0},
}

// measurementFields preserves report order for deterministic error lists.
var measurementFields = []string{
	"pm1", "pm25", "pm10", "co2", "co", "o3", "no2", "voc", "ch2o",
	"temp", "hum", "pressure",
}

func (m *Measurements) field(name string) *float64 {
	switch name {
	case "pm1":
		return m.PM1
	case "pm25":
		return m.PM25
	case "pm10":
		return m.PM10
	case "co2":
		return m.CO2
	case "co":
		return m.CO
	case "o3":
		return m.O3
	case "no2":
		return m.NO2
	case "voc":
		return m.VOC
	case "ch2o":
		return m.CH2O
	case "temp":
		return m.Temp
	case "hum":
		return m.Hum
	case "pressure":
		return m.Pressure
	}
	return nil
}

// Empty reports whether no measurement field is present.
func (m *Measurements) Empty() bool {
	for _, name := range measurementFields {
		if m.field(name) != nil {
			return false
		}
	}
	return true
}

// Reading validates one candidate payload against structural, freshness and
// per-field range rules. It never touches storage. now is the server-observed
// current time.
func Reading(p *ReadingPayload, now time.Time) Result {
	res := Result{}

	if strings.TrimSpace(p.DeviceID) == "" {
		res.Errors = append(res.Errors, "device_id is required and must be a non-empty string")
	}

	if strings.TrimSpace(p.Timestamp) == "" {
		res.Errors = append(res.Errors, "timestamp is required and must be a string")
	} else {
		ts, err := checkTimestamp(p.Timestamp, now)
		if err != nil {
			res.Errors = append(res.Errors, "timestamp: "+err.Error())
		} else {
			res.Timestamp = ts
		}
	}

	if p.Readings.Empty() {
		res.Errors = append(res.Errors, "readings must contain at least one measurement")
	}

	for _, name := range measurementFields {
		checkRange(name, p.Readings.field(name), &res)
	}

	if p.Metadata != nil {
		checkRange("battery", p.Metadata.Battery, &res)
		checkRange("signal", p.Metadata.Signal, &res)
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func checkTimestamp(raw string, now time.Time) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp format")
	}
	if ts.Before(now.Add(-maxAge)) {
		return time.Time{}, fmt.Errorf("timestamp is too old (more than 5 minutes ago)")
	}
	if ts.After(now.Add(maxFuture)) {
		return time.Time{}, fmt.Errorf("timestamp is in the future (more than 1 hour ahead)")
	}
	return ts, nil
}

func checkRange(name string, value *float64, res *Result) {
	if value == nil {
		return
	}
	v := *value
	r := valueRanges[name]

	if math.IsNaN(v) || math.IsInf(v, 0) {
		res.Errors = append(res.Errors, fmt.Sprintf("%s must be a valid number", name))
		return
	}
	if v < r.min {
		res.Errors = append(res.Errors, fmt.Sprintf("%s (%.2f) is below minimum (%g)", name, v, r.min))
		return
	}
	if v > r.max {
		res.Errors = append(res.Errors, fmt.Sprintf("%s (%.2f) exceeds maximum (%g)", name, v, r.max))
		return
	}
	if v >= r.min+(r.max-r.min)*warnFraction {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s is near maximum range (%.2f of %g)", name, v, r.max))
	}
}
